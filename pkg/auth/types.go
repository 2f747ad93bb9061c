// Package auth keeps a Lightspeed bearer token valid.
//
// A Manager holds the account credentials and the current access token. It
// refreshes the token lazily through the OAuth refresh-token grant when the
// stored token has expired, and can perform the one-shot authorization-code
// grant used when an account is first connected.
package auth

import "time"

// DefaultTokenURL is the Lightspeed OAuth token endpoint.
const DefaultTokenURL = "https://cloud.lightspeedapp.com/oauth/access_token.php"

// Grant types supported by the token endpoint.
const (
	GrantRefreshToken      = "refresh_token"
	GrantAuthorizationCode = "authorization_code"
)

// Credentials identify the API client and the account it acts for.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
	AccountID    string `json:"account_id"`
}

// Token is a bearer token with its absolute expiry.
type Token struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry"`
}

// Valid reports whether the token can be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.Expiry)
}

// tokenResponse is the token endpoint's JSON body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    *int64 `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}
