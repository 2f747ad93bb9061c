package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/lightspeed-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	// ErrTokenRefresh is returned when the token endpoint cannot produce a token.
	ErrTokenRefresh = errors.New("token refresh failed")

	// ErrAuthorizationCode is returned when the authorization-code grant fails.
	ErrAuthorizationCode = errors.New("authorization code exchange failed")
)

var tokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lightspeed_token_refreshes_total",
	Help: "Total token endpoint calls by grant type and result",
}, []string{"grant_type", "result"})

// Manager keeps the bearer token of one account valid.
type Manager struct {
	mu     sync.Mutex
	creds  Credentials
	token  Token
	logger zerolog.Logger

	httpClient *http.Client
	tokenURL   string
	store      Store
	now        func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = c }
}

// WithTokenURL overrides the token endpoint.
func WithTokenURL(u string) ManagerOption {
	return func(m *Manager) { m.tokenURL = u }
}

// WithStore persists tokens in s.
func WithStore(s Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a token manager. The initial token is expired, so the
// first EnsureValidToken performs a refresh unless the store holds a valid one.
func NewManager(ctx context.Context, creds Credentials, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		creds:      creds,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokenURL:   DefaultTokenURL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.store != nil {
		m.restore(ctx)
	}
	return m
}

// restore seeds the manager from the store. Failures are logged only.
func (m *Manager) restore(ctx context.Context) {
	saved, err := m.store.Load(ctx, m.creds.AccountID)
	if err != nil {
		if !errors.Is(err, ErrNotStored) {
			m.logger.Warn().Err(err).Msg("Failed to load stored token")
		}
		return
	}

	if saved.RefreshToken != "" {
		m.creds.RefreshToken = saved.RefreshToken
	}
	if saved.Token.Valid(m.now()) {
		m.token = saved.Token
		m.logger.Debug().Time("expiry", saved.Token.Expiry).Msg("Restored stored token")
	}
}

// Credentials returns the current credentials, including a rotated refresh token.
func (m *Manager) Credentials() Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds
}

// Token returns a snapshot of the current bearer token.
func (m *Manager) Token() Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Invalidate expires the current token so the next call refreshes it.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token.Expiry = time.Time{}
}

// EnsureValidToken returns the stored token while now is before its expiry
// and otherwise refreshes it through the refresh-token grant. On failure the
// previous token is left in place and an error wrapping ErrTokenRefresh is
// returned.
func (m *Manager) EnsureValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Before(m.token.Expiry) {
		return m.token.AccessToken, nil
	}

	resp, err := m.requestToken(ctx, GrantRefreshToken, nil)
	if err != nil {
		tokenRefreshesTotal.WithLabelValues(GrantRefreshToken, "error").Inc()
		m.logger.Error().Err(err).Msg("Token refresh failed")
		return "", fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}
	if resp.ExpiresIn == nil {
		tokenRefreshesTotal.WithLabelValues(GrantRefreshToken, "error").Inc()
		m.logger.Error().Msg("Token refresh response missing expires_in")
		return "", fmt.Errorf("%w: response missing expires_in", ErrTokenRefresh)
	}

	m.token = Token{
		AccessToken: resp.AccessToken,
		Expiry:      now.Add(time.Duration(*resp.ExpiresIn) * time.Second),
	}
	tokenRefreshesTotal.WithLabelValues(GrantRefreshToken, "success").Inc()

	m.logger.Info().
		Str("token", logging.Redact(resp.AccessToken)).
		Int64("expires_in", *resp.ExpiresIn).
		Msg("Access token refreshed")

	m.persist(ctx)
	return m.token.AccessToken, nil
}

// ExchangeAuthorizationCode performs the authorization-code grant and
// returns the refresh token issued for the account. The returned access
// token becomes the session token but carries no expiry, so the next
// EnsureValidToken still refreshes it.
func (m *Manager) ExchangeAuthorizationCode(ctx context.Context, code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp, err := m.requestToken(ctx, GrantAuthorizationCode, url.Values{"code": {code}})
	if err != nil {
		tokenRefreshesTotal.WithLabelValues(GrantAuthorizationCode, "error").Inc()
		m.logger.Error().Err(err).Msg("Authorization code exchange failed")
		return "", fmt.Errorf("%w: %v", ErrAuthorizationCode, err)
	}
	if resp.RefreshToken == "" {
		tokenRefreshesTotal.WithLabelValues(GrantAuthorizationCode, "error").Inc()
		return "", fmt.Errorf("%w: response missing refresh_token", ErrAuthorizationCode)
	}

	m.token = Token{AccessToken: resp.AccessToken}
	m.creds.RefreshToken = resp.RefreshToken
	tokenRefreshesTotal.WithLabelValues(GrantAuthorizationCode, "success").Inc()

	m.logger.Info().Msg("Authorization code exchanged")

	m.persist(ctx)
	return resp.RefreshToken, nil
}

// requestToken posts a grant to the token endpoint. The caller holds m.mu.
func (m *Manager) requestToken(ctx context.Context, grantType string, extra url.Values) (*tokenResponse, error) {
	form := url.Values{
		"refresh_token": {m.creds.RefreshToken},
		"client_secret": {m.creds.ClientSecret},
		"client_id":     {m.creds.ClientID},
		"grant_type":    {grantType},
	}
	for k, v := range extra {
		form[k] = v
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response (status %d): %w", resp.StatusCode, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned status %d without access_token", resp.StatusCode)
	}

	return &tr, nil
}

// persist saves the current token and refresh token. The caller holds m.mu.
func (m *Manager) persist(ctx context.Context) {
	if m.store == nil {
		return
	}
	saved := Saved{Token: m.token, RefreshToken: m.creds.RefreshToken}
	if err := m.store.Save(ctx, m.creds.AccountID, saved); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to persist token")
	}
}
