// Package testutil provides testing utilities for the Lightspeed client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// TokenPath is the path of the mock OAuth token endpoint.
const TokenPath = "/oauth/access_token.php"

// APIPrefix is the path of the API root. The client appends the account ID.
const APIPrefix = "/API/V3/Account/"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockLightspeed is a configurable mock Lightspeed server for testing. It
// serves the token endpoint and any resource path registered on it.
type MockLightspeed struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// AccessToken is issued by the token endpoint.
	AccessToken string
	// ExpiresIn is the lifetime reported with every issued token.
	ExpiresIn int
	// TokenStatus, when set, makes the token endpoint fail with that status.
	TokenStatus int

	// Tracking
	RequestCount      int
	TokenRequestCount int
	LastRequestHeader http.Header
	LastRequestBody   string
}

// NewMockLightspeed creates a new mock Lightspeed server.
func NewMockLightspeed() *MockLightspeed {
	mock := &MockLightspeed{
		handlers:    make(map[string]func(w http.ResponseWriter, r *http.Request)),
		AccessToken: "mock-access-token",
		ExpiresIn:   3600,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == TokenPath {
			mock.tokenHandler(w, r)
			return
		}

		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.LastRequestBody = string(body)
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"httpCode":"404","message":"Not found"}`)) //nolint:errcheck
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockLightspeed) URL() string {
	return m.server.URL
}

// APIURL returns the API root to use as client APIURL.
func (m *MockLightspeed) APIURL() string {
	return m.server.URL + APIPrefix
}

// TokenURL returns the token endpoint URL.
func (m *MockLightspeed) TokenURL() string {
	return m.server.URL + TokenPath
}

// ResourcePath returns the path of resource for accountID.
func ResourcePath(accountID, resource string) string {
	return APIPrefix + accountID + "/" + resource + ".json"
}

// Close shuts down the mock server.
func (m *MockLightspeed) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockLightspeed) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.TokenRequestCount = 0
	m.LastRequestHeader = nil
	m.LastRequestBody = ""
}

// SetHandler sets a custom handler for a specific path.
func (m *MockLightspeed) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockLightspeed) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetSequence answers consecutive requests to path with responses in order.
// The last response repeats once the sequence is used up.
func (m *MockLightspeed) SetSequence(path string, responses ...MockResponse) {
	var (
		mu sync.Mutex
		i  int
	)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[min(i, len(responses)-1)]
		i++
		mu.Unlock()
		writeResponse(w, resp)
	})
}

// GetRequestCount returns the number of resource requests made to the server.
func (m *MockLightspeed) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetTokenRequestCount returns the number of token grants served.
func (m *MockLightspeed) GetTokenRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TokenRequestCount
}

// SetTokenStatus makes the token endpoint fail with status. Zero restores
// normal grants.
func (m *MockLightspeed) SetTokenStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokenStatus = status
}

// GetLastRequestBody returns the body of the last resource request.
func (m *MockLightspeed) GetLastRequestBody() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestBody
}

// GetLastRequestHeader returns the headers of the last resource request.
func (m *MockLightspeed) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

func (m *MockLightspeed) tokenHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.TokenRequestCount++
	token, expiresIn, status := m.AccessToken, m.ExpiresIn, m.TokenStatus
	m.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		w.Write([]byte(`{"error":"invalid_grant"}`)) //nolint:errcheck
		return
	}

	if err := r.ParseForm(); err != nil || r.PostForm.Get("client_id") == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_request"}`)) //nolint:errcheck
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"access_token":  token,
		"expires_in":    expiresIn,
		"token_type":    "bearer",
		"scope":         "employee:all",
		"refresh_token": "mock-refresh-token",
	})
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body)) //nolint:errcheck
	}
}

// NewOKResponse creates a 200 OK response carrying bucket headers.
func NewOKResponse(body string, requested, total int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"X-LS-API-Bucket-Level": fmt.Sprintf("%d/%d", requested, total),
			"X-LS-API-Drip-Rate":    "1",
			"Content-Type":          "application/json",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"httpCode":"429","message":"Rate Limit Exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  "3",
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"httpCode":"500","message":"Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// PageBody renders a Lightspeed list page with resource items and an
// optional next link.
func PageBody(resource string, items []map[string]any, next string) string {
	page := map[string]any{
		"@attributes": map[string]any{
			"count":    fmt.Sprint(len(items)),
			"next":     next,
			"previous": "",
		},
		resource: items,
	}
	data, _ := json.Marshal(page)
	return string(data)
}
