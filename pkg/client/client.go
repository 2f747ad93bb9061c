// Package client provides the Lightspeed Retail API client with token
// refresh, leaky-bucket rate limiting, 429 retries and cursor pagination.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/lightspeed-client/pkg/auth"
	"github.com/Sternrassler/lightspeed-client/pkg/logging"
	"github.com/Sternrassler/lightspeed-client/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultAPIURL is the account-scoped root of the Lightspeed Retail API.
const DefaultAPIURL = "https://api.lightspeedapp.com/API/V3/Account/"

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightspeed_requests_total",
		Help: "Total Lightspeed requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lightspeed_request_duration_seconds",
		Help:    "Lightspeed dispatch duration in seconds by method, including waits and retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightspeed_errors_total",
		Help: "Total Lightspeed errors by class",
	}, []string{"class"})
)

// ErrorMode selects how non-2xx responses are reported.
type ErrorMode int

const (
	// ErrorModeFailOpen logs non-2xx responses and returns their body with
	// a nil error. Callers must inspect the body to detect failures.
	ErrorModeFailOpen ErrorMode = iota

	// ErrorModeStrict returns the body together with an *APIError.
	ErrorModeStrict
)

// String returns the configuration name of the mode.
func (m ErrorMode) String() string {
	if m == ErrorModeStrict {
		return "strict"
	}
	return "fail-open"
}

// ParseErrorMode converts "strict" or "fail-open" into an ErrorMode.
func ParseErrorMode(s string) (ErrorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-open", "failopen", "legacy":
		return ErrorModeFailOpen, nil
	case "strict":
		return ErrorModeStrict, nil
	default:
		return ErrorModeFailOpen, fmt.Errorf("unknown error mode %q", s)
	}
}

// Client is the Lightspeed API client. It owns the token and bucket state
// of one account.
type Client struct {
	httpClient  *http.Client
	tokens      *auth.Manager
	rateLimiter *ratelimit.Tracker
	config      Config
	baseURL     string
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Credentials of the API client and account (REQUIRED)
	Credentials auth.Credentials

	// Endpoints
	APIURL   string // Account-scoped API root, account ID is appended
	TokenURL string // OAuth token endpoint

	// Transport
	HTTPTimeout time.Duration
	UserAgent   string

	// Token persistence (optional). TokenStore wins over Redis.
	Redis      *redis.Client
	TokenStore auth.Store

	// Error reporting for non-2xx responses
	ErrorMode ErrorMode

	// Retry on 429
	Retry RetryConfig

	// Bucket state until the first response reports it
	InitialAvailability float64
	InitialDripRate     float64

	// LogRequests logs method, URL and body of every dispatch
	LogRequests bool
}

// DefaultConfig returns the default configuration for creds.
func DefaultConfig(creds auth.Credentials) Config {
	return Config{
		Credentials:         creds,
		APIURL:              DefaultAPIURL,
		TokenURL:            auth.DefaultTokenURL,
		HTTPTimeout:         30 * time.Second,
		ErrorMode:           ErrorModeFailOpen,
		Retry:               DefaultRetryConfig(),
		InitialAvailability: ratelimit.DefaultAvailability,
		InitialDripRate:     ratelimit.DefaultDripRate,
	}
}

func componentLogger(component, accountID string) zerolog.Logger {
	return logging.NewLogger(component).With().Str("account_id", accountID).Logger()
}

// New creates a new Lightspeed client.
func New(cfg Config) (*Client, error) {
	if cfg.Credentials.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}

	if cfg.Credentials.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	if cfg.Credentials.AccountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	if cfg.Retry.Cooldown < 0 {
		return nil, fmt.Errorf("retry cooldown must not be negative (got %s)", cfg.Retry.Cooldown)
	}

	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = auth.DefaultTokenURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.InitialDripRate <= 0 {
		cfg.InitialDripRate = ratelimit.DefaultDripRate
	}

	logger := componentLogger("lightspeed-client", cfg.Credentials.AccountID)

	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	store := cfg.TokenStore
	if store == nil && cfg.Redis != nil {
		store = auth.NewRedisStore(cfg.Redis)
	}

	managerOpts := []auth.ManagerOption{
		auth.WithTokenURL(cfg.TokenURL),
		auth.WithHTTPClient(httpClient),
	}
	if store != nil {
		managerOpts = append(managerOpts, auth.WithStore(store))
	}
	tokens := auth.NewManager(context.Background(), cfg.Credentials,
		componentLogger("lightspeed-auth", cfg.Credentials.AccountID), managerOpts...)

	rateLimiter := ratelimit.NewTracker(
		componentLogger("lightspeed-ratelimit", cfg.Credentials.AccountID),
		ratelimit.WithInitialState(cfg.InitialAvailability, cfg.InitialDripRate),
	)

	return &Client{
		httpClient:  httpClient,
		tokens:      tokens,
		rateLimiter: rateLimiter,
		config:      cfg,
		baseURL:     strings.TrimSuffix(cfg.APIURL, "/") + "/" + cfg.Credentials.AccountID + "/",
		logger:      logger,
	}, nil
}

// Response is the outcome of one dispatched request.
type Response struct {
	StatusCode int
	Header     http.Header

	// Body is the JSON body, nil when the response had none.
	Body json.RawMessage

	// Attempts is the number of HTTP calls made, retries included.
	Attempts int
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("decode response: empty body")
	}
	return json.Unmarshal(r.Body, v)
}

// Dispatch performs one logical request: it waits for bucket clearance,
// attaches a valid bearer token, retries on 429 and records the bucket
// headers of a successful response.
//
// Transport failures return an *APIError of class network. Non-2xx
// responses return their body; in ErrorModeStrict an *APIError is returned
// alongside it.
func (c *Client) Dispatch(ctx context.Context, method, url string, body []byte) (*Response, error) {
	logger := c.logger.With().
		Str("request_id", uuid.NewString()).
		Str("method", method).
		Str("url", url).
		Logger()

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	if c.config.LogRequests {
		logger.Info().Bytes("body", body).Msg("Dispatching request")
	}

	// Step 1: Wait for bucket clearance
	if _, err := c.rateLimiter.Admit(ctx, ratelimit.CostForMethod(method)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}

	// Step 2: Execute with token refresh and 429 retries
	var (
		status   int
		header   http.Header
		raw      []byte
		attempts int
	)

	retryErr := retryOnThrottle(ctx, c.config.Retry, logger, func(attempt int) (bool, error) {
		attempts = attempt

		token, err := c.tokens.EnsureValidToken(ctx)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassAuth)).Inc()
			if c.config.ErrorMode == ErrorModeStrict {
				return false, &APIError{
					ErrorClass: ErrorClassAuth,
					Message:    "token refresh failed",
					Err:        err,
				}
			}
			logger.Warn().Err(err).Msg("Token refresh failed, using previous token")
			token = c.tokens.Token().AccessToken
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return false, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.config.UserAgent != "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger.Error().Err(err).Int("attempt", attempt).Msg("HTTP request failed")
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(method, "network_error").Inc()
			return false, &APIError{
				ErrorClass: ErrorClassNetwork,
				Message:    "transport error",
				Err:        err,
			}
		}
		defer resp.Body.Close() //nolint:errcheck

		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return false, &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassNetwork,
				Message:    "read response body",
				Err:        err,
			}
		}
		status = resp.StatusCode
		header = resp.Header
		requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()

		return status == http.StatusTooManyRequests, nil
	})

	exhausted := false
	if retryErr != nil {
		if !isRetryExhausted(retryErr) {
			return nil, retryErr
		}
		exhausted = true
	}

	result := &Response{
		StatusCode: status,
		Header:     header,
		Attempts:   attempts,
	}

	// Step 3: Parse the body
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
		if !json.Valid(trimmed) {
			errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
			logger.Error().Int("status", status).Msg("Response body is not JSON")
			return result, &APIError{
				StatusCode: status,
				ErrorClass: ErrorClassDecode,
				Message:    "response body is not JSON",
				Body:       raw,
			}
		}
		result.Body = json.RawMessage(trimmed)
	}

	// Step 4: Success updates the bucket
	if result.OK() {
		if err := c.rateLimiter.Record(header); err != nil {
			logger.Warn().Err(err).Msg("Failed to update bucket from headers")
		}
		logger.Debug().
			Int("status", status).
			Int("attempts", attempts).
			Dur("duration", time.Since(startTime)).
			Msg("Request complete")
		return result, nil
	}

	// Step 5: Non-2xx
	errClass := classifyStatus(status)
	errorsTotal.WithLabelValues(string(errClass)).Inc()
	logger.Warn().
		Int("status", status).
		Str("error_class", string(errClass)).
		Interface("headers", header).
		Msg("Lightspeed request failed")

	if c.config.ErrorMode == ErrorModeStrict {
		apiErr := &APIError{
			StatusCode: status,
			ErrorClass: errClass,
			Message:    http.StatusText(status),
			Body:       raw,
		}
		if exhausted {
			apiErr.Err = retryErr
		}
		return result, apiErr
	}
	return result, nil
}

// FetchPage implements pagination.PageFetcher with a GET dispatch.
func (c *Client) FetchPage(ctx context.Context, url string) (json.RawMessage, error) {
	resp, err := c.Dispatch(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ExchangeAuthorizationCode performs the authorization-code grant and
// returns the new refresh token.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code string) (string, error) {
	return c.tokens.ExchangeAuthorizationCode(ctx, code)
}

// Tokens returns the token manager.
func (c *Client) Tokens() *auth.Manager {
	return c.tokens
}

// RateLimitState returns a snapshot of the bucket state.
func (c *Client) RateLimitState() ratelimit.BucketState {
	return c.rateLimiter.State()
}

// Close releases idle connections. A Redis client passed in Config is owned
// by the caller and left open.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client for API calls (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
