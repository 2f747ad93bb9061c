//go:build integration

package client

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/lightspeed-client/internal/testutil"
	"github.com/Sternrassler/lightspeed-client/pkg/auth"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_FullRequestFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockLightspeed()
	defer mock.Close()

	nextURL := mock.URL() + salePath() + "?offset=100"
	mock.SetHandler(salePath(), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-LS-API-Bucket-Level", "20/60")
		w.Header().Set("X-LS-API-Drip-Rate", "2")
		if r.URL.Query().Get("offset") == "100" {
			fmt.Fprint(w, testutil.PageBody("Sale", []map[string]any{{"id": 3}}, ""))
			return
		}
		fmt.Fprint(w, testutil.PageBody("Sale", []map[string]any{{"id": 1}, {"id": 2}}, nextURL))
	})

	cfg := DefaultConfig(testCredentials())
	cfg.APIURL = mock.APIURL()
	cfg.TokenURL = mock.TokenURL()
	cfg.Redis = redisClient
	cfg.ErrorMode = ErrorModeStrict

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()

	// Step 1: Collect all pages
	items, err := client.Get(ctx, "Sale", "", nil)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}

	// Step 2: Bucket state follows the last response
	state := client.RateLimitState()
	if state.Availability != 40 || state.DripRate != 2 {
		t.Errorf("bucket = %v/%v, want 40/2", state.Availability, state.DripRate)
	}

	// Step 3: Token is persisted with a TTL
	ttl, err := redisClient.TTL(ctx, auth.AccessKey(testAccount)).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("access token TTL = %v, want within 1h", ttl)
	}

	// Step 4: A new client reuses the persisted token
	second, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create second client: %v", err)
	}
	if _, err := second.Get(ctx, "Sale", "", nil); err != nil {
		t.Fatalf("second Get() failed: %v", err)
	}
	if got := mock.GetTokenRequestCount(); got != 1 {
		t.Errorf("Expected 1 token request, got %d", got)
	}
}

func TestIntegration_ExpiredTokenRefreshes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockLightspeed()
	defer mock.Close()
	mock.SetResponse(salePath(), testutil.NewOKResponse(`{"Sale":[]}`, 1, 60))

	cfg := DefaultConfig(testCredentials())
	cfg.APIURL = mock.APIURL()
	cfg.TokenURL = mock.TokenURL()
	cfg.Redis = redisClient

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	ctx := context.Background()

	if _, err := client.Dispatch(ctx, http.MethodGet, client.BuildURL("Sale", "", nil), nil); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}

	client.Tokens().Invalidate()

	if _, err := client.Dispatch(ctx, http.MethodGet, client.BuildURL("Sale", "", nil), nil); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	if got := mock.GetTokenRequestCount(); got != 2 {
		t.Errorf("Expected 2 token requests after invalidation, got %d", got)
	}
}
