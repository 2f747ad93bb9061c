package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotStored indicates no token has been saved for the account.
	ErrNotStored = errors.New("token not stored")

	// ErrInvalidEntry indicates the stored token is corrupted.
	ErrInvalidEntry = errors.New("invalid stored token")
)

var tokenStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lightspeed_token_store_errors_total",
	Help: "Total token store operation errors",
}, []string{"operation"})

// Saved is the persisted token state of an account.
type Saved struct {
	Token        Token
	RefreshToken string
}

// Store persists token state between process restarts.
type Store interface {
	Load(ctx context.Context, accountID string) (Saved, error)
	Save(ctx context.Context, accountID string, saved Saved) error
}

// RedisStore keeps token state in Redis. The access token expires with the
// token itself; the refresh token is kept until overwritten.
type RedisStore struct {
	redis *redis.Client
	now   func() time.Time
}

// NewRedisStore creates a token store with Redis backend.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
		now:   time.Now,
	}
}

// AccessKey returns the Redis key holding the account's access token.
func AccessKey(accountID string) string {
	return fmt.Sprintf("lightspeed:token:%s:access", accountID)
}

// RefreshKey returns the Redis key holding the account's refresh token.
func RefreshKey(accountID string) string {
	return fmt.Sprintf("lightspeed:token:%s:refresh", accountID)
}

// Load retrieves the saved state of an account.
// Returns ErrNotStored if neither key exists.
func (s *RedisStore) Load(ctx context.Context, accountID string) (Saved, error) {
	var saved Saved

	refresh, err := s.redis.Get(ctx, RefreshKey(accountID)).Result()
	if err != nil && err != redis.Nil {
		tokenStoreErrors.WithLabelValues("load").Inc()
		return Saved{}, fmt.Errorf("redis get refresh token: %w", err)
	}
	refreshMissing := err == redis.Nil
	saved.RefreshToken = refresh

	data, err := s.redis.Get(ctx, AccessKey(accountID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			if refreshMissing {
				return Saved{}, ErrNotStored
			}
			return saved, nil
		}
		tokenStoreErrors.WithLabelValues("load").Inc()
		return Saved{}, fmt.Errorf("redis get access token: %w", err)
	}

	if err := json.Unmarshal(data, &saved.Token); err != nil {
		tokenStoreErrors.WithLabelValues("load").Inc()
		return Saved{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	return saved, nil
}

// Save stores the account's state. An already expired access token is not
// written; the refresh token is always written when present.
func (s *RedisStore) Save(ctx context.Context, accountID string, saved Saved) error {
	pipe := s.redis.TxPipeline()

	if saved.RefreshToken != "" {
		pipe.Set(ctx, RefreshKey(accountID), saved.RefreshToken, 0)
	}

	ttl := saved.Token.Expiry.Sub(s.now())
	if saved.Token.AccessToken != "" && ttl > 0 {
		data, err := json.Marshal(saved.Token)
		if err != nil {
			tokenStoreErrors.WithLabelValues("save").Inc()
			return fmt.Errorf("marshal token: %w", err)
		}
		pipe.Set(ctx, AccessKey(accountID), data, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		tokenStoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("store token in redis: %w", err)
	}
	return nil
}

// Delete removes all saved state of an account.
func (s *RedisStore) Delete(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, AccessKey(accountID), RefreshKey(accountID)).Err(); err != nil {
		tokenStoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
