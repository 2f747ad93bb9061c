package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lightspeed_retries_total",
		Help: "Total number of retries after a 429 response",
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lightspeed_retry_exhausted_total",
		Help: "Total number of requests still rejected with 429 after the last attempt",
	})
)

// RetryConfig holds the configuration for 429 retries.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the initial request.
	MaxAttempts int

	// Cooldown is the fixed wait between attempts.
	Cooldown time.Duration
}

// DefaultRetryConfig returns one attempt plus three retries, 3s apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		Cooldown:    3 * time.Second,
	}
}

// attemptFunc performs one attempt. It returns retry=true when the attempt
// was throttled and should be repeated; a non-nil error aborts immediately.
type attemptFunc func(attempt int) (retry bool, err error)

// retryOnThrottle runs fn until it stops asking for a retry or the attempts
// run out, waiting a fixed cooldown in between. It returns ErrRetryExhausted
// when the last attempt still asked for a retry.
func retryOnThrottle(ctx context.Context, config RetryConfig, logger zerolog.Logger, fn attemptFunc) error {
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		retry, err := fn(attempt)
		if err != nil {
			return err
		}
		if !retry {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		if attempt >= config.MaxAttempts {
			break
		}

		retriesTotal.Inc()
		logger.Warn().
			Int("attempt", attempt).
			Dur("cooldown", config.Cooldown).
			Msg("Rate limited, retrying after cooldown")

		if err := sleepContext(ctx, config.Cooldown); err != nil {
			logger.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry cooldown")
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	retryExhaustedTotal.Inc()
	logger.Warn().
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts", ErrRetryExhausted, config.MaxAttempts)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
