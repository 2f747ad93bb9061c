package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for bucket tracking.
var (
	bucketAvailability = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lightspeed_bucket_availability",
		Help: "Units currently available in the Lightspeed leaky bucket",
	})

	bucketDripRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lightspeed_bucket_drip_rate",
		Help: "Units per second restored to the Lightspeed leaky bucket",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lightspeed_rate_limit_waits_total",
		Help: "Total number of requests delayed until the bucket could afford them",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lightspeed_rate_limit_wait_seconds",
		Help:    "Time spent waiting for bucket units",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Tracker holds the bucket state of one account and gates requests on it.
// State is guarded by a mutex; the wait itself happens outside the lock.
type Tracker struct {
	mu     sync.Mutex
	state  BucketState
	logger zerolog.Logger

	now   func() time.Time
	sleep SleepFunc
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithSleep overrides how the tracker waits (for testing).
func WithSleep(sleep SleepFunc) Option {
	return func(t *Tracker) { t.sleep = sleep }
}

// WithInitialState seeds the bucket with availability and drip rate.
func WithInitialState(availability, dripRate float64) Option {
	return func(t *Tracker) {
		t.state.Availability = availability
		t.state.DripRate = dripRate
	}
}

// NewTracker creates a tracker with the default initial bucket state.
func NewTracker(logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		state: BucketState{
			Availability: DefaultAvailability,
			DripRate:     DefaultDripRate,
		},
		logger: logger,
		now:    time.Now,
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.state.LastRequest = t.now()
	return t
}

// State returns a snapshot of the current bucket state.
func (t *Tracker) State() BucketState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Admit blocks until the bucket can afford cost units and returns how long
// it waited. It never waits when the cost is already affordable.
func (t *Tracker) Admit(ctx context.Context, cost float64) (time.Duration, error) {
	t.mu.Lock()
	state := t.state
	wait := state.WaitFor(cost, t.now())
	t.mu.Unlock()

	if wait <= 0 {
		return 0, nil
	}

	t.logger.Debug().
		Float64("cost", cost).
		Float64("availability", state.Availability).
		Float64("drip_rate", state.DripRate).
		Dur("wait", wait).
		Msg("Bucket cannot afford request, waiting")

	rateLimitWaitsTotal.Inc()
	rateLimitWaitSeconds.Observe(wait.Seconds())

	if err := t.sleep(ctx, wait); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}
	return wait, nil
}

// Record updates the bucket state from response headers.
// Returns nil without changes when the bucket level header is absent.
func (t *Tracker) Record(headers http.Header) error {
	levelStr := headers.Get(HeaderBucketLevel)
	if levelStr == "" {
		// Error responses and non-API endpoints carry no bucket headers
		return nil
	}

	availability, err := parseBucketLevel(levelStr)
	if err != nil {
		return err
	}

	dripRate := -1.0
	if dripStr := headers.Get(HeaderDripRate); dripStr != "" {
		dripRate, err = strconv.ParseFloat(strings.TrimSpace(dripStr), 64)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderDripRate, err)
		}
	}

	t.mu.Lock()
	t.state.Availability = availability
	if dripRate >= 0 {
		t.state.DripRate = dripRate
	}
	t.state.Level = levelStr
	t.state.LastRequest = t.now()
	state := t.state
	t.mu.Unlock()

	bucketAvailability.Set(state.Availability)
	bucketDripRate.Set(state.DripRate)

	t.logger.Debug().
		Str("level", levelStr).
		Float64("availability", state.Availability).
		Float64("drip_rate", state.DripRate).
		Msg("Bucket state updated")

	return nil
}

// parseBucketLevel converts "requested/total" into available units.
func parseBucketLevel(level string) (float64, error) {
	requestedStr, totalStr, ok := strings.Cut(level, "/")
	if !ok {
		return 0, fmt.Errorf("parse %s header %q: missing '/'", HeaderBucketLevel, level)
	}

	requested, err := strconv.ParseFloat(strings.TrimSpace(requestedStr), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s requested units: %w", HeaderBucketLevel, err)
	}

	total, err := strconv.ParseFloat(strings.TrimSpace(totalStr), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s total units: %w", HeaderBucketLevel, err)
	}

	return total - requested, nil
}
