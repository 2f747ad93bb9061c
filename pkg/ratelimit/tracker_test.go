package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// recordingSleep records requested waits and advances the clock instead of sleeping.
type recordingSleep struct {
	clock *fakeClock
	waits []time.Duration
}

func (s *recordingSleep) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	s.clock.now = s.clock.now.Add(d)
	return nil
}

func newTestTracker(opts ...Option) (*Tracker, *fakeClock, *recordingSleep) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	sleeper := &recordingSleep{clock: clock}
	opts = append([]Option{WithClock(clock.Now), WithSleep(sleeper.Sleep)}, opts...)
	return NewTracker(zerolog.Nop(), opts...), clock, sleeper
}

func bucketHeaders(level, drip string) http.Header {
	h := http.Header{}
	if level != "" {
		h.Set(HeaderBucketLevel, level)
	}
	if drip != "" {
		h.Set(HeaderDripRate, drip)
	}
	return h
}

func TestNewTracker_DefaultState(t *testing.T) {
	tracker, clock, _ := newTestTracker()
	state := tracker.State()

	if state.Availability != DefaultAvailability {
		t.Errorf("Availability = %v, want %v", state.Availability, DefaultAvailability)
	}
	if state.DripRate != DefaultDripRate {
		t.Errorf("DripRate = %v, want %v", state.DripRate, DefaultDripRate)
	}
	if !state.LastRequest.Equal(clock.now) {
		t.Errorf("LastRequest = %v, want %v", state.LastRequest, clock.now)
	}
}

func TestRecord_ValidHeaders(t *testing.T) {
	tests := []struct {
		name                 string
		level                string
		drip                 string
		expectedAvailability float64
		expectedDripRate     float64
	}{
		{
			name:                 "mostly empty bucket",
			level:                "1/60",
			drip:                 "1",
			expectedAvailability: 59,
			expectedDripRate:     1,
		},
		{
			name:                 "nearly full bucket",
			level:                "55.5/60",
			drip:                 "2",
			expectedAvailability: 4.5,
			expectedDripRate:     2,
		},
		{
			name:                 "missing drip rate keeps previous",
			level:                "10/180",
			drip:                 "",
			expectedAvailability: 170,
			expectedDripRate:     DefaultDripRate,
		},
		{
			name:                 "whitespace tolerated",
			level:                " 20 / 60 ",
			drip:                 " 3 ",
			expectedAvailability: 40,
			expectedDripRate:     3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, clock, _ := newTestTracker()
			clock.now = clock.now.Add(5 * time.Second)

			if err := tracker.Record(bucketHeaders(tt.level, tt.drip)); err != nil {
				t.Fatalf("Record() error = %v", err)
			}

			state := tracker.State()
			if state.Availability != tt.expectedAvailability {
				t.Errorf("Availability = %v, want %v", state.Availability, tt.expectedAvailability)
			}
			if state.DripRate != tt.expectedDripRate {
				t.Errorf("DripRate = %v, want %v", state.DripRate, tt.expectedDripRate)
			}
			if !state.LastRequest.Equal(clock.now) {
				t.Errorf("LastRequest = %v, want %v", state.LastRequest, clock.now)
			}
		})
	}
}

func TestRecord_AvailabilityIgnoresPriorState(t *testing.T) {
	tracker, _, _ := newTestTracker(WithInitialState(3, 0.5))

	levels := []struct {
		level    string
		expected float64
	}{
		{"10/60", 50},
		{"59/60", 1},
		{"0/60", 60},
	}

	for _, l := range levels {
		if err := tracker.Record(bucketHeaders(l.level, "1")); err != nil {
			t.Fatalf("Record(%q) error = %v", l.level, err)
		}
		if got := tracker.State().Availability; got != l.expected {
			t.Errorf("after %q Availability = %v, want %v", l.level, got, l.expected)
		}
	}
}

func TestRecord_InvalidHeaders(t *testing.T) {
	tests := []struct {
		name        string
		level       string
		drip        string
		shouldError bool
	}{
		{
			name:        "missing level header",
			level:       "",
			drip:        "1",
			shouldError: false, // Should return nil for missing headers
		},
		{
			name:        "both headers missing",
			level:       "",
			drip:        "",
			shouldError: false,
		},
		{
			name:        "level without slash",
			level:       "60",
			drip:        "1",
			shouldError: true,
		},
		{
			name:        "non-numeric requested",
			level:       "abc/60",
			drip:        "1",
			shouldError: true,
		},
		{
			name:        "non-numeric total",
			level:       "1/abc",
			drip:        "1",
			shouldError: true,
		},
		{
			name:        "non-numeric drip rate",
			level:       "1/60",
			drip:        "fast",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, _, _ := newTestTracker()
			before := tracker.State()

			err := tracker.Record(bucketHeaders(tt.level, tt.drip))

			if tt.shouldError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if after := tracker.State(); after != before {
				t.Errorf("State changed to %+v, want %+v", after, before)
			}
		})
	}
}

func TestAdmit_NoWaitWhenAffordable(t *testing.T) {
	tracker, _, sleeper := newTestTracker(WithInitialState(10, 1))

	for _, cost := range []float64{CostRead, CostWrite} {
		waited, err := tracker.Admit(context.Background(), cost)
		if err != nil {
			t.Fatalf("Admit(%v) error = %v", cost, err)
		}
		if waited != 0 {
			t.Errorf("Admit(%v) waited %v, want 0", cost, waited)
		}
	}

	if len(sleeper.waits) != 0 {
		t.Errorf("sleep called %d times, want 0", len(sleeper.waits))
	}
}

func TestAdmit_WaitsForDeficit(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		drip     string
		elapsed  time.Duration
		cost     float64
		expected time.Duration
	}{
		{
			name:     "write with 2 units left",
			level:    "58/60",
			drip:     "1",
			cost:     CostWrite,
			expected: 8 * time.Second,
		},
		{
			name:     "write with elapsed time",
			level:    "58/60",
			drip:     "2",
			elapsed:  1 * time.Second,
			cost:     CostWrite,
			expected: 3 * time.Second,
		},
		{
			name:     "read with empty bucket",
			level:    "60/60",
			drip:     "4",
			cost:     CostRead,
			expected: 250 * time.Millisecond,
		},
		{
			name:     "elapsed covers deficit",
			level:    "60/60",
			drip:     "1",
			elapsed:  10 * time.Second,
			cost:     CostRead,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, clock, sleeper := newTestTracker()
			if err := tracker.Record(bucketHeaders(tt.level, tt.drip)); err != nil {
				t.Fatalf("Record() error = %v", err)
			}
			clock.now = clock.now.Add(tt.elapsed)

			waited, err := tracker.Admit(context.Background(), tt.cost)
			if err != nil {
				t.Fatalf("Admit() error = %v", err)
			}
			if waited != tt.expected {
				t.Errorf("Admit() waited %v, want %v", waited, tt.expected)
			}

			if tt.expected == 0 && len(sleeper.waits) != 0 {
				t.Errorf("sleep called with %v, want no call", sleeper.waits)
			}
			if tt.expected > 0 && (len(sleeper.waits) != 1 || sleeper.waits[0] != tt.expected) {
				t.Errorf("sleep calls = %v, want [%v]", sleeper.waits, tt.expected)
			}
		})
	}
}

func TestAdmit_ContextCancelled(t *testing.T) {
	tracker := NewTracker(zerolog.Nop(), WithInitialState(0, 0.001))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tracker.Admit(ctx, CostWrite)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Admit() error = %v, want context.Canceled", err)
	}
}

func TestSleep_ZeroDuration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Sleep(ctx, 0); err != nil {
		t.Errorf("Sleep(0) error = %v, want nil", err)
	}
}
