// Package ratelimit implements the Lightspeed leaky-bucket rate limiter.
// It reads the X-LS-API-Bucket-Level and X-LS-API-Drip-Rate headers to
// track how many units the account may spend and how fast they drip back,
// and delays requests that the bucket cannot afford yet.
package ratelimit

import (
	"net/http"
	"time"
)

// Response headers carrying bucket state.
const (
	HeaderBucketLevel = "X-LS-API-Bucket-Level"
	HeaderDripRate    = "X-LS-API-Drip-Rate"
)

// Request costs in bucket units.
const (
	// CostRead is charged for GET and any other non-mutating method.
	CostRead = 1

	// CostWrite is charged for POST, PUT and DELETE.
	CostWrite = 10
)

// Initial bucket values used until the first response reports real state.
const (
	DefaultAvailability = 60
	DefaultDripRate     = 1
)

// BucketState represents the current leaky-bucket state of the account.
type BucketState struct {
	// Availability is the number of units that can be spent right now.
	// Calculated as total - requested from the X-LS-API-Bucket-Level header.
	Availability float64 `json:"availability"`

	// DripRate is the number of units restored per second.
	// Extracted from the X-LS-API-Drip-Rate header.
	DripRate float64 `json:"drip_rate"`

	// LastRequest is when the state was last recorded from a response.
	LastRequest time.Time `json:"last_request"`

	// Level is the raw "requested/total" header value of the last update.
	Level string `json:"level,omitempty"`
}

// CostForMethod returns the bucket cost of an HTTP method.
func CostForMethod(method string) float64 {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return CostWrite
	default:
		return CostRead
	}
}

// CanAfford reports whether cost units are available without waiting.
func (s *BucketState) CanAfford(cost float64) bool {
	return s.Availability >= cost
}

// WaitFor returns how long a request of the given cost must wait at now.
// The deficit drips back at DripRate, and the time already elapsed since
// LastRequest counts towards it. Returns 0 when the cost is affordable.
func (s *BucketState) WaitFor(cost float64, now time.Time) time.Duration {
	if s.CanAfford(cost) {
		return 0
	}
	if s.DripRate <= 0 {
		// No drip information; a non-positive rate would wait forever.
		return 0
	}

	wait := (cost - s.Availability) / s.DripRate
	elapsed := now.Sub(s.LastRequest).Seconds()
	if elapsed >= wait {
		return 0
	}
	return time.Duration((wait - elapsed) * float64(time.Second))
}

// IsStale returns true if the state is older than the given duration.
func (s *BucketState) IsStale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(s.LastRequest) > maxAge
}
