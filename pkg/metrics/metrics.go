// Package metrics exposes the Prometheus metrics of the Lightspeed client.
// All metrics are defined in their respective packages (client, auth,
// ratelimit, pagination) and registered via promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the Lightspeed client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the registered metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - lightspeed_bucket_availability (Gauge): Units currently available in the leaky bucket
//   - lightspeed_bucket_drip_rate (Gauge): Units restored per second
//   - lightspeed_rate_limit_waits_total (Counter): Requests delayed until affordable
//   - lightspeed_rate_limit_wait_seconds (Histogram): Time spent waiting for bucket units
//
// Token Metrics (pkg/auth):
//   - lightspeed_token_refreshes_total{grant_type, result} (Counter): Token grants by type and outcome
//   - lightspeed_token_store_errors_total{operation} (Counter): Redis token store failures
//
// Request Metrics (pkg/client):
//   - lightspeed_requests_total{method, status} (Counter): Total requests by method and HTTP status
//   - lightspeed_request_duration_seconds{method} (Histogram): Dispatch duration by method
//   - lightspeed_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, auth, decode)
//
// Retry Metrics (pkg/client):
//   - lightspeed_retries_total (Counter): Retries after a 429 response
//   - lightspeed_retry_exhausted_total (Counter): Requests still throttled after the last attempt
//
// Pagination Metrics (pkg/pagination):
//   - lightspeed_pages_fetched_total{resource} (Counter): Result pages fetched by resource
//
// Example Prometheus Queries:
//
//   # Throttled share of requests
//   sum(rate(lightspeed_requests_total{status="429"}[5m])) /
//   sum(rate(lightspeed_requests_total[5m]))
//
//   # Bucket close to empty
//   lightspeed_bucket_availability < 10
//
//   # Request Error Rate
//   rate(lightspeed_errors_total[5m])
//
//   # P95 Dispatch Latency
//   histogram_quantile(0.95, rate(lightspeed_request_duration_seconds_bucket[5m]))
