// Package metrics provides centralized Prometheus metrics registry for the API client.
// All metrics are defined in their respective packages (client, cache, ratelimit,
// transport, notify) to maintain modularity and avoid circular dependencies.
//
// This package provides the scrape handler and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the API client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - apiclient_requests_total{method, outcome} (Counter): Submissions by final outcome (success, cached, failure, malformed)
//   - apiclient_request_duration_seconds{method} (Histogram): Time from submission to final outcome
//   - apiclient_errors_total{class} (Counter): Failed network attempts by class (client, server, rate_limit, network, shape)
//   - apiclient_cache_fallbacks_total (Counter): Network failures answered from the cache
//   - apiclient_discarded_cache_results_total (Counter): Cache legs discarded because the network answered first
//
// Retry Metrics (pkg/client):
//   - apiclient_retries_total{error_class} (Counter): Retry attempts by error class
//   - apiclient_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - apiclient_retry_exhausted_total{error_class} (Counter): Submissions that exhausted their retries
//
// Cache Metrics (pkg/cache):
//   - apiclient_cache_hits_total{layer} (Counter): Cache hits by layer (memory, disk)
//   - apiclient_cache_misses_total (Counter): Lookups missing both layers
//   - apiclient_cache_evictions_total{layer} (Counter): Records removed from a layer
//   - apiclient_cache_write_bytes_total (Counter): Bytes written to the disk layer
//   - apiclient_cache_errors_total{operation} (Counter): Failed disk operations
//
// Rate Limit Metrics (pkg/ratelimit):
//   - apiclient_rate_limit_remaining (Gauge): Requests remaining in the current window
//   - apiclient_rate_limit_blocks_total (Counter): Requests blocked at the critical threshold
//   - apiclient_rate_limit_throttles_total (Counter): Requests throttled at the warning threshold
//
// Transport Metrics (pkg/transport):
//   - apiclient_http_requests_total{method, status} (Counter): HTTP calls by status code
//   - apiclient_http_request_duration_seconds{method} (Histogram): HTTP call duration
//   - apiclient_http_in_flight (Gauge): HTTP calls currently holding a concurrency slot
//
// Event Metrics (pkg/notify):
//   - apiclient_events_published_total{kind} (Counter): Published notifications by kind
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(apiclient_cache_hits_total[5m])) /
//   (sum(rate(apiclient_cache_hits_total[5m])) + sum(rate(apiclient_cache_misses_total[5m])))
//
//   # Rate Limit Status
//   apiclient_rate_limit_remaining < 20
//
//   # Failure Rate
//   sum(rate(apiclient_requests_total{outcome="failure"}[5m])) / sum(rate(apiclient_requests_total[5m]))
//
//   # P95 Submission Latency
//   histogram_quantile(0.95, rate(apiclient_request_duration_seconds_bucket[5m]))
