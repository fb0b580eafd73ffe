// Package metrics provides the centralized Prometheus metrics registry for
// the trip quote service. All metrics are defined in their respective
// packages (backend, cache, ratelimit, pool, fanout) to maintain modularity
// and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the service.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Backend Metrics (pkg/backend):
//   - tripquote_backend_requests_total{target, status} (Counter): Requests by target and HTTP status
//   - tripquote_backend_request_duration_seconds{target} (Histogram): Request duration by target
//   - tripquote_backend_errors_total{target, class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/backend):
//   - tripquote_retries_total{target, error_class} (Counter): Retry attempts by target and error class
//   - tripquote_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - tripquote_retry_exhausted_total{target} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - tripquote_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - tripquote_cache_misses_total (Counter): Cache misses
//   - tripquote_cache_size_bytes{layer="redis"} (Gauge): Current cache size in bytes
//   - tripquote_304_responses_total (Counter): 304 Not Modified responses
//   - tripquote_conditional_requests_total (Counter): Conditional requests sent with If-None-Match
//   - tripquote_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - tripquote_rate_limit_blocks_total{target} (Counter): Requests blocked by the outbound limiter
//   - tripquote_rate_limit_waits_total{target} (Counter): Requests that waited for a token
//   - tripquote_rate_limit_tokens{target} (Gauge): Approximate available tokens per target
//
// Worker Pool Metrics (pkg/pool):
//   - tripquote_pool_tasks_total (Counter): Tasks executed by the worker pool
//   - tripquote_pool_panics_total (Counter): Panics recovered inside pool tasks
//   - tripquote_pool_in_flight (Gauge): Tasks currently executing
//   - tripquote_pool_queue_depth (Gauge): Tasks waiting for a worker
//
// Aggregation Metrics (pkg/fanout):
//   - tripquote_sessions_total{outcome} (Counter): Sessions by outcome (success, failure, interrupted)
//   - tripquote_discarded_failures_total (Counter): Secondary failures observed after the first
//   - tripquote_extra_completions_total (Counter): Completions rejected after the session completed
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(tripquote_cache_hits_total[5m])) /
//   (sum(rate(tripquote_cache_hits_total[5m])) + sum(rate(tripquote_cache_misses_total[5m])))
//
//   # Session Failure Rate
//   rate(tripquote_sessions_total{outcome="failure"}[5m]) /
//   rate(tripquote_sessions_total[5m])
//
//   # P95 Backend Latency per Target
//   histogram_quantile(0.95, rate(tripquote_backend_request_duration_seconds_bucket[5m]))
//
//   # Pool Saturation
//   tripquote_pool_in_flight / on() group_left tripquote_pool_queue_depth
