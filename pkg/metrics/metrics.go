// Package metrics provides the centralized Prometheus metrics registry for
// the Prefect extraction pipeline. All metrics are defined in their
// respective packages (client, stream, state, singer) to maintain modularity
// and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the tap.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - prefect_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - prefect_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - prefect_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - prefect_retries_total{error_class} (Counter): Retry attempts by error class
//   - prefect_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - prefect_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Stream Metrics (pkg/stream):
//   - prefect_records_total{stream} (Counter): Records emitted by stream
//   - prefect_stream_runs_total{stream, outcome} (Counter): Stream runs by outcome
//
// State Metrics (pkg/state):
//   - prefect_state_errors_total{operation} (Counter): Bookmark store operation errors
//
// Emitter Metrics (pkg/singer):
//   - prefect_singer_messages_total{type} (Counter): Singer messages by type (RECORD, STATE)
//
// Example Prometheus Queries:
//
//   # Record Throughput by Stream
//   sum by (stream) (rate(prefect_records_total[5m]))
//
//   # Request Error Rate
//   rate(prefect_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(prefect_request_duration_seconds_bucket[5m]))
//
//   # Failed Stream Runs
//   rate(prefect_stream_runs_total{outcome="error"}[5m])
