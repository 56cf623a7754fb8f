// Package metrics provides the centralized Prometheus metrics registry for
// the batch verification client. All metrics are defined in their respective
// packages (client, runner, budget, store) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the batch client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - sheerid_requests_total{endpoint, status} (Counter): Total verification service requests by endpoint and HTTP status
//   - sheerid_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - sheerid_client_errors_total{kind} (Counter): Client errors by kind (token_fetch, transport, auth_expired, api, cancel)
//   - sheerid_token_refreshes_total (Counter): Anti-forgery token refreshes triggered by auth failures
//
// Polling Metrics (pkg/client):
//   - sheerid_poll_attempts_total (Counter): Status poll requests sent
//   - sheerid_poll_timeouts_total (Counter): Verifications that exhausted the poll attempt budget
//
// Job Metrics (pkg/runner):
//   - sheerid_jobs_active (Gauge): Verification jobs currently running
//   - sheerid_jobs_total{outcome} (Counter): Finished jobs by outcome (completed, stopped, aborted)
//   - sheerid_batches_total{outcome} (Counter): Submitted batches by outcome (processed, failed)
//   - sheerid_results_total{step} (Counter): Terminal verification results by step (success, error)
//   - sheerid_progress_dropped_total (Counter): Progress updates dropped because the consumer fell behind
//
// Failure Budget Metrics (pkg/budget):
//   - sheerid_batch_failure_streak (Gauge): Current consecutive batch failure count
//   - sheerid_budget_stops_total (Counter): Jobs stopped by an exhausted failure budget
//
// Store Metrics (pkg/store):
//   - sheerid_store_operations_total{operation} (Counter): Redis store operations by type
//   - sheerid_store_errors_total{operation} (Counter): Redis store operation errors by type
//
// Example Prometheus Queries:
//
//   # Verification Success Rate
//   sum(rate(sheerid_results_total{step="success"}[5m])) /
//   sum(rate(sheerid_results_total[5m]))
//
//   # Batch Failure Rate
//   rate(sheerid_batches_total{outcome="failed"}[5m]) /
//   rate(sheerid_batches_total[5m])
//
//   # Failure Streak Near Stop Threshold
//   sheerid_batch_failure_streak >= 2
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(sheerid_request_duration_seconds_bucket[5m]))
//
//   # Poll Timeout Share
//   rate(sheerid_poll_timeouts_total[5m]) / rate(sheerid_poll_attempts_total[5m])
