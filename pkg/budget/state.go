// Package budget tracks consecutive batch-level failures during a job and
// requests a stop before a broken service or spent API key burns the
// remaining batches. Per-ID rejections are not failures; only submissions
// the service never processed count.
package budget

// Thresholds for failure streak decisions.
const (
	// FailureThresholdWarning logs a warning when the streak reaches this
	// length. The job keeps going; one flaky submission is normal.
	FailureThresholdWarning = 2

	// FailureThresholdStop requests a job stop when the streak reaches
	// this length. Three batches in a row failing at the service level
	// means later batches will fail too.
	FailureThresholdStop = 3
)

// FailureState is the failure bookkeeping of one running job.
type FailureState struct {
	// ConsecutiveFailures counts batch submissions that failed at the
	// service level since the last healthy batch.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// TotalFailures counts failed batch submissions over the whole job.
	TotalFailures int `json:"total_failures"`

	// TotalBatches counts all recorded batch submissions.
	TotalBatches int `json:"total_batches"`
}

// NeedsWarning returns true while the streak is in the warning band.
func (s *FailureState) NeedsWarning() bool {
	return s.ConsecutiveFailures >= FailureThresholdWarning && s.ConsecutiveFailures < FailureThresholdStop
}

// Exhausted returns true once the streak reaches the stop threshold.
func (s *FailureState) Exhausted() bool {
	return s.ConsecutiveFailures >= FailureThresholdStop
}
