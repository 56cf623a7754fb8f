package budget

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for failure budget tracking.
var (
	failureStreak = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sheerid_batch_failure_streak",
		Help: "Consecutive service-level batch failures of the current job",
	})

	budgetStopsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sheerid_budget_stops_total",
		Help: "Total number of jobs stopped by the failure budget",
	})
)

// Tracker monitors batch outcomes for one job and decides when to give up.
// Like the job itself it is driven by a single goroutine and needs no
// locking. State is in-memory: a failure streak is meaningless beyond the
// job that produced it.
type Tracker struct {
	state  FailureState
	logger zerolog.Logger
}

// NewTracker creates a tracker for one job.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		logger: logger,
	}
}

// RecordFailure records a service-level batch failure and returns true if
// the failure budget is now exhausted. The stop metric counts the crossing,
// not every exhausted batch.
func (t *Tracker) RecordFailure(reason string) bool {
	wasExhausted := t.state.Exhausted()

	t.state.TotalBatches++
	t.state.TotalFailures++
	t.state.ConsecutiveFailures++
	failureStreak.Set(float64(t.state.ConsecutiveFailures))

	switch {
	case t.state.Exhausted() && !wasExhausted:
		budgetStopsTotal.Inc()
		t.logger.Error().
			Int("consecutive_failures", t.state.ConsecutiveFailures).
			Str("reason", reason).
			Msg("Failure budget exhausted, requesting job stop")
	case t.state.NeedsWarning():
		t.logger.Warn().
			Int("consecutive_failures", t.state.ConsecutiveFailures).
			Str("reason", reason).
			Msg("Batch failure streak building")
	default:
		t.logger.Debug().
			Str("reason", reason).
			Msg("Batch failure recorded")
	}

	return t.state.Exhausted()
}

// RecordSuccess records a batch the service processed, resetting the streak.
// A batch with per-ID errors still counts as processed.
func (t *Tracker) RecordSuccess() {
	t.state.TotalBatches++
	t.state.ConsecutiveFailures = 0
	failureStreak.Set(0)
}

// ShouldContinue returns false once the failure budget is exhausted.
func (t *Tracker) ShouldContinue() bool {
	return !t.state.Exhausted()
}

// State returns a copy of the current failure bookkeeping.
func (t *Tracker) State() FailureState {
	return t.state
}
