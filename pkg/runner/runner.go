// Package runner drives verification jobs end to end: it partitions IDs
// into batches, submits them sequentially, polls pending verifications to a
// terminal state, reports progress, and applies the verified hook. One
// worker goroutine per job; batches never overlap, which is the client's
// only concession to service rate limits.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/verikit/sheerid-batch/pkg/budget"
	"github.com/verikit/sheerid-batch/pkg/client"
	"github.com/verikit/sheerid-batch/pkg/verify"
)

// Prometheus metrics for job execution.
var (
	jobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sheerid_jobs_active",
		Help: "Number of verification jobs currently running",
	})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheerid_jobs_total",
		Help: "Total verification jobs by outcome",
	}, []string{"outcome"}) // "completed", "stopped", "aborted"

	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheerid_batches_total",
		Help: "Total submitted batches by outcome",
	}, []string{"outcome"}) // "processed", "failed"

	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheerid_results_total",
		Help: "Total terminal verification results by step",
	}, []string{"step"})

	progressDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sheerid_progress_dropped_total",
		Help: "Progress updates dropped because the consumer fell behind",
	})
)

// DefaultProgressBuffer is the progress channel capacity when the config
// does not set one.
const DefaultProgressBuffer = 64

// VerifiedHook runs once for every verification that reaches success,
// before the terminal progress update for that ID. A hook error does not
// change the result; it is logged and appended to the progress message.
type VerifiedHook func(ctx context.Context, verificationID string) error

// Config holds the runner configuration.
type Config struct {
	// OnVerified is called for each successful verification. Optional.
	OnVerified VerifiedHook

	// ProgressBuffer is the progress channel capacity per job.
	ProgressBuffer int
}

// Runner starts verification jobs on a shared client.
type Runner struct {
	client *client.Client
	config Config
	logger zerolog.Logger
}

// New creates a runner.
func New(c *client.Client, cfg Config) *Runner {
	if cfg.ProgressBuffer <= 0 {
		cfg.ProgressBuffer = DefaultProgressBuffer
	}
	return &Runner{
		client: c,
		config: cfg,
		logger: log.With().Str("component", "runner").Logger(),
	}
}

// Start launches a job for the given verification IDs and returns
// immediately. The job runs on its own goroutine until every ID has a
// terminal result, a stop request takes effect, or ctx is cancelled.
func (r *Runner) Start(ctx context.Context, ids []string) *Job {
	job := &Job{
		id:       uuid.New().String(),
		progress: make(chan verify.ProgressEvent, r.config.ProgressBuffer),
		done:     make(chan map[string]verify.Event, 1),
	}
	go r.run(ctx, job, ids)
	return job
}

// Run executes a job synchronously, discarding progress updates, and
// returns the final result map.
func (r *Runner) Run(ctx context.Context, ids []string) map[string]verify.Event {
	job := r.Start(ctx, ids)
	for range job.Progress() {
	}
	return <-job.Done()
}

// run is the job worker.
func (r *Runner) run(ctx context.Context, job *Job, ids []string) {
	logger := r.logger.With().Str("job_id", job.ID()).Logger()
	results := make(map[string]verify.Event, len(ids))

	jobsActive.Inc()
	finish := func(outcome string) {
		succeeded := 0
		for _, event := range results {
			if event.CurrentStep == verify.StepSuccess {
				succeeded++
			}
		}
		jobsActive.Dec()
		jobsTotal.WithLabelValues(outcome).Inc()
		logger.Info().
			Str("outcome", outcome).
			Int("ids", len(ids)).
			Int("processed", len(results)).
			Int("succeeded", succeeded).
			Msg("Job finished")

		job.done <- results
		close(job.done)
		close(job.progress)
	}

	emit := func(event verify.ProgressEvent) {
		select {
		case job.progress <- event:
		default:
			progressDroppedTotal.Inc()
		}
	}

	logger.Info().Int("ids", len(ids)).Msg("Job started")

	if len(ids) == 0 {
		finish("completed")
		return
	}

	// Acquire the token up front. If the landing page is unreachable the
	// job fails as a whole instead of batch by batch.
	if err := r.client.EnsureToken(ctx); err != nil {
		logger.Error().Err(err).Msg("Token acquisition failed, aborting job")
		message := "failed to obtain anti-forgery token: " + err.Error()
		for _, id := range ids {
			results[id] = verify.Event{
				VerificationID: id,
				CurrentStep:    verify.StepError,
				Message:        message,
			}
			resultsTotal.WithLabelValues(string(verify.StepError)).Inc()
			emit(verify.ProgressEvent{VerificationID: id, Status: string(verify.StepError), Message: message})
		}
		finish("aborted")
		return
	}

	tracker := budget.NewTracker(logger)
	batches := verify.Partition(ids)
	stopped := false

	for i, batch := range batches {
		if job.Stopped() {
			logger.Info().
				Int("processed_batches", i).
				Int("remaining_batches", len(batches)-i).
				Msg("Stop requested, leaving remaining batches unprocessed")
			stopped = true
			break
		}

		for _, id := range batch {
			emit(verify.ProgressEvent{VerificationID: id, Status: verify.StatusProcessing, Message: "Submitting..."})
		}

		events, submitErr := r.client.SubmitBatch(ctx, batch, emit)
		r.finalizeBatch(ctx, batch, events, results, emit, logger)

		// SubmitBatch errors only when the whole batch failed (transport,
		// rejected status, expired token after the retry). Per-ID
		// rejections arrive as results with a nil error and never feed
		// the failure budget.
		if submitErr != nil {
			batchesTotal.WithLabelValues("failed").Inc()
			if tracker.RecordFailure(failureKind(submitErr)) {
				job.Stop()
			}
		} else {
			batchesTotal.WithLabelValues("processed").Inc()
			tracker.RecordSuccess()
		}

		logger.Info().
			Int("batch", i+1).
			Int("batches", len(batches)).
			Msg("Batch finished")
	}

	if stopped {
		finish("stopped")
		return
	}
	finish("completed")
}

// finalizeBatch drives every ID of a submitted batch to a terminal result:
// terminal stream events stand, pending ones with a check token are polled,
// and IDs the service never resolved get a synthetic error so no ID ends a
// processed batch without a result.
func (r *Runner) finalizeBatch(ctx context.Context, batch []string, events map[string]verify.Event, results map[string]verify.Event, emit client.ProgressFunc, logger zerolog.Logger) {
	for _, id := range batch {
		event, ok := events[id]
		switch {
		case !ok:
			event = verify.Event{
				VerificationID: id,
				CurrentStep:    verify.StepError,
				Message:        "no result received from service",
			}
		case event.Terminal():
			// Stream already resolved it.
		case event.CheckToken != "":
			event = r.client.PollStatus(ctx, id, event.CheckToken, emit)
		default:
			event = verify.Event{
				VerificationID: id,
				CurrentStep:    verify.StepError,
				Message:        "verification left pending without a check token",
			}
		}

		results[id] = event
		resultsTotal.WithLabelValues(string(event.CurrentStep)).Inc()

		message := event.Message
		if event.CurrentStep == verify.StepSuccess && r.config.OnVerified != nil {
			if hookErr := r.config.OnVerified(ctx, id); hookErr != nil {
				logger.Warn().Err(hookErr).Str("verification_id", id).Msg("Verified hook failed")
				message = fmt.Sprintf("%s (move failed: %v)", message, hookErr)
			}
		}

		emit(verify.ProgressEvent{
			VerificationID: id,
			Status:         string(event.CurrentStep),
			Message:        message,
		})
	}
}

// failureKind names the failure for budget logging.
func failureKind(err error) string {
	var svcErr *client.ServiceError
	if errors.As(err, &svcErr) {
		return string(svcErr.Kind)
	}
	return string(client.ErrorKindTransport)
}
