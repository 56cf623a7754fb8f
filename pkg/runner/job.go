package runner

import (
	"sync/atomic"

	"github.com/verikit/sheerid-batch/pkg/verify"
)

// Job is one running verification job. It is returned by Runner.Start and
// owned by the caller: consume Progress for live updates, read Done for the
// final results, call Stop to wind the job down early.
type Job struct {
	id       string
	progress chan verify.ProgressEvent
	done     chan map[string]verify.Event
	stop     atomic.Bool
}

// ID returns the job's unique identifier.
func (j *Job) ID() string {
	return j.id
}

// Progress returns the progress channel. It is closed when the job
// finishes. Updates are dropped, not queued, when the consumer falls
// behind; the Done map is the authoritative record.
func (j *Job) Progress() <-chan verify.ProgressEvent {
	return j.progress
}

// Done returns the completion channel. It delivers the final result map,
// one terminal event per processed ID, and is then closed. IDs left
// unprocessed by an early stop are absent.
func (j *Job) Done() <-chan map[string]verify.Event {
	return j.done
}

// Stop requests an early wind-down. The request is honored at the next
// batch boundary: the batch in flight, including its polling, always
// completes. Safe to call from any goroutine, repeatedly.
func (j *Job) Stop() {
	j.stop.Store(true)
}

// Stopped reports whether a stop has been requested.
func (j *Job) Stopped() bool {
	return j.stop.Load()
}
