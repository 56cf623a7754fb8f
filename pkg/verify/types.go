// Package verify defines the domain types shared by the verification client,
// the job runner, and the record store: verification steps, service events,
// progress reporting, batch partitioning, and link parsing.
package verify

// Step is the lifecycle step of a single verification as reported by the
// service. The service emits free-form step strings; only the two terminal
// values below end the lifecycle, everything else counts as in flight.
type Step string

// Terminal steps. Any other step value means the verification is still
// in progress and must be polled.
const (
	// StepPending indicates the verification is queued or running on the
	// service side. Pending events carry a check token for status polling.
	StepPending Step = "pending"

	// StepSuccess indicates the verification completed and was approved.
	StepSuccess Step = "success"

	// StepError indicates the verification failed or could not be processed.
	StepError Step = "error"
)

// Terminal returns true if the step ends the verification lifecycle.
func (s Step) Terminal() bool {
	return s == StepSuccess || s == StepError
}

// Event is one verification status record, either streamed from the batch
// endpoint or returned by a status poll. Field names follow the service's
// JSON wire format.
type Event struct {
	// VerificationID identifies the verification this event belongs to.
	VerificationID string `json:"verificationId"`

	// CurrentStep is the lifecycle step at the time of the event.
	CurrentStep Step `json:"currentStep"`

	// Message is the human-readable status text from the service.
	Message string `json:"message"`

	// CheckToken authorizes one follow-up status request for pending
	// verifications. The service rotates it: a status response may carry
	// a fresh token replacing this one. Empty on terminal events.
	CheckToken string `json:"checkToken,omitempty"`
}

// Terminal returns true if the event carries a terminal step.
func (e Event) Terminal() bool {
	return e.CurrentStep.Terminal()
}

// Progress statuses used in addition to step values. Terminal progress
// updates reuse the step string itself as the status.
const (
	// StatusProcessing marks an ID as part of the batch being submitted.
	StatusProcessing = "Processing"

	// StatusRunning marks an ID with an intermediate stream or poll update.
	StatusRunning = "Running"
)

// ProgressEvent is a non-authoritative progress update for one verification.
// Consumers display it; the final result map delivered at job completion is
// the single source of truth for outcomes.
type ProgressEvent struct {
	// VerificationID identifies the verification being reported on.
	VerificationID string

	// Status is a coarse state marker: StatusProcessing, StatusRunning,
	// or a terminal step string ("success", "error").
	Status string

	// Message carries step details, poll counters, or the final result text.
	Message string
}
