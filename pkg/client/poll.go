package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/verikit/sheerid-batch/pkg/verify"
)

// statusRequest is the wire payload of a status poll. The check token both
// identifies the verification and authorizes the request.
type statusRequest struct {
	CheckToken string `json:"checkToken"`
}

// PollStatus drives a pending verification to a terminal result. Each
// iteration waits PollInterval, then issues one status request with the
// current check token; a response may rotate the token for the next
// iteration. Always returns a terminal event: the polled result, an error
// event on a failed status request, or a timeout error event once
// MaxPollAttempts is exhausted.
//
// Polling stops early only on context cancellation. A failed status request
// is terminal; the check token may have been consumed, so the request is
// not retried.
func (c *Client) PollStatus(ctx context.Context, verificationID, checkToken string, onProgress ProgressFunc) verify.Event {
	logger := c.logger.With().Str("verification_id", verificationID).Logger()
	emit := func(ev verify.ProgressEvent) {
		if onProgress != nil {
			onProgress(ev)
		}
	}

	token := checkToken
	for attempt := 1; attempt <= c.config.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			logger.Warn().Int("attempt", attempt).Msg("Status polling cancelled")
			return verify.Event{
				VerificationID: verificationID,
				CurrentStep:    verify.StepError,
				Message:        "status polling cancelled: " + ctx.Err().Error(),
			}
		case <-time.After(c.config.PollInterval):
		}

		event, err := c.checkStatus(ctx, token)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Status check failed")
			return verify.Event{
				VerificationID: verificationID,
				CurrentStep:    verify.StepError,
				Message:        "status check failed: " + err.Error(),
			}
		}
		pollAttemptsTotal.Inc()

		if event.VerificationID == "" {
			event.VerificationID = verificationID
		}

		emit(verify.ProgressEvent{
			VerificationID: verificationID,
			Status:         verify.StatusRunning,
			Message: fmt.Sprintf("Polling: %s (%d/%d) | Msg: %s",
				event.CurrentStep, attempt, c.config.MaxPollAttempts, event.Message),
		})

		if event.Terminal() {
			logger.Info().
				Str("step", string(event.CurrentStep)).
				Int("attempts", attempt).
				Msg("Verification reached terminal state")
			return event
		}

		if event.CheckToken != "" {
			token = event.CheckToken
		}
		logger.Debug().
			Int("attempt", attempt).
			Str("step", string(event.CurrentStep)).
			Msg("Verification still pending")
	}

	pollTimeoutsTotal.Inc()
	budget := time.Duration(c.config.MaxPollAttempts) * c.config.PollInterval
	logger.Warn().Dur("budget", budget).Msg("Poll attempts exhausted")
	return verify.Event{
		VerificationID: verificationID,
		CurrentStep:    verify.StepError,
		Message:        fmt.Sprintf("Polling timeout (%.0fs)", budget.Seconds()),
	}
}

// checkStatus issues one status request.
func (c *Client) checkStatus(ctx context.Context, checkToken string) (verify.Event, error) {
	resp, release, err := c.postJSON(ctx, checkStatusPath, statusRequest{CheckToken: checkToken}, c.config.PollTimeout)
	if err != nil {
		return verify.Event{}, err
	}
	defer release()
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		clientErrorsTotal.WithLabelValues(string(ErrorKindAPI)).Inc()
		return verify.Event{}, &ServiceError{
			StatusCode: resp.StatusCode,
			Kind:       ErrorKindAPI,
			Message:    "status check rejected",
		}
	}

	var event verify.Event
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		clientErrorsTotal.WithLabelValues(string(ErrorKindAPI)).Inc()
		return verify.Event{}, &ServiceError{Kind: ErrorKindAPI, Message: "decoding status response", Err: err}
	}
	return event, nil
}
