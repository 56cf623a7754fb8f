package client

import (
	"context"
	"fmt"

	"github.com/verikit/sheerid-batch/pkg/verify"
)

// batchRequest is the wire payload of a batch submission. HCaptchaToken
// carries the API key; the service accepts it in place of a solved captcha.
// UseLucky and ProgramID are fixed by the service contract.
type batchRequest struct {
	VerificationIDs []string `json:"verificationIds"`
	HCaptchaToken   string   `json:"hCaptchaToken"`
	UseLucky        bool     `json:"useLucky"`
	ProgramID       string   `json:"programId"`
}

// SubmitBatch submits up to verify.BatchSize verification IDs and consumes
// the event stream the service answers with. The returned map holds the last
// event seen for every ID that appeared in the stream; IDs the stream never
// mentioned are absent. On failure the affected IDs are marked error in the
// map (pending events with a check token survive an interrupted stream) and
// the failure is also returned.
//
// A 401/403 response triggers exactly one token refresh and resubmission.
// Failures are terminal for the batch; nothing here retries beyond that.
func (c *Client) SubmitBatch(ctx context.Context, ids []string, onProgress ProgressFunc) (map[string]verify.Event, error) {
	results := make(map[string]verify.Event, len(ids))
	emit := func(ev verify.ProgressEvent) {
		if onProgress != nil {
			onProgress(ev)
		}
	}

	if err := c.EnsureToken(ctx); err != nil {
		markBatchFailed(results, ids, "failed to obtain anti-forgery token: "+err.Error())
		return results, err
	}

	c.logger.Info().Int("batch_size", len(ids)).Msg("Submitting verification batch")

	resp, release, err := c.postJSON(ctx, batchPath, c.batchPayload(ids), c.config.SubmitTimeout)
	if err != nil {
		markBatchFailed(results, ids, "batch submission failed: "+err.Error())
		return results, err
	}

	if isAuthFailure(resp.StatusCode) {
		resp.Body.Close()
		release()

		c.logger.Warn().
			Int("status", resp.StatusCode).
			Msg("Batch rejected for stale token, refreshing and retrying once")
		c.session.Invalidate()
		tokenRefreshesTotal.Inc()

		if err := c.EnsureToken(ctx); err != nil {
			markBatchFailed(results, ids, "failed to refresh anti-forgery token: "+err.Error())
			return results, err
		}

		resp, release, err = c.postJSON(ctx, batchPath, c.batchPayload(ids), c.config.SubmitTimeout)
		if err != nil {
			markBatchFailed(results, ids, "batch resubmission failed: "+err.Error())
			return results, err
		}
		if isAuthFailure(resp.StatusCode) {
			statusCode := resp.StatusCode
			resp.Body.Close()
			release()
			clientErrorsTotal.WithLabelValues(string(ErrorKindAuthExpired)).Inc()
			markBatchFailed(results, ids, "anti-forgery token expired, resubmission rejected")
			return results, &ServiceError{
				StatusCode: statusCode,
				Kind:       ErrorKindAuthExpired,
				Message:    "batch rejected after token refresh",
				Err:        ErrAuthExpired,
			}
		}
	}
	defer release()
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		clientErrorsTotal.WithLabelValues(string(ErrorKindAPI)).Inc()
		markBatchFailed(results, ids, fmt.Sprintf("service rejected batch (status %d)", resp.StatusCode))
		return results, &ServiceError{
			StatusCode: resp.StatusCode,
			Kind:       ErrorKindAPI,
			Message:    "batch submission rejected",
		}
	}

	streamErr := decodeEventStream(resp.Body, func(event verify.Event) {
		results[event.VerificationID] = event
		c.logger.Debug().
			Str("verification_id", event.VerificationID).
			Str("step", string(event.CurrentStep)).
			Msg("Stream event")
		emit(verify.ProgressEvent{
			VerificationID: event.VerificationID,
			Status:         verify.StatusRunning,
			Message:        fmt.Sprintf("Step: %s | Msg: %s", event.CurrentStep, event.Message),
		})
	})
	if streamErr != nil {
		clientErrorsTotal.WithLabelValues(string(ErrorKindTransport)).Inc()
		// Events already received stay usable; pending ones keep their
		// check tokens and can still be polled.
		markBatchFailed(results, ids, "response stream interrupted: "+streamErr.Error())
		return results, &ServiceError{Kind: ErrorKindTransport, Message: "reading event stream", Err: streamErr}
	}

	return results, nil
}

// batchPayload builds the submission payload for a set of IDs.
func (c *Client) batchPayload(ids []string) batchRequest {
	return batchRequest{
		VerificationIDs: ids,
		HCaptchaToken:   c.config.APIKey,
		UseLucky:        false,
		ProgramID:       "",
	}
}

// markBatchFailed writes a terminal error event for every ID the failure
// leaves unresolved. Terminal results stand, and pending events that carry a
// check token stand too: those can still be polled after an interrupted
// stream.
func markBatchFailed(results map[string]verify.Event, ids []string, message string) {
	for _, id := range ids {
		if existing, ok := results[id]; ok && (existing.Terminal() || existing.CheckToken != "") {
			continue
		}
		results[id] = verify.Event{
			VerificationID: id,
			CurrentStep:    verify.StepError,
			Message:        message,
		}
	}
}
