package client

import (
	"context"
	"encoding/json"
)

// cancelRequest is the wire payload of a cancellation.
type cancelRequest struct {
	VerificationID string `json:"verificationId"`
}

// CancelResult is the service's response to a cancellation request,
// returned verbatim. Status is "success" or "error" as reported by the
// service; the client does not reinterpret it.
type CancelResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Cancel asks the service to cancel a single verification. Cancellation is
// independent of any running job: it needs only the session token, not a
// check token, and issues exactly one request with no retries.
func (c *Client) Cancel(ctx context.Context, verificationID string) (CancelResult, error) {
	if err := c.EnsureToken(ctx); err != nil {
		return CancelResult{}, &ServiceError{Kind: ErrorKindCancel, Message: "obtaining anti-forgery token", Err: err}
	}

	c.logger.Info().Str("verification_id", verificationID).Msg("Cancelling verification")

	resp, release, err := c.postJSON(ctx, cancelPath, cancelRequest{VerificationID: verificationID}, c.config.CancelTimeout)
	if err != nil {
		clientErrorsTotal.WithLabelValues(string(ErrorKindCancel)).Inc()
		return CancelResult{}, &ServiceError{Kind: ErrorKindCancel, Message: "cancellation request failed", Err: err}
	}
	defer release()
	defer resp.Body.Close()

	// The service reports cancellation outcomes in the JSON body even on
	// non-200 responses, so the body is decoded unconditionally.
	var result CancelResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		clientErrorsTotal.WithLabelValues(string(ErrorKindCancel)).Inc()
		return CancelResult{}, &ServiceError{
			StatusCode: resp.StatusCode,
			Kind:       ErrorKindCancel,
			Message:    "decoding cancel response",
			Err:        err,
		}
	}

	c.logger.Info().
		Str("verification_id", verificationID).
		Str("status", result.Status).
		Msg("Cancellation response received")
	return result, nil
}
