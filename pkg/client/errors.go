package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrTokenNotFound is returned when the landing page does not contain
	// an anti-forgery token.
	ErrTokenNotFound = errors.New("anti-forgery token not found in landing page")

	// ErrAuthExpired is returned when a request is rejected for a stale
	// token even after one refresh and retry.
	ErrAuthExpired = errors.New("anti-forgery token expired")
)

// ErrorKind classifies client failures.
type ErrorKind string

const (
	// ErrorKindTokenFetch covers failures to obtain the anti-forgery token
	// from the landing page.
	ErrorKindTokenFetch ErrorKind = "token_fetch"

	// ErrorKindTransport covers network failures, timeouts, and interrupted
	// response streams.
	ErrorKindTransport ErrorKind = "transport"

	// ErrorKindAuthExpired covers 401/403 rejections that persist after the
	// single token refresh and retry.
	ErrorKindAuthExpired ErrorKind = "auth_expired"

	// ErrorKindAPI covers non-auth error responses from the service.
	ErrorKindAPI ErrorKind = "api"

	// ErrorKindCancel covers failed cancellation requests.
	ErrorKindCancel ErrorKind = "cancel"
)

// ServiceError is a verification-service error with classification context.
type ServiceError struct {
	StatusCode int
	Kind       ErrorKind
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verification service %s error (status %d): %s: %v",
			e.Kind, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("verification service %s error (status %d): %s",
		e.Kind, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// isAuthFailure reports whether a status code signals a rejected
// anti-forgery token. The service answers 401 or 403 depending on whether
// the token is missing or stale.
func isAuthFailure(statusCode int) bool {
	return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
}

// errorKindOf extracts the ErrorKind from an error chain. Errors that are
// not ServiceErrors reach callers only from the transport layer.
func errorKindOf(err error) ErrorKind {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return ErrorKindTransport
}
