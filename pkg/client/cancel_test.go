package client

import (
	"context"
	"errors"
	"testing"

	"github.com/verikit/sheerid-batch/internal/testutil"
)

func TestCancel_Success(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	c := newTestClient(t, mock)

	result, err := c.Cancel(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if result.Status != "success" {
		t.Errorf("status = %q, want success", result.Status)
	}
	if result.Message != "Verification cancelled" {
		t.Errorf("message = %q, want the verbatim service message", result.Message)
	}
	if got := mock.LastCancelID(); got != "v1" {
		t.Errorf("cancelled id = %q, want v1", got)
	}

	// Cancel is usable without a prior job: it fetches the token itself.
	if got := mock.GetLandingCount(); got != 1 {
		t.Errorf("landing requests = %d, want 1", got)
	}
}

func TestCancel_ServiceReportsError(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	c := newTestClient(t, mock)

	// The service reports failures in the body; the client passes them
	// through instead of turning them into errors.
	mock.SetCancelResponse(200, `{"status":"error","message":"Verification not found"}`)

	result, err := c.Cancel(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if result.Status != "error" {
		t.Errorf("status = %q, want error", result.Status)
	}
	if result.Message != "Verification not found" {
		t.Errorf("message = %q, want the verbatim service message", result.Message)
	}
}

func TestCancel_InvalidResponseBody(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	c := newTestClient(t, mock)

	mock.SetCancelResponse(200, "<html>gateway error</html>")

	_, err := c.Cancel(context.Background(), "v1")
	if err == nil {
		t.Fatal("Cancel() expected error for non-JSON body")
	}

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("error = %T, want *ServiceError", err)
	}
	if svcErr.Kind != ErrorKindCancel {
		t.Errorf("Kind = %q, want %q", svcErr.Kind, ErrorKindCancel)
	}
}

func TestCancel_TokenFetchFailure(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()
	c := newTestClient(t, mock)

	mock.FailLanding(1)

	_, err := c.Cancel(context.Background(), "v1")
	if err == nil {
		t.Fatal("Cancel() expected error when the token cannot be fetched")
	}
	if kind := errorKindOf(err); kind != ErrorKindCancel {
		t.Errorf("error kind = %q, want %q", kind, ErrorKindCancel)
	}
	if got := mock.GetCancelCount(); got != 0 {
		t.Errorf("cancel requests = %d, want 0", got)
	}
}
