package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/verikit/sheerid-batch/internal/testutil"
)

func TestSession_EnsureToken(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()

	session, err := NewSession(mock.URL(), DefaultUserAgent)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	ctx := context.Background()
	if err := session.EnsureToken(ctx); err != nil {
		t.Fatalf("EnsureToken() error = %v", err)
	}

	if session.Token() != testutil.DefaultCSRFToken {
		t.Errorf("Token() = %q, want %q", session.Token(), testutil.DefaultCSRFToken)
	}
	if got := mock.GetLandingCount(); got != 1 {
		t.Errorf("landing requests = %d, want 1", got)
	}

	// Token is cached; no second landing fetch.
	if err := session.EnsureToken(ctx); err != nil {
		t.Fatalf("EnsureToken() second call error = %v", err)
	}
	if got := mock.GetLandingCount(); got != 1 {
		t.Errorf("landing requests after cached call = %d, want 1", got)
	}
}

func TestSession_EnsureToken_Invalidate(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()

	session, err := NewSession(mock.URL(), DefaultUserAgent)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	ctx := context.Background()
	if err := session.EnsureToken(ctx); err != nil {
		t.Fatalf("EnsureToken() error = %v", err)
	}

	mock.SetCSRFToken("rotated-token-2")
	session.Invalidate()

	if session.Token() != "" {
		t.Errorf("Token() after Invalidate = %q, want empty", session.Token())
	}

	if err := session.EnsureToken(ctx); err != nil {
		t.Fatalf("EnsureToken() after Invalidate error = %v", err)
	}
	if session.Token() != "rotated-token-2" {
		t.Errorf("Token() = %q, want rotated token", session.Token())
	}
	if got := mock.GetLandingCount(); got != 2 {
		t.Errorf("landing requests = %d, want 2", got)
	}
}

func TestSession_EnsureToken_TokenMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>No token here</body></html>"))
	}))
	defer server.Close()

	session, err := NewSession(server.URL, DefaultUserAgent)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	err = session.EnsureToken(context.Background())
	if err == nil {
		t.Fatal("EnsureToken() expected error for tokenless page")
	}
	if !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("error = %v, want ErrTokenNotFound in chain", err)
	}

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("error = %T, want *ServiceError", err)
	}
	if svcErr.Kind != ErrorKindTokenFetch {
		t.Errorf("Kind = %q, want %q", svcErr.Kind, ErrorKindTokenFetch)
	}
}

func TestSession_EnsureToken_LandingFailure(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()

	mock.FailLanding(1)

	session, err := NewSession(mock.URL(), DefaultUserAgent)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	err = session.EnsureToken(context.Background())
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("error = %v, want *ServiceError", err)
	}
	if svcErr.Kind != ErrorKindTokenFetch {
		t.Errorf("Kind = %q, want %q", svcErr.Kind, ErrorKindTokenFetch)
	}
	if svcErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", svcErr.StatusCode)
	}
}

func TestSession_AppliesBrowserHeaders(t *testing.T) {
	mock := testutil.NewMockService()
	defer mock.Close()

	session, err := NewSession(mock.URL(), "TestAgent/1.0")
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if err := session.EnsureToken(context.Background()); err != nil {
		t.Fatalf("EnsureToken() error = %v", err)
	}

	header := mock.LastRequestHeader()
	if got := header.Get("User-Agent"); got != "TestAgent/1.0" {
		t.Errorf("User-Agent = %q, want %q", got, "TestAgent/1.0")
	}
	if got := header.Get("Origin"); got != mock.URL() {
		t.Errorf("Origin = %q, want %q", got, mock.URL())
	}
	if got := header.Get("Referer"); got != mock.URL()+"/" {
		t.Errorf("Referer = %q, want %q", got, mock.URL()+"/")
	}
}
