package store

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/verikit/sheerid-batch/pkg/verify"
)

// setupTestRedis creates a test Redis client.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNew_NilClient(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("New(nil) did not panic")
		}
	}()
	New(nil)
}

func TestStore_MarkVerified(t *testing.T) {
	s := New(setupTestRedis(t))
	ctx := context.Background()

	verified, err := s.IsVerified(ctx, "v1")
	if err != nil {
		t.Fatalf("IsVerified() error = %v", err)
	}
	if verified {
		t.Error("v1 verified before marking")
	}

	if err := s.MarkVerified(ctx, "v1"); err != nil {
		t.Fatalf("MarkVerified() error = %v", err)
	}

	// Marking twice is fine.
	if err := s.MarkVerified(ctx, "v1"); err != nil {
		t.Fatalf("MarkVerified() second call error = %v", err)
	}

	verified, err = s.IsVerified(ctx, "v1")
	if err != nil {
		t.Fatalf("IsVerified() error = %v", err)
	}
	if !verified {
		t.Error("v1 not verified after marking")
	}
}

func TestStore_Verified_Sorted(t *testing.T) {
	s := New(setupTestRedis(t))
	ctx := context.Background()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := s.MarkVerified(ctx, id); err != nil {
			t.Fatalf("MarkVerified(%q) error = %v", id, err)
		}
	}

	ids, err := s.Verified(ctx)
	if err != nil {
		t.Fatalf("Verified() error = %v", err)
	}

	want := []string{"alpha", "bravo", "charlie"}
	if len(ids) != len(want) {
		t.Fatalf("Verified() returned %d ids, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Verified()[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestStore_RecordResult(t *testing.T) {
	s := New(setupTestRedis(t))
	ctx := context.Background()

	event := verify.Event{
		VerificationID: "v1",
		CurrentStep:    verify.StepError,
		Message:        "Polling timeout (120s)",
	}
	if err := s.RecordResult(ctx, event); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	got, found, err := s.Result(ctx, "v1")
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if !found {
		t.Fatal("Result() found = false after RecordResult")
	}
	if got.VerificationID != "v1" {
		t.Errorf("VerificationID = %q, want v1", got.VerificationID)
	}
	if got.CurrentStep != verify.StepError {
		t.Errorf("CurrentStep = %q, want error", got.CurrentStep)
	}
	if got.Message != event.Message {
		t.Errorf("Message = %q, want %q", got.Message, event.Message)
	}
}

func TestStore_RecordResult_Overwrites(t *testing.T) {
	s := New(setupTestRedis(t))
	ctx := context.Background()

	first := verify.Event{VerificationID: "v1", CurrentStep: verify.StepError, Message: "Polling timeout (120s)"}
	if err := s.RecordResult(ctx, first); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	second := verify.Event{VerificationID: "v1", CurrentStep: verify.StepSuccess, Message: "Verified"}
	if err := s.RecordResult(ctx, second); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	got, found, err := s.Result(ctx, "v1")
	if err != nil || !found {
		t.Fatalf("Result() = %v, %v, %v", got, found, err)
	}
	if got.CurrentStep != verify.StepSuccess {
		t.Errorf("CurrentStep = %q, want the later result", got.CurrentStep)
	}
}

func TestStore_RecordResult_RejectsEmptyID(t *testing.T) {
	s := New(setupTestRedis(t))

	err := s.RecordResult(context.Background(), verify.Event{CurrentStep: verify.StepSuccess})
	if err == nil {
		t.Error("RecordResult() accepted an event without a verification id")
	}
}

func TestStore_Result_NotFound(t *testing.T) {
	s := New(setupTestRedis(t))

	_, found, err := s.Result(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if found {
		t.Error("Result() found = true for a missing record")
	}
}
