// Package store persists verification outcomes in Redis: a set of verified
// IDs and one result record per processed verification. It backs the
// runner's verified hook and lets repeated runs skip IDs that already
// passed.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verikit/sheerid-batch/pkg/verify"
)

// Redis keys for verification records.
const (
	// KeyVerifiedSet holds the IDs of all verified verifications.
	KeyVerifiedSet = "sheerid:verified"

	// KeyResultPrefix prefixes the per-ID result hash.
	KeyResultPrefix = "sheerid:result:"
)

// Result hash fields.
const (
	fieldStep       = "step"
	fieldMessage    = "message"
	fieldRecordedAt = "recorded_at"
)

// Store handles verification record persistence with a Redis backend.
type Store struct {
	redis *redis.Client
}

// New creates a store on the given Redis client.
func New(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Store{
		redis: redisClient,
	}
}

// MarkVerified adds an ID to the verified set. Safe to call repeatedly for
// the same ID. Matches the runner's VerifiedHook signature.
func (s *Store) MarkVerified(ctx context.Context, verificationID string) error {
	if err := s.redis.SAdd(ctx, KeyVerifiedSet, verificationID).Err(); err != nil {
		StoreErrors.WithLabelValues("mark_verified").Inc()
		return fmt.Errorf("redis sadd: %w", err)
	}
	StoreOperations.WithLabelValues("mark_verified").Inc()
	return nil
}

// IsVerified reports whether an ID is in the verified set.
func (s *Store) IsVerified(ctx context.Context, verificationID string) (bool, error) {
	member, err := s.redis.SIsMember(ctx, KeyVerifiedSet, verificationID).Result()
	if err != nil {
		StoreErrors.WithLabelValues("is_verified").Inc()
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	StoreOperations.WithLabelValues("is_verified").Inc()
	return member, nil
}

// Verified returns all verified IDs, sorted for stable output.
func (s *Store) Verified(ctx context.Context) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, KeyVerifiedSet).Result()
	if err != nil {
		StoreErrors.WithLabelValues("verified").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(ids)
	StoreOperations.WithLabelValues("verified").Inc()
	return ids, nil
}

// RecordResult stores the terminal result of one verification. The record
// is overwritten on repeated runs; the latest outcome is the one that
// matters.
func (s *Store) RecordResult(ctx context.Context, event verify.Event) error {
	if event.VerificationID == "" {
		return fmt.Errorf("event has no verification id")
	}

	key := KeyResultPrefix + event.VerificationID
	err := s.redis.HSet(ctx, key,
		fieldStep, string(event.CurrentStep),
		fieldMessage, event.Message,
		fieldRecordedAt, time.Now().UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		StoreErrors.WithLabelValues("record_result").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}
	StoreOperations.WithLabelValues("record_result").Inc()
	return nil
}

// Result retrieves the stored result of a verification. The second return
// is false if no record exists.
func (s *Store) Result(ctx context.Context, verificationID string) (verify.Event, bool, error) {
	key := KeyResultPrefix + verificationID
	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		StoreErrors.WithLabelValues("result").Inc()
		return verify.Event{}, false, fmt.Errorf("redis hgetall: %w", err)
	}
	StoreOperations.WithLabelValues("result").Inc()

	if len(fields) == 0 {
		return verify.Event{}, false, nil
	}

	return verify.Event{
		VerificationID: verificationID,
		CurrentStep:    verify.Step(fields[fieldStep]),
		Message:        fields[fieldMessage],
	}, true, nil
}
