package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyhub/platform/internal/infrastructure/cache"
)

// IdempotencyState is the value stored under an idempotency marker.
type IdempotencyState string

const (
	StateProcessing IdempotencyState = "processing"
	StateSent       IdempotencyState = "sent"
	StateFailed     IdempotencyState = "failed"
)

// idempotencyTTL matches the platform-wide idempotency marker lifetime.
const idempotencyTTL = 24 * time.Hour

// IdempotencyStore wraps the cache's conditional-set primitive with the
// marker key scheme shared by the gateway (request dedupe) and the worker
// (delivery dedupe).
type IdempotencyStore struct {
	cache cache.Cache
}

// NewIdempotencyStore wraps c.
func NewIdempotencyStore(c cache.Cache) *IdempotencyStore {
	return &IdempotencyStore{cache: c}
}

func idempotencyKey(key string) string { return fmt.Sprintf("idempotency:%s", key) }

// Reserve attempts to claim key by writing "processing" iff absent. ok is
// true when this call won the race; when false, current holds whatever
// value is already stored (including "processing" from a concurrent
// claimant, or a terminal "sent"/"failed").
func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (ok bool, current IdempotencyState, err error) {
	set, err := s.cache.SetNX(ctx, idempotencyKey(key), string(StateProcessing), idempotencyTTL)
	if err != nil {
		return false, "", fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if set {
		return true, StateProcessing, nil
	}

	var existing string
	if err := s.cache.Get(ctx, idempotencyKey(key), &existing); err != nil {
		// The key existed a moment ago for SetNX to fail, but may have
		// expired since; treat as if we'd won the race.
		return true, StateProcessing, nil
	}
	return false, IdempotencyState(existing), nil
}

// MarkSent transitions key to the terminal "sent" state.
func (s *IdempotencyStore) MarkSent(ctx context.Context, key string) error {
	return s.cache.Set(ctx, idempotencyKey(key), string(StateSent), idempotencyTTL)
}

// MarkFailed transitions key to the terminal "failed" state.
func (s *IdempotencyStore) MarkFailed(ctx context.Context, key string) error {
	return s.cache.Set(ctx, idempotencyKey(key), string(StateFailed), idempotencyTTL)
}
