package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyhub/platform/internal/infrastructure/cache"
)

// Status is the lifecycle state of a notification as observed by clients
// polling the status endpoint.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// statusTTL matches the platform-wide notification status record lifetime.
const statusTTL = time.Hour

// Record is the JSON envelope persisted under notification:{id}.
type Record struct {
	NotificationID string    `json:"notification_id"`
	Type           string    `json:"type"`
	UserID         string    `json:"user_id"`
	Recipient      string    `json:"recipient"`
	TemplateCode   string    `json:"template_code"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StatusStore reads and writes Records under the notification:{id} cache key.
type StatusStore struct {
	cache cache.Cache
}

// NewStatusStore wraps c.
func NewStatusStore(c cache.Cache) *StatusStore {
	return &StatusStore{cache: c}
}

func statusKey(id string) string { return fmt.Sprintf("notification:%s", id) }

// Put writes or overwrites the status record for id, refreshing its TTL.
func (s *StatusStore) Put(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = time.Now()
	if err := s.cache.Set(ctx, statusKey(rec.NotificationID), rec, statusTTL); err != nil {
		return fmt.Errorf("failed to write notification status: %w", err)
	}
	return nil
}

// Get reads the status record for id. Returns nil, nil once the TTL expires.
func (s *StatusStore) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := s.cache.Get(ctx, statusKey(id), &rec); err != nil {
		if cache.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read notification status: %w", err)
	}
	return &rec, nil
}

// UpdateStatus is a best-effort convenience for workers transitioning an
// existing record's status field without reconstructing the whole envelope.
func (s *StatusStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	rec.Status = status
	return s.Put(ctx, rec)
}
