// Package audit persists the append-only trail of notification state
// transitions the worker runtime (C7) writes as a side effect of delivery
// outcomes. Rows are never updated; each call to Append inserts exactly
// one row.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Status mirrors the notification lifecycle states a row can record.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusDLQ        Status = "dlq"
)

// Row is one append-only audit log entry.
type Row struct {
	ID               string
	TraceID          string
	UserID           string
	NotificationType string
	TemplateCode     string
	Status           Status
	ErrorMessage     string
	Metadata         map[string]interface{}
	CreatedAt        time.Time
}

// Repository appends audit rows. It has no read, update, or delete method,
// so no existing row is ever mutated through it.
type Repository interface {
	Append(ctx context.Context, row Row) error
}

// PostgresRepository implements Repository over a pgxpool.Pool.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository wires a pool into a Repository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger) Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{pool: pool, logger: logger}
}

// Append inserts row, generating created_at if zero.
func (r *PostgresRepository) Append(ctx context.Context, row Row) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if row.Metadata == nil {
		row.Metadata = map[string]interface{}{}
	}

	metadataJSON, err := json.Marshal(row.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	const query = `
		INSERT INTO audit_logs (
			trace_id, user_id, notification_type, template_code, status,
			error_message, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if _, err := r.pool.Exec(ctx, query,
		row.TraceID, row.UserID, row.NotificationType, row.TemplateCode, row.Status,
		nullableString(row.ErrorMessage), metadataJSON, row.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to append audit row: %w", err)
	}

	r.logger.Debug("audit row appended", "trace_id", row.TraceID, "status", row.Status)
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
