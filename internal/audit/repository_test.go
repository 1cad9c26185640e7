package audit

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a disposable PostgreSQL container and returns a pool
// with the audit_logs table already created.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("notifyhub_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %s", err)
	}

	t.Cleanup(func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate postgres container: %s", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create pool: %s", err)
	}

	const schema = `
	CREATE TABLE audit_logs (
		id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		trace_id          TEXT NOT NULL,
		user_id           TEXT NOT NULL,
		notification_type TEXT NOT NULL,
		template_code     TEXT NOT NULL,
		status            TEXT NOT NULL CHECK (status IN ('queued', 'processing', 'sent', 'failed', 'dlq')),
		error_message     TEXT,
		metadata          JSONB NOT NULL DEFAULT '{}',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		t.Fatalf("failed to create schema: %s", err)
	}

	return pool
}

func TestPostgresRepository_AppendInsertsRow(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	repo := NewRepository(pool, nil)
	ctx := context.Background()

	err := repo.Append(ctx, Row{
		TraceID:          "trace-1",
		UserID:           "user-1",
		NotificationType: "email",
		TemplateCode:     "welcome",
		Status:           StatusSent,
		Metadata:         map[string]interface{}{"attempt": 1},
	})
	require.NoError(t, err)

	var count int
	err = pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs WHERE trace_id = $1", "trace-1").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPostgresRepository_AppendDefaultsCreatedAtAndMetadata(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	repo := NewRepository(pool, nil)
	ctx := context.Background()

	err := repo.Append(ctx, Row{
		TraceID:          "trace-2",
		UserID:           "user-2",
		NotificationType: "push",
		TemplateCode:     "alert",
		Status:           StatusFailed,
	})
	require.NoError(t, err)

	var createdAt time.Time
	var metadata string
	err = pool.QueryRow(ctx,
		"SELECT created_at, metadata::text FROM audit_logs WHERE trace_id = $1", "trace-2",
	).Scan(&createdAt, &metadata)
	require.NoError(t, err)
	assert.False(t, createdAt.IsZero())
	assert.Equal(t, "{}", metadata)
}

func TestPostgresRepository_AppendStoresNullErrorMessageWhenEmpty(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	repo := NewRepository(pool, nil)
	ctx := context.Background()

	err := repo.Append(ctx, Row{
		TraceID:          "trace-3",
		UserID:           "user-3",
		NotificationType: "email",
		TemplateCode:     "welcome",
		Status:           StatusQueued,
	})
	require.NoError(t, err)

	var errorMessage *string
	err = pool.QueryRow(ctx,
		"SELECT error_message FROM audit_logs WHERE trace_id = $1", "trace-3",
	).Scan(&errorMessage)
	require.NoError(t, err)
	assert.Nil(t, errorMessage)
}

func TestPostgresRepository_AppendMultipleRowsNeverMutatesExisting(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	repo := NewRepository(pool, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		status := StatusProcessing
		if i == 2 {
			status = StatusSent
		}
		require.NoError(t, repo.Append(ctx, Row{
			TraceID:          "trace-4",
			UserID:           "user-4",
			NotificationType: "email",
			TemplateCode:     "welcome",
			Status:           status,
		}))
	}

	var count int
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs WHERE trace_id = $1", "trace-4").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
