package template

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

func setupTemplateTestDB(t *testing.T) *pgxpool.Pool {
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
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := postgresContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	const schema = `
		CREATE TABLE templates (
			id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			code        TEXT NOT NULL,
			type        TEXT NOT NULL CHECK (type IN ('email', 'push')),
			language    TEXT NOT NULL,
			content     JSONB NOT NULL DEFAULT '{}',
			variables   JSONB NOT NULL DEFAULT '[]',
			description TEXT NOT NULL DEFAULT '',
			version     INTEGER NOT NULL DEFAULT 1,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_by  TEXT NOT NULL DEFAULT '',
			updated_by  TEXT NOT NULL DEFAULT '',
			deleted_at  TIMESTAMPTZ
		);

		CREATE UNIQUE INDEX idx_templates_code_language_active
			ON templates (code, language)
			WHERE deleted_at IS NULL;

		CREATE TABLE template_versions (
			id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			template_id    UUID NOT NULL REFERENCES templates (id) ON DELETE CASCADE,
			version        INTEGER NOT NULL,
			type           TEXT NOT NULL CHECK (type IN ('email', 'push')),
			content        JSONB NOT NULL DEFAULT '{}',
			variables      JSONB NOT NULL DEFAULT '[]',
			description    TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_by     TEXT NOT NULL DEFAULT '',
			change_summary TEXT NOT NULL DEFAULT ''
		);

		CREATE UNIQUE INDEX idx_template_versions_template_version
			ON template_versions (template_id, version);
	`
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	return pool
}

func newTemplateRepo(t *testing.T, pool *pgxpool.Pool) TemplateRepository {
	repo, err := NewTemplateRepository(pool, nil)
	require.NoError(t, err)
	return repo
}

func sampleTemplate(code, language string) *Template {
	return &Template{
		Code:        code,
		Type:        TypeEmail,
		Language:    language,
		Content:     map[string]string{"subject": "Hi {{name}}"},
		Variables:   []string{"name"},
		Description: "welcome email",
		CreatedBy:   "tester",
		UpdatedBy:   "tester",
	}
}

func TestPostgresTemplateRepository_CreateAndGetByCode(t *testing.T) {
	pool := setupTemplateTestDB(t)
	repo := newTemplateRepo(t, pool)
	ctx := context.Background()

	tpl := sampleTemplate("welcome", "en")
	require.NoError(t, repo.Create(ctx, tpl))
	assert.NotEmpty(t, tpl.ID)
	assert.Equal(t, 1, tpl.Version)

	got, err := repo.GetByCode(ctx, "welcome", "en")
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, got.ID)
	assert.Equal(t, "Hi {{name}}", got.Content["subject"])
}

func TestPostgresTemplateRepository_CreateRejectsDuplicateCodeLanguage(t *testing.T) {
	pool := setupTemplateTestDB(t)
	repo := newTemplateRepo(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleTemplate("welcome", "en")))
	err := repo.Create(ctx, sampleTemplate("welcome", "en"))
	assert.ErrorIs(t, err, ErrTemplateExists)
}

func TestPostgresTemplateRepository_GetByCodeReturnsNotFound(t *testing.T) {
	pool := setupTemplateTestDB(t)
	repo := newTemplateRepo(t, pool)

	_, err := repo.GetByCode(context.Background(), "missing", "en")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestPostgresTemplateRepository_UpdateBumpsVersionAndSnapshotsPrior(t *testing.T) {
	pool := setupTemplateTestDB(t)
	repo := newTemplateRepo(t, pool)
	ctx := context.Background()

	tpl := sampleTemplate("welcome", "en")
	require.NoError(t, repo.Create(ctx, tpl))

	tpl.Content = map[string]string{"subject": "Hello {{name}}!"}
	tpl.Description = "updated"
	require.NoError(t, repo.Update(ctx, tpl))
	assert.Equal(t, 2, tpl.Version)

	got, err := repo.GetByCode(ctx, "welcome", "en")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "Hello {{name}}!", got.Content["subject"])

	versions, total, err := repo.ListVersions(ctx, tpl.ID, VersionFilters{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, versions[0].Version)
}

func TestPostgresTemplateRepository_UpdateUnknownReturnsNotFound(t *testing.T) {
	pool := setupTemplateTestDB(t)
	repo := newTemplateRepo(t, pool)

	err := repo.Update(context.Background(), &Template{ID: "00000000-0000-0000-0000-000000000000"})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestPostgresTemplateRepository_SoftDeleteHidesFromGetAndExists(t *testing.T) {
	pool := setupTemplateTestDB(t)
	repo := newTemplateRepo(t, pool)
	ctx := context.Background()

	tpl := sampleTemplate("welcome", "en")
	require.NoError(t, repo.Create(ctx, tpl))

	require.NoError(t, repo.Delete(ctx, "welcome", "en", true))

	_, err := repo.GetByCode(ctx, "welcome", "en")
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	exists, err := repo.Exists(ctx, "welcome", "en")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPostgresTemplateRepository_DeleteUnknownReturnsNotFound(t *testing.T) {
	pool := setupTemplateTestDB(t)
	repo := newTemplateRepo(t, pool)

	err := repo.Delete(context.Background(), "missing", "en", true)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestPostgresTemplateRepository_ListFiltersByLanguageAndPaginates(t *testing.T) {
	pool := setupTemplateTestDB(t)
	repo := newTemplateRepo(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleTemplate("welcome", "en")))
	require.NoError(t, repo.Create(ctx, sampleTemplate("reminder", "en")))
	require.NoError(t, repo.Create(ctx, sampleTemplate("welcome", "fr")))

	items, total, err := repo.List(ctx, ListFilters{Language: "en", Limit: 10, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)
}

func TestPostgresTemplateRepository_CountByLanguage(t *testing.T) {
	pool := setupTemplateTestDB(t)
	repo := newTemplateRepo(t, pool)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleTemplate("welcome", "en")))
	require.NoError(t, repo.Create(ctx, sampleTemplate("reminder", "en")))
	require.NoError(t, repo.Create(ctx, sampleTemplate("welcome", "fr")))

	counts, err := repo.CountByLanguage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["en"])
	assert.Equal(t, 1, counts["fr"])
}

func TestPostgresTemplateRepository_GetByCodeVersionReturnsHistoricalSnapshot(t *testing.T) {
	pool := setupTemplateTestDB(t)
	repo := newTemplateRepo(t, pool)
	ctx := context.Background()

	tpl := sampleTemplate("welcome", "en")
	require.NoError(t, repo.Create(ctx, tpl))

	tpl.Content = map[string]string{"subject": "v2 subject"}
	require.NoError(t, repo.Update(ctx, tpl))

	v1, err := repo.GetVersion(ctx, tpl.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Hi {{name}}", v1.Content["subject"])

	byCode, err := repo.GetByCodeVersion(ctx, "welcome", "en", 1)
	require.NoError(t, err)
	assert.Equal(t, "Hi {{name}}", byCode.Content["subject"])
}
