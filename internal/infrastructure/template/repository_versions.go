package template

import (
	"context"
	"fmt"
	"time"
)

// CreateVersion inserts a standalone version snapshot. Create and Update
// write their own snapshots directly and do not go through it.
func (r *DefaultTemplateRepository) CreateVersion(ctx context.Context, version *TemplateVersion) error {
	contentJSON, variablesJSON, err := marshalTemplateFields(version.Content, version.Variables)
	if err != nil {
		return err
	}

	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO template_versions (
			id, template_id, version, type, content, variables, description,
			created_at, created_by, change_summary
		) VALUES (
			gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING id
	`

	row := r.db.QueryRow(ctx, query,
		version.TemplateID, version.Version, version.Type, contentJSON, variablesJSON, version.Description,
		version.CreatedAt, version.CreatedBy, version.ChangeSummary,
	)

	if err := row.Scan(&version.ID); err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}

	r.logger.Info("version created", "version_id", version.ID, "template_id", version.TemplateID, "version", version.Version)
	return nil
}

// ListVersions retrieves a template's version history, newest first.
func (r *DefaultTemplateRepository) ListVersions(ctx context.Context, templateID string, filters VersionFilters) ([]*TemplateVersion, int, error) {
	countQuery := `SELECT COUNT(*) FROM template_versions WHERE template_id = $1`
	var total int
	row := r.db.QueryRow(ctx, countQuery, templateID)
	if err := row.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count versions: %w", err)
	}

	query := `
		SELECT id, template_id, version, type, content, variables, description,
		       created_at, created_by, change_summary
		FROM template_versions
		WHERE template_id = $1
		ORDER BY version DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, templateID, filters.Limit, filters.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	versions := make([]*TemplateVersion, 0, filters.Limit)
	for rows.Next() {
		version, err := scanTemplateVersion(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return versions, total, nil
}

// GetVersion retrieves a specific historical version of a template.
// Returns ErrVersionNotFound if that version doesn't exist.
func (r *DefaultTemplateRepository) GetVersion(ctx context.Context, templateID string, versionNum int) (*TemplateVersion, error) {
	query := `
		SELECT id, template_id, version, type, content, variables, description,
		       created_at, created_by, change_summary
		FROM template_versions
		WHERE template_id = $1 AND version = $2
	`

	row := r.db.QueryRow(ctx, query, templateID, versionNum)
	version, err := scanTemplateVersion(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return version, nil
}

// GetByCodeVersion resolves a specific historical version by the template's
// natural key, for callers (the resolver) that don't already hold the
// surrogate template_id. Returns ErrTemplateNotFound if no version matches.
func (r *DefaultTemplateRepository) GetByCodeVersion(ctx context.Context, code, language string, version int) (*Template, error) {
	query := `
		SELECT t.id, t.code, tv.type, t.language, tv.content, tv.variables, tv.description,
		       tv.version, tv.created_at, t.updated_at, tv.created_by, t.updated_by, t.deleted_at
		FROM template_versions tv
		JOIN templates t ON t.id = tv.template_id
		WHERE t.code = $1 AND t.language = $2 AND tv.version = $3
	`

	row := r.db.QueryRow(ctx, query, code, language, version)
	tpl, err := scanTemplate(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template version: %w", err)
	}
	return tpl, nil
}
