package template

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Create inserts a new template at version 1 along with its initial version
// snapshot. Returns ErrTemplateExists if (code, language) already exists.
func (r *DefaultTemplateRepository) Create(ctx context.Context, tpl *Template) error {
	start := time.Now()
	defer func() {
		r.logger.Debug("template create operation",
			"code", tpl.Code, "language", tpl.Language,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	exists, err := r.Exists(ctx, tpl.Code, tpl.Language)
	if err != nil {
		return fmt.Errorf("failed to check template existence: %w", err)
	}
	if exists {
		return ErrTemplateExists
	}

	contentJSON, variablesJSON, err := marshalTemplateFields(tpl.Content, tpl.Variables)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	if tpl.UpdatedAt.IsZero() {
		tpl.UpdatedAt = now
	}
	if tpl.Version == 0 {
		tpl.Version = 1
	}

	query := `
		INSERT INTO templates (
			id, code, type, language, content, variables, description,
			version, created_at, updated_at, created_by, updated_by
		) VALUES (
			gen_random_uuid(), $1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
		RETURNING id
	`

	row := tx.QueryRow(ctx, query,
		tpl.Code,
		tpl.Type,
		tpl.Language,
		contentJSON,
		variablesJSON,
		tpl.Description,
		tpl.Version,
		tpl.CreatedAt,
		tpl.UpdatedAt,
		tpl.CreatedBy,
		tpl.UpdatedBy,
	)

	if err := row.Scan(&tpl.ID); err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}

	versionQuery := `
		INSERT INTO template_versions (
			template_id, version, type, content, variables, description,
			created_at, created_by, change_summary
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = tx.Exec(ctx, versionQuery,
		tpl.ID, tpl.Version, tpl.Type, contentJSON, variablesJSON, tpl.Description,
		tpl.CreatedAt, tpl.CreatedBy, "Initial version",
	)
	if err != nil {
		return fmt.Errorf("failed to create initial version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("template created", "template_id", tpl.ID, "code", tpl.Code, "language", tpl.Language, "version", tpl.Version)
	return nil
}

// GetByCode retrieves a template by its (code, language) natural key.
// Returns ErrTemplateNotFound if not found or soft-deleted.
func (r *DefaultTemplateRepository) GetByCode(ctx context.Context, code, language string) (*Template, error) {
	query := `
		SELECT id, code, type, language, content, variables, description,
		       version, created_at, updated_at, created_by, updated_by, deleted_at
		FROM templates
		WHERE code = $1 AND language = $2 AND deleted_at IS NULL
	`

	row := r.db.QueryRow(ctx, query, code, language)
	tpl, err := scanTemplate(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tpl, nil
}

// GetByID retrieves a template by its surrogate ID.
// Returns ErrTemplateNotFound if not found or soft-deleted.
func (r *DefaultTemplateRepository) GetByID(ctx context.Context, id string) (*Template, error) {
	query := `
		SELECT id, code, type, language, content, variables, description,
		       version, created_at, updated_at, created_by, updated_by, deleted_at
		FROM templates
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := r.db.QueryRow(ctx, query, id)
	tpl, err := scanTemplate(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tpl, nil
}

// List retrieves templates with filtering and pagination, returning the
// page and the total matching count.
func (r *DefaultTemplateRepository) List(ctx context.Context, filters ListFilters) ([]*Template, int, error) {
	whereClause := "WHERE deleted_at IS NULL"
	args := []interface{}{}
	argIndex := 1

	if filters.Language != "" {
		whereClause += fmt.Sprintf(" AND language = $%d", argIndex)
		args = append(args, filters.Language)
		argIndex++
	}

	if filters.Search != "" {
		whereClause += fmt.Sprintf(
			" AND to_tsvector('english', code || ' ' || coalesce(description, '')) @@ plainto_tsquery('english', $%d)",
			argIndex,
		)
		args = append(args, filters.Search)
		argIndex++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM templates %s", whereClause)
	var total int
	row := r.db.QueryRow(ctx, countQuery, args...)
	if err := row.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count templates: %w", err)
	}

	orderBy := "ORDER BY code ASC, language ASC"
	if filters.Sort != "" {
		direction := "ASC"
		if filters.Order == "desc" {
			direction = "DESC"
		}
		orderBy = fmt.Sprintf("ORDER BY %s %s", filters.Sort, direction)
	}

	query := fmt.Sprintf(`
		SELECT id, code, type, language, content, variables, description,
		       version, created_at, updated_at, created_by, updated_by, deleted_at
		FROM templates
		%s
		%s
		LIMIT $%d OFFSET $%d
	`, whereClause, orderBy, argIndex, argIndex+1)

	args = append(args, filters.Limit, filters.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	templates := make([]*Template, 0, filters.Limit)
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return templates, total, nil
}

// Update applies changes to an existing template, bumping its version and
// writing a snapshot of the prior version unless template_versions already
// holds that version (Create writes version 1 itself). Returns
// ErrTemplateNotFound if the template doesn't exist.
func (r *DefaultTemplateRepository) Update(ctx context.Context, tpl *Template) error {
	current, err := r.GetByID(ctx, tpl.ID)
	if err != nil {
		return err
	}

	contentJSON, variablesJSON, err := marshalTemplateFields(tpl.Content, tpl.Variables)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tpl.Version = current.Version + 1
	tpl.UpdatedAt = time.Now()

	query := `
		UPDATE templates
		SET content = $1, variables = $2, description = $3, type = $4,
		    version = $5, updated_at = $6, updated_by = $7
		WHERE id = $8 AND deleted_at IS NULL
	`

	result, err := tx.Exec(ctx, query,
		contentJSON, variablesJSON, tpl.Description, tpl.Type,
		tpl.Version, tpl.UpdatedAt, tpl.UpdatedBy, tpl.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTemplateNotFound
	}

	currentContentJSON, currentVariablesJSON, err := marshalTemplateFields(current.Content, current.Variables)
	if err != nil {
		return err
	}

	versionQuery := `
		INSERT INTO template_versions (
			template_id, version, type, content, variables, description,
			created_at, created_by, change_summary
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (template_id, version) DO NOTHING
	`

	_, err = tx.Exec(ctx, versionQuery,
		current.ID, current.Version, current.Type, currentContentJSON, currentVariablesJSON, current.Description,
		current.UpdatedAt, current.UpdatedBy, fmt.Sprintf("Updated to version %d", tpl.Version),
	)
	if err != nil {
		return fmt.Errorf("failed to create version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("template updated", "template_id", tpl.ID, "old_version", current.Version, "new_version", tpl.Version)
	return nil
}

// Delete retires a template. soft=true sets deleted_at, preserving historical
// dereferencing of old audit rows against this (code, version); soft=false
// physically removes the row and cascades to its versions.
func (r *DefaultTemplateRepository) Delete(ctx context.Context, code, language string, soft bool) error {
	if soft {
		query := `
			UPDATE templates
			SET deleted_at = $1
			WHERE code = $2 AND language = $3 AND deleted_at IS NULL
		`

		result, err := r.db.Exec(ctx, query, time.Now(), code, language)
		if err != nil {
			return fmt.Errorf("failed to soft delete template: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return ErrTemplateNotFound
		}

		r.logger.Info("template soft deleted", "code", code, "language", language)
		return nil
	}

	query := `DELETE FROM templates WHERE code = $1 AND language = $2`

	result, err := r.db.Exec(ctx, query, code, language)
	if err != nil {
		return fmt.Errorf("failed to hard delete template: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTemplateNotFound
	}

	r.logger.Info("template hard deleted", "code", code, "language", language)
	return nil
}

// Exists reports whether an active (code, language) template exists.
func (r *DefaultTemplateRepository) Exists(ctx context.Context, code, language string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM templates WHERE code = $1 AND language = $2 AND deleted_at IS NULL)`

	var exists bool
	row := r.db.QueryRow(ctx, query, code, language)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check template existence: %w", err)
	}
	return exists, nil
}

// CountByLanguage returns the number of active templates per language.
func (r *DefaultTemplateRepository) CountByLanguage(ctx context.Context) (map[string]int, error) {
	query := `SELECT language, COUNT(*) FROM templates WHERE deleted_at IS NULL GROUP BY language`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count templates by language: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var language string
		var count int
		if err := rows.Scan(&language, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[language] = count
	}
	return counts, rows.Err()
}

func marshalTemplateFields(content map[string]string, variables []string) (contentJSON, variablesJSON []byte, err error) {
	contentJSON, err = json.Marshal(content)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal content: %w", err)
	}
	variablesJSON, err = json.Marshal(variables)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal variables: %w", err)
	}
	return contentJSON, variablesJSON, nil
}
