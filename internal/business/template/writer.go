package template

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/notifyhub/platform/internal/api/errors"
	infratemplate "github.com/notifyhub/platform/internal/infrastructure/template"
	"github.com/notifyhub/platform/internal/broker"
)

// CreateInput describes a new template submission.
type CreateInput struct {
	Code        string
	Type        infratemplate.Type
	Language    string
	Content     map[string]string
	Variables   []string
	Description string
	CreatedBy   string
}

// UpdateInput describes a partial template update; nil fields are left
// unchanged (last-write-wins only on fields actually provided).
type UpdateInput struct {
	Type        *infratemplate.Type
	Content     map[string]string
	Variables   []string
	Description *string
	UpdatedBy   string
}

// templateUpdatedEvent is the JSON body published to notifications.direct
// with routing key template.updated whenever a template is created or
// revised.
type templateUpdatedEvent struct {
	Code      string    `json:"code"`
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// TemplateWriter creates, updates, and deletes templates, validating
// placeholders and enforcing monotonic versioning.
type TemplateWriter interface {
	Create(ctx context.Context, in CreateInput) (*infratemplate.Template, []string, error)
	Update(ctx context.Context, code, language string, in UpdateInput) (*infratemplate.Template, []string, error)
	Delete(ctx context.Context, code, language string, hard bool) error
}

// DefaultTemplateWriter implements TemplateWriter.
type DefaultTemplateWriter struct {
	repo      infratemplate.TemplateRepository
	cache     infratemplate.TemplateCache
	publisher broker.Publisher
	logger    *slog.Logger
}

// NewTemplateWriter wires a repository, cache, and event publisher into a
// writer.
func NewTemplateWriter(repo infratemplate.TemplateRepository, cache infratemplate.TemplateCache, publisher broker.Publisher, logger *slog.Logger) TemplateWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultTemplateWriter{repo: repo, cache: cache, publisher: publisher, logger: logger}
}

// Create validates placeholders, requires no existing row for
// (code, language), inserts at version 1, warms the cache for both
// "latest" and "1", and emits template.updated.
func (w *DefaultTemplateWriter) Create(ctx context.Context, in CreateInput) (*infratemplate.Template, []string, error) {
	if !in.Type.Valid() {
		return nil, nil, errors.Validation("type must be one of: email, push")
	}

	warnings, err := ValidatePlaceholders(in.Content, in.Variables)
	if err != nil {
		return nil, nil, errors.Validation(err.Error())
	}

	exists, err := w.repo.Exists(ctx, in.Code, in.Language)
	if err != nil {
		return nil, nil, errors.Internal("failed to check template existence")
	}
	if exists {
		return nil, nil, errors.Conflict("template already exists for this code and language")
	}

	tpl := &infratemplate.Template{
		Code:        in.Code,
		Type:        in.Type,
		Language:    in.Language,
		Version:     1,
		Content:     in.Content,
		Variables:   in.Variables,
		Description: in.Description,
		CreatedBy:   in.CreatedBy,
		UpdatedBy:   in.CreatedBy,
	}

	if err := w.repo.Create(ctx, tpl); err != nil {
		if err == infratemplate.ErrTemplateExists {
			return nil, nil, errors.Conflict("template already exists for this code and language")
		}
		return nil, nil, errors.Internal("failed to create template")
	}

	w.warmCache(ctx, tpl)
	w.publishUpdated(ctx, tpl)

	w.logger.Info("template created", "code", tpl.Code, "language", tpl.Language, "version", tpl.Version)
	return tpl, warnings, nil
}

// Update loads the latest row, merges provided fields, re-validates
// placeholders, and inserts a new monotonic version.
func (w *DefaultTemplateWriter) Update(ctx context.Context, code, language string, in UpdateInput) (*infratemplate.Template, []string, error) {
	current, err := w.repo.GetByCode(ctx, code, language)
	if err != nil {
		if err == infratemplate.ErrTemplateNotFound {
			return nil, nil, errors.NotFound("template")
		}
		return nil, nil, errors.Internal("failed to load template")
	}

	updated := *current
	if in.Type != nil {
		if !in.Type.Valid() {
			return nil, nil, errors.Validation("type must be one of: email, push")
		}
		updated.Type = *in.Type
	}
	if in.Content != nil {
		updated.Content = in.Content
	}
	if in.Variables != nil {
		updated.Variables = in.Variables
	}
	if in.Description != nil {
		updated.Description = *in.Description
	}
	if in.UpdatedBy != "" {
		updated.UpdatedBy = in.UpdatedBy
	}

	warnings, err := ValidatePlaceholders(updated.Content, updated.Variables)
	if err != nil {
		return nil, nil, errors.Validation(err.Error())
	}

	if err := w.repo.Update(ctx, &updated); err != nil {
		if err == infratemplate.ErrTemplateNotFound {
			return nil, nil, errors.NotFound("template")
		}
		return nil, nil, errors.Internal("failed to update template")
	}

	if err := w.cache.Invalidate(ctx, code, language); err != nil {
		w.logger.Warn("failed to invalidate template cache", "code", code, "language", language, "error", err)
	}
	w.warmCache(ctx, &updated)
	w.publishUpdated(ctx, &updated)

	w.logger.Info("template updated", "code", updated.Code, "language", updated.Language, "version", updated.Version)
	return &updated, warnings, nil
}

// Delete retires a template (soft sets deleted_at, hard removes the row and
// its versions) and invalidates every cached entry for it.
func (w *DefaultTemplateWriter) Delete(ctx context.Context, code, language string, hard bool) error {
	if err := w.repo.Delete(ctx, code, language, !hard); err != nil {
		if err == infratemplate.ErrTemplateNotFound {
			return errors.NotFound("template")
		}
		return errors.Internal("failed to delete template")
	}

	if err := w.cache.Invalidate(ctx, code, language); err != nil {
		w.logger.Warn("failed to invalidate template cache after delete", "code", code, "language", language, "error", err)
	}

	deleteKind := "soft"
	if hard {
		deleteKind = "hard"
	}
	w.logger.Info("template deleted", "code", code, "language", language, "kind", deleteKind)
	return nil
}

func (w *DefaultTemplateWriter) warmCache(ctx context.Context, tpl *infratemplate.Template) {
	if err := w.cache.Set(ctx, tpl, versionTag(tpl.Version)); err != nil {
		w.logger.Warn("failed to warm template cache (versioned)", "code", tpl.Code, "error", err)
	}
	if err := w.cache.Set(ctx, tpl, "latest"); err != nil {
		w.logger.Warn("failed to warm template cache (latest)", "code", tpl.Code, "error", err)
	}
}

func (w *DefaultTemplateWriter) publishUpdated(ctx context.Context, tpl *infratemplate.Template) {
	if w.publisher == nil {
		return
	}
	body, err := json.Marshal(templateUpdatedEvent{Code: tpl.Code, Version: tpl.Version, Timestamp: time.Now()})
	if err != nil {
		w.logger.Error("failed to marshal template.updated event", "error", err)
		return
	}
	if err := w.publisher.Publish(ctx, broker.PublishOptions{
		Exchange:   "notifications.direct",
		RoutingKey: "template.updated",
		Body:       body,
		Persistent: true,
	}); err != nil {
		w.logger.Error("failed to publish template.updated event", "code", tpl.Code, "error", err)
	}
}
