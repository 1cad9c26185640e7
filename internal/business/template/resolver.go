package template

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/notifyhub/platform/internal/api/errors"
	"github.com/notifyhub/platform/internal/breaker"
	infratemplate "github.com/notifyhub/platform/internal/infrastructure/template"
)

// TemplateResolver fetches a versioned template, cache-through, serving a
// stale cached copy when the store's circuit breaker is open.
type TemplateResolver interface {
	// Resolve fetches the template for (code, language). version == 0
	// means "latest".
	Resolve(ctx context.Context, code, language string, version int) (*infratemplate.Template, error)
}

// DefaultTemplateResolver implements TemplateResolver.
type DefaultTemplateResolver struct {
	repo    infratemplate.TemplateRepository
	cache   infratemplate.TemplateCache
	breaker *breaker.Breaker
	logger  *slog.Logger
}

// NewTemplateResolver wires a repository, cache, and the "db" breaker
// guarding store access into a resolver.
func NewTemplateResolver(repo infratemplate.TemplateRepository, cache infratemplate.TemplateCache, br *breaker.Breaker, logger *slog.Logger) TemplateResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultTemplateResolver{repo: repo, cache: cache, breaker: br, logger: logger}
}

func versionTag(version int) string {
	if version == 0 {
		return "latest"
	}
	return strconv.Itoa(version)
}

// Resolve implements the five-step lookup: cache, then breaker gate, then
// store, writing both the versioned and "latest" cache entries on success.
func (r *DefaultTemplateResolver) Resolve(ctx context.Context, code, language string, version int) (*infratemplate.Template, error) {
	start := time.Now()
	tag := versionTag(version)

	if cached, err := r.cache.Get(ctx, code, language, tag); err == nil && cached != nil {
		r.logger.Debug("template resolve cache hit", "code", code, "language", language, "version", tag)
		return cached, nil
	}

	allowed, err := r.breaker.CanAttempt(ctx)
	if err != nil {
		r.logger.Warn("breaker check failed, defaulting to allow", "resource", "db", "error", err)
		allowed = true
	}
	if !allowed {
		if stale, err := r.cache.NewestCached(ctx, code, language); err == nil && stale != nil {
			r.logger.Info("template resolve serving stale cache, db breaker open", "code", code, "language", language)
			return stale, nil
		}
		return nil, errors.Unavailable("template-service")
	}

	var tpl *infratemplate.Template
	if version == 0 {
		tpl, err = r.repo.GetByCode(ctx, code, language)
	} else {
		tpl, err = r.repo.GetByCodeVersion(ctx, code, language, version)
	}

	if err != nil {
		if err == infratemplate.ErrTemplateNotFound {
			_ = r.breaker.RecordSuccess(ctx)
			return nil, errors.NotFound("template")
		}
		if recErr := r.breaker.RecordFailure(ctx); recErr != nil {
			r.logger.Error("failed to record breaker failure", "error", recErr)
		}
		r.logger.Error("template store query failed", "code", code, "language", language, "error", err)
		return nil, errors.Unavailable("template-service")
	}

	if err := r.breaker.RecordSuccess(ctx); err != nil {
		r.logger.Warn("failed to record breaker success", "error", err)
	}

	if err := r.cache.Set(ctx, tpl, versionTag(tpl.Version)); err != nil {
		r.logger.Warn("failed to cache resolved template", "error", err)
	}
	if err := r.cache.Set(ctx, tpl, "latest"); err != nil {
		r.logger.Warn("failed to cache resolved template as latest", "error", err)
	}

	r.logger.Debug("template resolved", "code", code, "language", language, "version", tpl.Version, "duration_ms", time.Since(start).Milliseconds())
	return tpl, nil
}

// Render substitutes {{ident}} placeholders (whitespace and dotted paths
// tolerated) in every field of a template's content with values from vars.
// Missing variables render as empty string; unused vars are ignored. It is
// a pure function of its inputs.
func Render(content map[string]string, vars map[string]string) map[string]string {
	rendered := make(map[string]string, len(content))
	for field, body := range content {
		rendered[field] = placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
			sub := placeholderPattern.FindStringSubmatch(match)
			if len(sub) < 2 {
				return ""
			}
			return vars[sub[1]]
		})
	}
	return rendered
}
