package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/notifyhub/platform/internal/api/errors"
	businesstemplate "github.com/notifyhub/platform/internal/business/template"
	infratemplate "github.com/notifyhub/platform/internal/infrastructure/template"
)

// TemplatesHandler serves the template service's CRUD surface (C4) backed
// by the resolver (C3, single-item reads), the writer (C4, writes), and the
// repository directly for paginated listing (the resolver's cache-through
// path has no notion of a page).
type TemplatesHandler struct {
	resolver businesstemplate.TemplateResolver
	writer   businesstemplate.TemplateWriter
	repo     infratemplate.TemplateRepository
	logger   *slog.Logger
}

// NewTemplatesHandler wires a resolver, writer, and repository into a
// TemplatesHandler.
func NewTemplatesHandler(resolver businesstemplate.TemplateResolver, writer businesstemplate.TemplateWriter, repo infratemplate.TemplateRepository, logger *slog.Logger) *TemplatesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplatesHandler{resolver: resolver, writer: writer, repo: repo, logger: logger}
}

type createTemplateRequest struct {
	Code        string            `json:"code" validate:"required"`
	Type        string            `json:"type" validate:"required,oneof=email push"`
	Language    string            `json:"language" validate:"required"`
	Content     map[string]string `json:"content" validate:"required"`
	Variables   []string          `json:"variables"`
	Description string            `json:"description"`
}

type updateTemplateRequest struct {
	Type        *string           `json:"type" validate:"omitempty,oneof=email push"`
	Content     map[string]string `json:"content"`
	Variables   []string          `json:"variables"`
	Description *string           `json:"description"`
}

// Get handles GET /templates/{code}?lang=..&version=...
func (h *TemplatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	language := r.URL.Query().Get("lang")
	if language == "" {
		language = "en"
	}

	version := 0
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			errors.WriteError(w, errors.Validation("version must be an integer"))
			return
		}
		version = v
	}

	tpl, err := h.resolver.Resolve(r.Context(), code, language, version)
	if err != nil {
		writeTemplateError(w, h.logger, err)
		return
	}
	errors.WriteSuccess(w, tpl)
}

// List handles GET /templates?page=&limit=.
func (h *TemplatesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 10
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 100 {
		limit = 100
	}

	page := 1
	if raw := q.Get("page"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			page = v
		}
	}

	filters := infratemplate.DefaultListFilters()
	filters.Limit = limit
	filters.Offset = (page - 1) * limit
	if lang := q.Get("language"); lang != "" {
		filters.Language = lang
	}
	if search := q.Get("search"); search != "" {
		filters.Search = search
	}

	items, total, err := h.repo.List(r.Context(), filters)
	if err != nil {
		writeTemplateError(w, h.logger, err)
		return
	}

	errors.WriteSuccess(w, map[string]interface{}{
		"items": items,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// Create handles POST /templates.
func (h *TemplatesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, errors.Validation("invalid request body"))
		return
	}

	tpl, warnings, err := h.writer.Create(r.Context(), businesstemplate.CreateInput{
		Code:        req.Code,
		Type:        infratemplate.Type(req.Type),
		Language:    req.Language,
		Content:     req.Content,
		Variables:   req.Variables,
		Description: req.Description,
		CreatedBy:   "api",
	})
	if err != nil {
		writeTemplateError(w, h.logger, err)
		return
	}

	errors.WriteSuccessStatus(w, http.StatusCreated, map[string]interface{}{
		"template": tpl,
		"warnings": warnings,
	})
}

// Update handles PUT /templates/{code}?lang=...
func (h *TemplatesHandler) Update(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	language := r.URL.Query().Get("lang")
	if language == "" {
		language = "en"
	}

	var req updateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, errors.Validation("invalid request body"))
		return
	}

	in := businesstemplate.UpdateInput{
		Content:     req.Content,
		Variables:   req.Variables,
		Description: req.Description,
		UpdatedBy:   "api",
	}
	if req.Type != nil {
		t := infratemplate.Type(*req.Type)
		in.Type = &t
	}

	tpl, warnings, err := h.writer.Update(r.Context(), code, language, in)
	if err != nil {
		writeTemplateError(w, h.logger, err)
		return
	}

	errors.WriteSuccess(w, map[string]interface{}{
		"template": tpl,
		"warnings": warnings,
	})
}

// Delete handles DELETE /templates/{code}?lang=...
func (h *TemplatesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	language := r.URL.Query().Get("lang")
	if language == "" {
		language = "en"
	}

	if err := h.writer.Delete(r.Context(), code, language, false); err != nil {
		writeTemplateError(w, h.logger, err)
		return
	}
	errors.WriteSuccessStatus(w, http.StatusOK, map[string]bool{"deleted": true})
}

func writeTemplateError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch err {
	case infratemplate.ErrTemplateNotFound, infratemplate.ErrVersionNotFound:
		errors.WriteError(w, errors.NotFound("template"))
	case infratemplate.ErrTemplateExists:
		errors.WriteError(w, errors.Conflict("template already exists"))
	case infratemplate.ErrInvalidFilter:
		errors.WriteError(w, errors.Validation(err.Error()))
	default:
		if apiErr, ok := err.(*errors.APIError); ok {
			errors.WriteError(w, apiErr)
			return
		}
		logger.Error("template operation failed", "error", err)
		errors.WriteError(w, errors.Internal("template operation failed"))
	}
}
