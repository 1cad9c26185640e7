package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	businesstemplate "github.com/notifyhub/platform/internal/business/template"
	infratemplate "github.com/notifyhub/platform/internal/infrastructure/template"
)

type fakeTemplateResolver struct {
	template *infratemplate.Template
	err      error
}

func (f *fakeTemplateResolver) Resolve(ctx context.Context, code, language string, version int) (*infratemplate.Template, error) {
	return f.template, f.err
}

type fakeTemplateWriter struct {
	created  *infratemplate.Template
	warnings []string
	err      error

	lastCreateInput businesstemplate.CreateInput
	deletedCode     string
	deletedLanguage string
}

func (f *fakeTemplateWriter) Create(ctx context.Context, in businesstemplate.CreateInput) (*infratemplate.Template, []string, error) {
	f.lastCreateInput = in
	return f.created, f.warnings, f.err
}

func (f *fakeTemplateWriter) Update(ctx context.Context, code, language string, in businesstemplate.UpdateInput) (*infratemplate.Template, []string, error) {
	return f.created, f.warnings, f.err
}

func (f *fakeTemplateWriter) Delete(ctx context.Context, code, language string, hard bool) error {
	f.deletedCode = code
	f.deletedLanguage = language
	return f.err
}

type fakeTemplateRepository struct {
	items []*infratemplate.Template
	total int
	err   error
}

func (f *fakeTemplateRepository) Create(ctx context.Context, template *infratemplate.Template) error {
	return f.err
}
func (f *fakeTemplateRepository) GetByCode(ctx context.Context, code, language string) (*infratemplate.Template, error) {
	return nil, f.err
}
func (f *fakeTemplateRepository) GetByID(ctx context.Context, id string) (*infratemplate.Template, error) {
	return nil, f.err
}
func (f *fakeTemplateRepository) List(ctx context.Context, filters infratemplate.ListFilters) ([]*infratemplate.Template, int, error) {
	return f.items, f.total, f.err
}
func (f *fakeTemplateRepository) Update(ctx context.Context, template *infratemplate.Template) error {
	return f.err
}
func (f *fakeTemplateRepository) Delete(ctx context.Context, code, language string, soft bool) error {
	return f.err
}
func (f *fakeTemplateRepository) CreateVersion(ctx context.Context, version *infratemplate.TemplateVersion) error {
	return f.err
}
func (f *fakeTemplateRepository) ListVersions(ctx context.Context, templateID string, filters infratemplate.VersionFilters) ([]*infratemplate.TemplateVersion, int, error) {
	return nil, 0, f.err
}
func (f *fakeTemplateRepository) GetVersion(ctx context.Context, templateID string, versionNum int) (*infratemplate.TemplateVersion, error) {
	return nil, f.err
}
func (f *fakeTemplateRepository) GetByCodeVersion(ctx context.Context, code, language string, version int) (*infratemplate.Template, error) {
	return nil, f.err
}
func (f *fakeTemplateRepository) Exists(ctx context.Context, code, language string) (bool, error) {
	return false, f.err
}
func (f *fakeTemplateRepository) CountByLanguage(ctx context.Context) (map[string]int, error) {
	return nil, f.err
}

func TestTemplatesHandler_GetReturnsTemplate(t *testing.T) {
	resolver := &fakeTemplateResolver{template: &infratemplate.Template{Code: "welcome", Language: "en"}}
	h := NewTemplatesHandler(resolver, &fakeTemplateWriter{}, &fakeTemplateRepository{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/templates/welcome", nil)
	req = mux.SetURLVars(req, map[string]string{"code": "welcome"})
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTemplatesHandler_GetReturns404WhenNotFound(t *testing.T) {
	resolver := &fakeTemplateResolver{err: infratemplate.ErrTemplateNotFound}
	h := NewTemplatesHandler(resolver, &fakeTemplateWriter{}, &fakeTemplateRepository{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/templates/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"code": "missing"})
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTemplatesHandler_GetRejectsBadVersion(t *testing.T) {
	h := NewTemplatesHandler(&fakeTemplateResolver{}, &fakeTemplateWriter{}, &fakeTemplateRepository{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/templates/welcome?version=abc", nil)
	req = mux.SetURLVars(req, map[string]string{"code": "welcome"})
	rec := httptest.NewRecorder()

	h.Get(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTemplatesHandler_ListReturnsPaginatedItems(t *testing.T) {
	repo := &fakeTemplateRepository{
		items: []*infratemplate.Template{{Code: "welcome"}, {Code: "reminder"}},
		total: 2,
	}
	h := NewTemplatesHandler(&fakeTemplateResolver{}, &fakeTemplateWriter{}, repo, nil)

	req := httptest.NewRequest(http.MethodGet, "/templates?page=1&limit=10", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["total"])
}

func TestTemplatesHandler_ListClampsLimitTo100(t *testing.T) {
	repo := &fakeTemplateRepository{}
	h := NewTemplatesHandler(&fakeTemplateResolver{}, &fakeTemplateWriter{}, repo, nil)

	req := httptest.NewRequest(http.MethodGet, "/templates?limit=500", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(100), data["limit"])
}

func TestTemplatesHandler_CreateSucceeds(t *testing.T) {
	writer := &fakeTemplateWriter{created: &infratemplate.Template{Code: "welcome"}}
	h := NewTemplatesHandler(&fakeTemplateResolver{}, writer, &fakeTemplateRepository{}, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"code":     "welcome",
		"type":     "email",
		"language": "en",
		"content":  map[string]string{"subject": "Hi {{name}}"},
	})
	req := httptest.NewRequest(http.MethodPost, "/templates", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "welcome", writer.lastCreateInput.Code)
	assert.Equal(t, "api", writer.lastCreateInput.CreatedBy)
}

func TestTemplatesHandler_CreateReturns409WhenExists(t *testing.T) {
	writer := &fakeTemplateWriter{err: infratemplate.ErrTemplateExists}
	h := NewTemplatesHandler(&fakeTemplateResolver{}, writer, &fakeTemplateRepository{}, nil)

	body, _ := json.Marshal(map[string]interface{}{"code": "welcome"})
	req := httptest.NewRequest(http.MethodPost, "/templates", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Create(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTemplatesHandler_UpdateSucceeds(t *testing.T) {
	writer := &fakeTemplateWriter{created: &infratemplate.Template{Code: "welcome", Version: 2}}
	h := NewTemplatesHandler(&fakeTemplateResolver{}, writer, &fakeTemplateRepository{}, nil)

	body, _ := json.Marshal(map[string]interface{}{"content": map[string]string{"subject": "Hey {{name}}"}})
	req := httptest.NewRequest(http.MethodPut, "/templates/welcome", bytes.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"code": "welcome"})
	rec := httptest.NewRecorder()

	h.Update(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTemplatesHandler_DeleteSucceeds(t *testing.T) {
	writer := &fakeTemplateWriter{}
	h := NewTemplatesHandler(&fakeTemplateResolver{}, writer, &fakeTemplateRepository{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/templates/welcome", nil)
	req = mux.SetURLVars(req, map[string]string{"code": "welcome"})
	rec := httptest.NewRecorder()

	h.Delete(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "welcome", writer.deletedCode)
	assert.Equal(t, "en", writer.deletedLanguage)
}

func TestTemplatesHandler_DeleteReturns500OnUnknownError(t *testing.T) {
	writer := &fakeTemplateWriter{err: errors.New("boom")}
	h := NewTemplatesHandler(&fakeTemplateResolver{}, writer, &fakeTemplateRepository{}, nil)

	req := httptest.NewRequest(http.MethodDelete, "/templates/welcome", nil)
	req = mux.SetURLVars(req, map[string]string{"code": "welcome"})
	rec := httptest.NewRecorder()

	h.Delete(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
