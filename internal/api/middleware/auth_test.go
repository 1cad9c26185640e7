package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeValidator struct {
	valid                    bool
	userID, email, role, jti string
}

func (f fakeValidator) Validate(_ context.Context, _ string) (valid bool, userID, email, role, jti string) {
	return f.valid, f.userID, f.email, f.role, f.jti
}

func TestAuthMiddleware_StashesRoleFromValidator(t *testing.T) {
	cfg := AuthConfig{Validator: fakeValidator{valid: true, userID: "user-1", email: "a@example.com", role: RoleAdmin, jti: "jti-1"}}

	var gotRole string
	handler := AuthMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetUser(r.Context())
		if !ok {
			t.Fatal("expected user in context")
		}
		gotRole = user.Role
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/templates", nil)
	req.Header.Set(AuthorizationHeader, "Bearer sometoken")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotRole != RoleAdmin {
		t.Errorf("expected role %q, got %q", RoleAdmin, gotRole)
	}
}

func TestAuthMiddleware_DefaultsEmptyRoleToViewer(t *testing.T) {
	cfg := AuthConfig{Validator: fakeValidator{valid: true, userID: "user-1", email: "a@example.com", jti: "jti-1"}}

	var gotRole string
	handler := AuthMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := GetUser(r.Context())
		gotRole = user.Role
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/templates", nil)
	req.Header.Set(AuthorizationHeader, "Bearer sometoken")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if gotRole != RoleViewer {
		t.Errorf("expected default role %q, got %q", RoleViewer, gotRole)
	}
}

func TestOperatorMiddleware_RejectsViewer(t *testing.T) {
	handler := OperatorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/templates", nil)
	ctx := context.WithValue(req.Context(), UserContextKey, &User{ID: "user-1", Role: RoleViewer})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.WithContext(ctx))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestOperatorMiddleware_AllowsOperatorAndAdmin(t *testing.T) {
	for _, role := range []string{RoleOperator, RoleAdmin} {
		handler := OperatorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodPost, "/templates", nil)
		ctx := context.WithValue(req.Context(), UserContextKey, &User{ID: "user-1", Role: role})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req.WithContext(ctx))

		if rr.Code != http.StatusOK {
			t.Errorf("role %s: expected 200, got %d", role, rr.Code)
		}
	}
}

func TestAdminMiddleware_RejectsOperator(t *testing.T) {
	handler := AdminMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodDelete, "/templates/welcome", nil)
	ctx := context.WithValue(req.Context(), UserContextKey, &User{ID: "user-1", Role: RoleOperator})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.WithContext(ctx))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRBACMiddleware_RejectsUnauthenticatedRequest(t *testing.T) {
	handler := AdminMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/templates", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
