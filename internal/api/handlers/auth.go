// Package handlers implements the gateway and template-service HTTP
// surfaces, translating validated requests into calls against the auth,
// dispatch, and template business packages.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/notifyhub/platform/internal/api/errors"
	"github.com/notifyhub/platform/internal/api/middleware"
	"github.com/notifyhub/platform/internal/auth"
)

// AuthHandler serves /auth/* on the gateway.
type AuthHandler struct {
	service *auth.Service
	logger  *slog.Logger
}

// NewAuthHandler wires an auth.Service into an AuthHandler.
func NewAuthHandler(service *auth.Service, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{service: service, logger: logger}
}

// ServiceValidator adapts *auth.Service to middleware.Validator so the
// gateway router can configure AuthMiddleware without middleware importing
// the auth package directly.
type ServiceValidator struct {
	Service *auth.Service
}

// Validate implements middleware.Validator.
func (v ServiceValidator) Validate(ctx context.Context, token string) (valid bool, userID, email, role, jti string) {
	result := v.Service.Validate(ctx, token)
	return result.Valid, result.UserID, result.Email, result.Role, result.JTI
}

var _ middleware.Validator = ServiceValidator{}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type validateRequest struct {
	Token string `json:"token" validate:"required"`
}

type tokenPairResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	User         interface{} `json:"user"`
}

func pairResponse(pair *auth.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
		User: map[string]string{
			"id":    pair.User.ID,
			"email": pair.User.Email,
		},
	}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, errors.Validation("invalid request body"))
		return
	}
	if err := middleware.ValidateStruct(req); err != nil {
		errors.WriteError(w, errors.Validation(err.Error()))
		return
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if err == auth.ErrUnauthorized {
			errors.WriteError(w, errors.Unauthorized("invalid email or password"))
			return
		}
		h.logger.Error("login failed", "error", err)
		errors.WriteError(w, errors.Internal("failed to process login"))
		return
	}

	errors.WriteSuccess(w, pairResponse(pair))
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, errors.Validation("invalid request body"))
		return
	}
	if err := middleware.ValidateStruct(req); err != nil {
		errors.WriteError(w, errors.Validation(err.Error()))
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if err == auth.ErrUnauthorized {
			errors.WriteError(w, errors.Unauthorized("invalid or revoked refresh token"))
			return
		}
		h.logger.Error("refresh failed", "error", err)
		errors.WriteError(w, errors.Internal("failed to process refresh"))
		return
	}

	errors.WriteSuccess(w, pairResponse(pair))
}

// Logout handles POST /auth/logout. Requires AuthMiddleware to have already
// populated the request context with the authenticated user and jti.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		errors.WriteError(w, errors.Unauthorized("missing authenticated user"))
		return
	}

	if err := h.service.Logout(r.Context(), user.ID, user.JTI); err != nil {
		h.logger.Error("logout failed", "error", err, "user_id", user.ID)
		errors.WriteError(w, errors.Internal("failed to process logout"))
		return
	}

	errors.WriteSuccess(w, map[string]bool{"success": true})
}

// Validate handles POST /auth/validate.
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, errors.Validation("invalid request body"))
		return
	}

	result := h.service.Validate(r.Context(), req.Token)
	if !result.Valid {
		errors.WriteSuccess(w, map[string]interface{}{
			"valid":  false,
			"reason": result.Reason,
		})
		return
	}

	errors.WriteSuccess(w, map[string]interface{}{
		"valid":      true,
		"user_id":    result.UserID,
		"email":      result.Email,
		"expires_at": result.ExpiresAt,
	})
}
