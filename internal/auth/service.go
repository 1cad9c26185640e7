package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/notifyhub/platform/internal/infrastructure/cache"
	"github.com/notifyhub/platform/internal/users"
)

// TokenPair is the response shape returned by login and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	User         UserInfo
}

// UserInfo is the subset of a user record safe to return to clients.
type UserInfo struct {
	ID    string
	Email string
}

// ValidationResult is returned by Validate.
type ValidationResult struct {
	Valid     bool
	UserID    string
	Email     string
	Role      string
	JTI       string
	ExpiresAt time.Time
	Reason    string
}

// ErrUnauthorized is returned for every authentication failure; login and
// wrong-password share this error to avoid user enumeration.
var ErrUnauthorized = fmt.Errorf("unauthorized")

// Service implements password verification, token issuance, rotation, and
// validation (C5), backing refresh tokens and the revocation blacklist in
// the shared cache so any replica can verify any token.
type Service struct {
	users  users.Repository
	cache  cache.Cache
	tokens *TokenIssuer
	logger *slog.Logger
}

// NewService wires a user repository, cache, and token issuer into a Service.
func NewService(userRepo users.Repository, c cache.Cache, tokens *TokenIssuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: userRepo, cache: c, tokens: tokens, logger: logger}
}

func refreshTokenKey(userID, jti string) string { return fmt.Sprintf("refresh_token:%s:%s", userID, jti) }
func blacklistKey(jti string) string            { return fmt.Sprintf("blacklist:%s", jti) }

// Login verifies credentials and issues a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if err == users.ErrUserNotFound {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !VerifyPassword(user.PasswordHash, password) {
		return nil, ErrUnauthorized
	}

	return s.issuePair(ctx, user)
}

func (s *Service) issuePair(ctx context.Context, user *users.User) (*TokenPair, error) {
	access, _, accessExp, err := s.tokens.IssueAccess(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, refreshJTI, _, err := s.tokens.IssueRefresh(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, refreshTokenKey(user.ID, refreshJTI), refresh, s.tokens.RefreshLifetime()); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(time.Until(accessExp).Seconds()),
		User:         UserInfo{ID: user.ID, Email: user.Email},
	}, nil
}

// Refresh verifies the presented refresh token, rotates it (revoking the
// old jti), and issues a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Parse(refreshToken)
	if err != nil {
		return nil, ErrUnauthorized
	}

	stored, err := s.cache.Exists(ctx, refreshTokenKey(claims.UserID, claims.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to check refresh token store: %w", err)
	}
	if !stored {
		return nil, ErrUnauthorized
	}

	blacklisted, err := s.cache.Exists(ctx, blacklistKey(claims.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to check blacklist: %w", err)
	}
	if blacklisted {
		return nil, ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if err == users.ErrUserNotFound {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}

	// Rotate: drop the old refresh marker and blacklist its jti so a reused
	// copy of the old token is rejected even if this delete silently failed
	// to propagate before a crash.
	if err := s.cache.Delete(ctx, refreshTokenKey(claims.UserID, claims.ID)); err != nil {
		s.logger.Warn("failed to delete rotated refresh token", "user_id", claims.UserID, "jti", claims.ID, "error", err)
	}
	if err := s.cache.Set(ctx, blacklistKey(claims.ID), "revoked", s.tokens.RefreshLifetime()); err != nil {
		s.logger.Warn("failed to blacklist rotated refresh jti", "jti", claims.ID, "error", err)
	}

	return pair, nil
}

// Logout blacklists the presented access token's jti for its remaining
// lifetime and revokes every outstanding refresh token for the user.
func (s *Service) Logout(ctx context.Context, userID, accessJTI string) error {
	if err := s.cache.Set(ctx, blacklistKey(accessJTI), "revoked", s.tokens.AccessLifetime()); err != nil {
		return fmt.Errorf("failed to blacklist access token: %w", err)
	}

	keys, err := s.cache.ScanKeys(ctx, fmt.Sprintf("refresh_token:%s:*", userID))
	if err != nil {
		s.logger.Warn("failed to scan refresh tokens for logout", "user_id", userID, "error", err)
		return nil
	}
	for _, k := range keys {
		if err := s.cache.Delete(ctx, k); err != nil {
			s.logger.Warn("failed to delete refresh token during logout", "key", k, "error", err)
		}
	}
	return nil
}

// Validate verifies signature, expiry, and blacklist status for a bearer
// token. This is the only call the gateway needs against the auth core.
func (s *Service) Validate(ctx context.Context, token string) ValidationResult {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return ValidationResult{Valid: false, Reason: "invalid or expired token"}
	}

	blacklisted, err := s.cache.Exists(ctx, blacklistKey(claims.ID))
	if err != nil {
		s.logger.Warn("blacklist check failed, treating token as invalid", "error", err)
		return ValidationResult{Valid: false, Reason: "unable to verify revocation status"}
	}
	if blacklisted {
		return ValidationResult{Valid: false, Reason: "token revoked"}
	}

	return ValidationResult{
		Valid:     true,
		UserID:    claims.UserID,
		Email:     claims.Email,
		Role:      claims.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
}
