package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload signed into both access and refresh tokens.
type Claims struct {
	UserID string `json:"sub"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 JWTs.
type TokenIssuer struct {
	secret          []byte
	issuer          string
	accessLifetime  time.Duration
	refreshLifetime time.Duration
}

// NewTokenIssuer builds an issuer bound to secret with the given lifetimes.
func NewTokenIssuer(secret, issuer string, accessLifetime, refreshLifetime time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:          []byte(secret),
		issuer:          issuer,
		accessLifetime:  accessLifetime,
		refreshLifetime: refreshLifetime,
	}
}

// issue signs a token for userID/email with the given lifetime and a fresh
// jti, returning the signed string and the jti (needed by the caller to
// index refresh-token storage and blacklist entries).
func (i *TokenIssuer) issue(userID, email, role string, lifetime time.Duration) (token string, jti string, expiresAt time.Time, err error) {
	jti = uuid.New().String()
	now := time.Now()
	expiresAt = now.Add(lifetime)

	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, jti, expiresAt, nil
}

// IssueAccess signs an access token with the issuer's configured access
// lifetime.
func (i *TokenIssuer) IssueAccess(userID, email, role string) (token, jti string, expiresAt time.Time, err error) {
	return i.issue(userID, email, role, i.accessLifetime)
}

// IssueRefresh signs a refresh token with the issuer's configured refresh
// lifetime.
func (i *TokenIssuer) IssueRefresh(userID, email, role string) (token, jti string, expiresAt time.Time, err error) {
	return i.issue(userID, email, role, i.refreshLifetime)
}

// AccessLifetime returns the configured access token lifetime.
func (i *TokenIssuer) AccessLifetime() time.Duration { return i.accessLifetime }

// RefreshLifetime returns the configured refresh token lifetime.
func (i *TokenIssuer) RefreshLifetime() time.Duration { return i.refreshLifetime }

// Parse verifies signature and expiry and returns the claims. It does not
// consult the refresh-token store or blacklist; callers layer those checks.
func (i *TokenIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
