package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/notifyhub/platform/internal/api/errors"
)

// Validator is the narrow surface the gateway needs from the auth core:
// verify a bearer token's signature, expiry, and revocation status. It is
// satisfied by adapters over the auth package (handlers.ServiceValidator in
// the gateway, a signature-only validator in the template service), not by
// *auth.Service itself; declared here (rather than imported) so this
// package stays free of a dependency on the auth package.
type Validator interface {
	Validate(ctx context.Context, token string) (valid bool, userID, email, role, jti string)
}

// AuthConfig holds the gateway's bearer-JWT authentication configuration.
type AuthConfig struct {
	Validator Validator
}

// AuthMiddleware validates the "Authorization: Bearer <jwt>" header against
// the auth core (signature, expiry, and blacklist). On success it stashes a
// User{ID, Username: email} in the request context; on failure it writes 401.
func AuthMiddleware(config AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get(AuthorizationHeader)
			if authHeader == "" {
				writeUnauthorized(w, r, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeUnauthorized(w, r, "Authorization header must be: Bearer <token>")
				return
			}

			if config.Validator == nil {
				writeUnauthorized(w, r, "auth validator not configured")
				return
			}

			valid, userID, email, role, jti := config.Validator.Validate(r.Context(), parts[1])
			if !valid {
				writeUnauthorized(w, r, "Invalid or expired token")
				return
			}
			if role == "" {
				role = RoleViewer
			}

			user := &User{ID: userID, Username: email, Role: role, JTI: jti}
			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RBACMiddleware checks if user has required role
//
// Role hierarchy: admin (3) > operator (2) > viewer (1)
//
// Returns 403 Forbidden if user lacks required permissions.
func RBACMiddleware(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := r.Context().Value(UserContextKey).(*User)
			if !ok || user == nil {
				writeUnauthorized(w, r, "User not authenticated")
				return
			}

			if !HasRequiredRole(user.Role, requiredRole) {
				writeForbidden(w, r, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AdminMiddleware is a convenience wrapper for admin-only endpoints
func AdminMiddleware(next http.Handler) http.Handler {
	return RBACMiddleware(RoleAdmin)(next)
}

// OperatorMiddleware is a convenience wrapper for operator+ endpoints
func OperatorMiddleware(next http.Handler) http.Handler {
	return RBACMiddleware(RoleOperator)(next)
}

// writeUnauthorized writes 401 Unauthorized response
func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	errors.WriteError(w, errors.Unauthorized(message).WithRequestID(GetRequestID(r.Context())))
}

// writeForbidden writes 403 Forbidden response
func writeForbidden(w http.ResponseWriter, r *http.Request, message string) {
	errors.WriteError(w, errors.Forbidden(message).WithRequestID(GetRequestID(r.Context())))
}

// GetUser extracts authenticated user from context
func GetUser(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(UserContextKey).(*User)
	return user, ok
}
