package client

import (
	"log/slog"
	"net/http"
)

// RequireRole returns a middleware that checks if the authenticated user has any of the specified roles.
// Returns 401 Unauthorized if not authenticated.
// Returns 403 Forbidden if authenticated but missing required role.
// Must be used after AuthUserMiddleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authUser := GetAuthUser(r)

			if authUser == nil {
				slog.Debug("Unauthenticated request to role-protected resource", "requiredRoles", roles)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !authUser.HasRole(roles...) {
				slog.Warn("User lacks required role",
					"userId", authUser.UserId,
					"userRoles", authUser.Roles,
					"requiredRoles", roles)
				http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Elevated chains token verification, user loading and a role check.
// It guards operations that act on every principal at once.
func Elevated(verifier func(http.Handler) http.Handler, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return verifier(AuthUserMiddleware(RequireRole(roles...)(next)))
	}
}
