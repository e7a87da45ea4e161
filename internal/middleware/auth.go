package middleware

import (
	"context"
	"net/http"

	"github.com/forgebuild/forgebuild/backend/pkg/debug"
	"github.com/forgebuild/forgebuild/backend/pkg/jwt"
)

type contextKey string

const (
	// UserIDKey carries the authenticated user's id in the request context.
	UserIDKey contextKey = "user_id"
	// RoleKey carries the authenticated user's role in the request context.
	RoleKey contextKey = "role"
)

// RequireAuth ensures that only requests bearing a valid session cookie
// reach the wrapped handler. The user id and role from the token are placed
// on the request context.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("token")
		if err != nil {
			debug.Warning("No auth token cookie for %s %s", r.Method, r.URL.Path)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := jwt.ValidateToken(cookie.Value)
		if err != nil {
			debug.Warning("Invalid session token: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
		ctx = context.WithValue(ctx, RoleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user id from the request context, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok
}

// Role returns the authenticated role from the request context, if any.
func Role(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}
