// Package middleware provides HTTP middlewares for session authentication,
// CSRF protection and request logging.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/atinyakov/heartline/internal/models"
)

type ctxKey string

const userKey ctxKey = "user"

// SessionCookie is the name of the HttpOnly session cookie.
const SessionCookie = "session"

// SessionLookup resolves a session id to a user id.
type SessionLookup func(sessionID string) (userID string, ok bool)

// SessionAuth rejects requests without a live session with
// 401 {ok:false, code:AUTH_REQUIRED}.
//
// On success the user id is stored in the request context, so it can be used
// downstream via GetUserIDFromContext.
func SessionAuth(lookup SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(SessionCookie)
			if err != nil || c.Value == "" {
				WriteError(w, http.StatusUnauthorized, models.CodeAuthRequired, "authentication required")
				return
			}
			userID, ok := lookup(c.Value)
			if !ok {
				WriteError(w, http.StatusUnauthorized, models.CodeAuthRequired, "authentication required")
				return
			}
			ctx := context.WithValue(r.Context(), userKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext extracts the user id stored by SessionAuth.
// Returns an empty string if not found.
func GetUserIDFromContext(ctx context.Context) string {
	val := ctx.Value(userKey)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

// WriteError writes the API failure envelope.
func WriteError(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, map[string]any{"ok": false, "code": code, "error": msg})
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
