package middleware

import (
	"net/http"

	"github.com/atinyakov/heartline/internal/models"
)

// CSRFGuard enforces the double-submit token on unsafe methods. The header
// must be present (CSRF_MISSING), match the cookie and be accepted by valid
// (CSRF_INVALID). Safe methods pass through.
func CSRFGuard(valid func(token string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(models.CSRFHeaderName)
			if header == "" {
				WriteError(w, http.StatusForbidden, models.CodeCSRFMissing, "csrf token missing")
				return
			}
			c, err := r.Cookie(models.CSRFCookieName)
			if err != nil || c.Value != header || !valid(header) {
				WriteError(w, http.StatusForbidden, models.CodeCSRFInvalid, "csrf token invalid")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
