package authtest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/middleware"
)

// NewRouter mounts the auth and profile contracts:
//
//	GET  /api/auth/csrf          → AuthHandler.CSRF
//	POST /api/auth/login         → AuthHandler.Login      (CSRF)
//	POST /api/auth/logout        → AuthHandler.Logout     (CSRF)
//	POST /api/auth/logout-all    → AuthHandler.LogoutAll  (CSRF, session)
//	GET  /api/auth/me            → AuthHandler.Me         (session)
//	PUT  /api/profile/basic      → ProfileHandler.Basic   (CSRF, session)
//	PUT  /api/profile/preferences, /api/profile/birth-data likewise
//
// before runs ahead of routing and may answer the request itself.
func NewRouter(auth *AuthHandler, profile *ProfileHandler, before func(http.Handler) http.Handler, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithRequestLogging(log))
	if before != nil {
		r.Use(before)
	}
	r.Use(chiMiddleware.AllowContentType("application/json"))

	csrf := middleware.CSRFGuard(auth.Accounts.ValidToken)
	session := middleware.SessionAuth(auth.Accounts.LookupSession)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Get("/csrf", auth.CSRF)
			r.With(session).Get("/me", auth.Me)

			r.Group(func(r chi.Router) {
				r.Use(csrf)
				r.Post("/login", auth.Login)
				r.Post("/logout", auth.Logout)
				r.With(session).Post("/logout-all", auth.LogoutAll)
			})
		})

		r.Route("/profile", func(r chi.Router) {
			r.Use(csrf, session)
			r.Put("/basic", profile.Basic)
			r.Put("/preferences", profile.Preferences)
			r.Put("/birth-data", profile.BirthData)
		})
	})

	return r
}
