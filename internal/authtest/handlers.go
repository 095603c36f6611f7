package authtest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/atinyakov/heartline/internal/middleware"
	"github.com/atinyakov/heartline/internal/models"
)

const sessionMaxAge = 7 * 24 * time.Hour

// AuthHandler serves the /api/auth endpoints.
type AuthHandler struct {
	Accounts *Accounts
	// InsecureCookies drops the Secure and HttpOnly attributes, to exercise
	// the client's cookie checks.
	InsecureCookies func() bool
}

// CSRF issues a token in both the body and the csrf_token cookie.
func (h *AuthHandler) CSRF(w http.ResponseWriter, r *http.Request) {
	tok := h.Accounts.IssueToken()
	http.SetCookie(w, &http.Cookie{
		Name:     models.CSRFCookieName,
		Value:    tok,
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	middleware.WriteJSON(w, http.StatusOK, models.CSRFResponse{CSRFToken: tok})
}

// Login checks the credentials and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		middleware.WriteError(w, http.StatusBadRequest, models.CodeValidation, "invalid request")
		return
	}

	user, ok := h.Accounts.Authenticate(req.Email, req.Password)
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, models.CodeInvalidCredentials, "invalid email or password")
		return
	}

	sid := h.Accounts.CreateSession(user.ID)
	http.SetCookie(w, h.sessionCookie(sid, int(sessionMaxAge.Seconds())))
	middleware.WriteJSON(w, http.StatusOK, models.MeResponse{OK: true, User: &user})
}

// Logout ends the current session, if any, and expires the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(middleware.SessionCookie); err == nil {
		h.Accounts.DeleteSession(c.Value)
	}
	http.SetCookie(w, h.sessionCookie("", -1))
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// LogoutAll ends every session of the current user.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	n := h.Accounts.DeleteUserSessions(middleware.GetUserIDFromContext(r.Context()))
	http.SetCookie(w, h.sessionCookie("", -1))
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions_revoked": n})
}

// Me returns the current user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.Accounts.User(middleware.GetUserIDFromContext(r.Context()))
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, models.CodeAuthRequired, "authentication required")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, models.MeResponse{OK: true, User: &user})
}

func (h *AuthHandler) sessionCookie(value string, maxAge int) *http.Cookie {
	secure := h.InsecureCookies == nil || !h.InsecureCookies()
	return &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: secure,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ProfileHandler serves the /api/profile endpoints.
type ProfileHandler struct {
	Accounts *Accounts
}

// Basic updates the non-empty basic profile fields.
func (h *ProfileHandler) Basic(w http.ResponseWriter, r *http.Request) {
	var req models.BasicProfile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, models.CodeValidation, "invalid request")
		return
	}
	h.update(w, r, func(u *models.User) {
		if req.DisplayName != "" {
			u.DisplayName = req.DisplayName
		}
		if req.FirstName != "" {
			u.FirstName = req.FirstName
		}
		if req.LastName != "" {
			u.LastName = req.LastName
		}
		if req.Bio != "" {
			u.Bio = req.Bio
		}
	})
}

// Preferences replaces the discovery preferences.
func (h *ProfileHandler) Preferences(w http.ResponseWriter, r *http.Request) {
	var req models.Preferences
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, models.CodeValidation, "invalid request")
		return
	}
	if (req.AgeMin != 0 && req.AgeMin < 18) || (req.AgeMax != 0 && req.AgeMax < req.AgeMin) {
		middleware.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"ok":      false,
			"code":    models.CodeValidation,
			"error":   "invalid age range",
			"details": map[string]string{"field": "age_min"},
		})
		return
	}
	h.update(w, r, func(u *models.User) { u.Preferences = &req })
}

// BirthData replaces the birth data; a date is required.
func (h *ProfileHandler) BirthData(w http.ResponseWriter, r *http.Request) {
	var req models.BirthData
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Date == "" {
		middleware.WriteError(w, http.StatusBadRequest, models.CodeValidation, "birth date is required")
		return
	}
	h.update(w, r, func(u *models.User) { u.BirthData = &req })
}

func (h *ProfileHandler) update(w http.ResponseWriter, r *http.Request, fn func(*models.User)) {
	user, ok := h.Accounts.UpdateUser(middleware.GetUserIDFromContext(r.Context()), fn)
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, models.CodeAuthRequired, "authentication required")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, models.ProfileResponse{OK: true, User: &user})
}
