// Package models defines the data structures exchanged with the dating API:
// the user projection, its nested profile sections, and the error codes the
// API uses in failure envelopes.
package models

import "strings"

// User is the identity/profile projection returned by the "me" and profile
// endpoints. The backend owns it; the client only caches the last response.
type User struct {
	// ID is the unique identifier for the user.
	ID string `json:"id"`
	// Email is the login email address.
	Email string `json:"email"`
	// DisplayName is the preferred public name, if set.
	DisplayName string `json:"display_name,omitempty"`
	// FirstName and LastName are used when no display name is set.
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	// Bio is the free-form profile text.
	Bio string `json:"bio,omitempty"`
	// Preferences holds discovery preferences and priority weights.
	Preferences *Preferences `json:"preferences,omitempty"`
	// BirthData holds the user's birth date/time/place.
	BirthData *BirthData `json:"birth_data,omitempty"`
}

// Name returns the best human-readable name for the user.
func (u *User) Name() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	return u.Email
}

// Preferences holds discovery settings.
type Preferences struct {
	AgeMin     int            `json:"age_min,omitempty"`
	AgeMax     int            `json:"age_max,omitempty"`
	DistanceKm int            `json:"distance_km,omitempty"`
	Genders    []string       `json:"genders,omitempty"`
	Priorities map[string]int `json:"priorities,omitempty"`
}

// BirthData holds the inputs used by compatibility features.
type BirthData struct {
	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
	Location string `json:"location,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Error codes carried in the "code" field of API failure envelopes.
const (
	// CodeAuthRequired is returned with 401 by /api/auth/me when no session exists.
	CodeAuthRequired = "AUTH_REQUIRED"
	// CodeCSRFMissing is returned with 403 when a mutation carries no CSRF token.
	CodeCSRFMissing = "CSRF_MISSING"
	// CodeCSRFInvalid is returned with 403 when the CSRF token does not match.
	CodeCSRFInvalid = "CSRF_INVALID"
	// CodeForbidden is a non-CSRF authorization failure.
	CodeForbidden = "FORBIDDEN"
	// CodeInvalidCredentials is returned by login for a bad email/password.
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	// CodeValidation is returned for malformed request payloads.
	CodeValidation = "VALIDATION_ERROR"
)

// Names of the double-submit CSRF cookie and the header that mirrors it.
const (
	CSRFCookieName = "csrf_token"
	CSRFHeaderName = "X-CSRF-Token"
)

// Client-side codes used when no API envelope is available.
const (
	CodeNetworkError    = "NETWORK_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeInvalidResponse = "INVALID_RESPONSE"
)

// IsCSRFCode reports whether code identifies a CSRF rejection.
func IsCSRFCode(code string) bool {
	return code == CodeCSRFMissing || code == CodeCSRFInvalid
}

// MeResponse is the body of GET /api/auth/me.
type MeResponse struct {
	OK    bool   `json:"ok"`
	User  *User  `json:"user,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// CSRFResponse is the body of GET /api/auth/csrf.
type CSRFResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// BasicProfile is the body of PUT /api/profile/basic. Empty fields are left
// unchanged.
type BasicProfile struct {
	DisplayName string `json:"display_name,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// ProfileResponse is the body of a successful profile update.
type ProfileResponse struct {
	OK   bool  `json:"ok"`
	User *User `json:"user"`
}
