// Package navigation decides where a tab goes after auth transitions.
// Every move is a hard navigation: the Navigator throws away the current app
// instance and builds a new one, so no in-memory state survives.
package navigation

import (
	"strings"

	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/client/me"
	"github.com/atinyakov/heartline/internal/logger"
)

const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

// DefaultProtected lists the path prefixes that require a session.
var DefaultProtected = []string{"/dashboard", "/profile", "/discover", "/matches", "/settings"}

// Navigator performs hard navigations.
type Navigator interface {
	// Location returns the current path.
	Location() string
	// Assign loads path from scratch.
	Assign(path string)
}

// Policy maps auth transitions to navigations.
type Policy struct {
	nav       Navigator
	protected []string
	log       *zap.Logger
}

// NewPolicy returns a Policy. A nil protected list means DefaultProtected.
func NewPolicy(nav Navigator, protected []string, log *zap.Logger) *Policy {
	if protected == nil {
		protected = DefaultProtected
	}
	return &Policy{nav: nav, protected: protected, log: logger.OrNop(log)}
}

// AfterLogin navigates to the dashboard when the confirmation probe found
// a session. It reports whether it navigated.
func (p *Policy) AfterLogin(confirm me.Result) bool {
	if !confirm.IsAuthenticated() {
		p.log.Warn("login not confirmed by session probe", zap.String("reason", string(confirm.Reason)))
		return false
	}
	p.nav.Assign(DashboardPath)
	return true
}

// AfterLogout always navigates to the login page.
func (p *Policy) AfterLogout() {
	p.nav.Assign(LoginPath)
}

// OnRemoteLogout navigates to the login page if the current location needs
// a session. It reports whether it navigated.
func (p *Policy) OnRemoteLogout() bool {
	if !p.IsProtected(p.nav.Location()) {
		return false
	}
	p.nav.Assign(LoginPath)
	return true
}

// IsProtected reports whether path falls under a protected prefix.
func (p *Policy) IsProtected(path string) bool {
	for _, prefix := range p.protected {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}
