package authtest

import (
	"sync"

	"github.com/google/uuid"

	"github.com/atinyakov/heartline/internal/models"
)

type account struct {
	password string
	user     models.User
}

// Accounts is the in-memory user, session and CSRF token table.
type Accounts struct {
	mu       sync.Mutex
	users    map[string]*account
	byEmail  map[string]string
	sessions map[string]string
	tokens   map[string]struct{}
}

// NewAccounts returns an empty table.
func NewAccounts() *Accounts {
	return &Accounts{
		users:    map[string]*account{},
		byEmail:  map[string]string{},
		sessions: map[string]string{},
		tokens:   map[string]struct{}{},
	}
}

// AddUser registers u with the given credentials. An empty u.ID is assigned.
func (a *Accounts) AddUser(email, password string, u models.User) models.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = email
	a.users[u.ID] = &account{password: password, user: u}
	a.byEmail[email] = u.ID
	return u
}

// Authenticate checks credentials.
func (a *Accounts) Authenticate(email, password string) (models.User, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byEmail[email]
	if !ok || a.users[id].password != password {
		return models.User{}, false
	}
	return a.users[id].user, true
}

// User returns the user with id.
func (a *Accounts) User(id string) (models.User, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.users[id]
	if !ok {
		return models.User{}, false
	}
	return acc.user, true
}

// UpdateUser applies fn to the stored user and returns the result.
func (a *Accounts) UpdateUser(id string, fn func(*models.User)) (models.User, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.users[id]
	if !ok {
		return models.User{}, false
	}
	fn(&acc.user)
	return acc.user, true
}

// CreateSession starts a session for user id and returns its id.
func (a *Accounts) CreateSession(userID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	sid := uuid.NewString()
	a.sessions[sid] = userID
	return sid
}

// LookupSession implements middleware.SessionLookup.
func (a *Accounts) LookupSession(sid string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	uid, ok := a.sessions[sid]
	return uid, ok
}

// DeleteSession ends one session.
func (a *Accounts) DeleteSession(sid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sid)
}

// DeleteUserSessions ends every session of user id and reports how many.
func (a *Accounts) DeleteUserSessions(userID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for sid, uid := range a.sessions {
		if uid == userID {
			delete(a.sessions, sid)
			n++
		}
	}
	return n
}

// ExpireSessions ends every session, as a server-side expiry would.
func (a *Accounts) ExpireSessions() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.sessions)
}

// Sessions returns the number of live sessions.
func (a *Accounts) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// IssueToken mints a CSRF token.
func (a *Accounts) IssueToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	tok := uuid.NewString()
	a.tokens[tok] = struct{}{}
	return tok
}

// ValidToken reports whether tok was issued and not revoked.
func (a *Accounts) ValidToken(tok string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.tokens[tok]
	return ok
}

// RevokeTokens invalidates every CSRF token, as a key rotation would.
func (a *Accounts) RevokeTokens() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.tokens)
}
