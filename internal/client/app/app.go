// Package app wires the session components into one tab: a store, the "me"
// probe, the CSRF-protected mutator, bootstrap, cross-tab sync and the
// navigation policy. A hard navigation disposes the App and builds a new one.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/client/bootstrap"
	"github.com/atinyakov/heartline/internal/client/csrf"
	"github.com/atinyakov/heartline/internal/client/me"
	"github.com/atinyakov/heartline/internal/client/mutate"
	"github.com/atinyakov/heartline/internal/client/navigation"
	"github.com/atinyakov/heartline/internal/client/session"
	"github.com/atinyakov/heartline/internal/client/tabsync"
	"github.com/atinyakov/heartline/internal/logger"
	"github.com/atinyakov/heartline/internal/models"
)

// API paths used by the app operations.
const (
	LoginPath             = "/api/auth/login"
	LogoutPath            = "/api/auth/logout"
	LogoutAllPath         = "/api/auth/logout-all"
	ProfileBasicPath      = "/api/profile/basic"
	ProfilePreferencePath = "/api/profile/preferences"
	ProfileBirthDataPath  = "/api/profile/birth-data"
)

// ErrLoginNotConfirmed is returned when login succeeded but the follow-up
// session probe did not see the session.
var ErrLoginNotConfirmed = errors.New("login not confirmed by session probe")

// Error is a failed API operation.
type Error struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func resultError(op string, res mutate.Result) *Error {
	return &Error{Op: op, Status: res.Status, Code: res.Code, Message: res.Error}
}

// App is one tab.
type App struct {
	env    *Env
	store  *session.Store
	me     *me.Client
	mut    *mutate.Mutator
	boot   *bootstrap.Coordinator
	sync   *tabsync.Syncer
	policy *navigation.Policy
	log    *zap.Logger

	cancel context.CancelFunc
}

// New builds an App on env. nav receives the hard navigations.
func New(env *Env, nav navigation.Navigator) (*App, error) {
	opts := env.Options
	log := logger.OrNop(env.Log)

	store := session.NewStore(session.NewBackendPersister(env.Backend, opts.StorageKey), log)
	probe := me.New(env.HTTP, env.Origin, me.Options{
		Debounce: opts.Debounce.D(),
		Timeout:  opts.ProbeTimeout.D(),
		Logger:   log,
	})
	refresher := csrf.NewRefresher(env.HTTP, env.Origin, opts.CSRFTimeout.D(), log)
	mut := mutate.New(env.HTTP, env.Origin, csrf.NewReader(env.HTTP.Jar, env.Origin), refresher, opts.MutationTimeout.D(), log)
	policy := navigation.NewPolicy(nav, nil, log)

	a := &App{
		env:    env,
		store:  store,
		me:     probe,
		mut:    mut,
		boot:   bootstrap.New(store, probe, opts.BootstrapTimeout.D(), log),
		policy: policy,
		log:    log,
	}
	a.sync = tabsync.NewSyncer(env.Channel, store, func(tabsync.Event) { policy.OnRemoteLogout() }, log)
	a.log = log.With(zap.String("tab", a.sync.Source()))

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := a.sync.Start(ctx); err != nil {
		cancel()
		probe.Close()
		return nil, fmt.Errorf("subscribe to auth events: %w", err)
	}
	a.cancel = cancel
	a.boot.StartAutoRevalidate(ctx, opts.RevalidateInterval.D())
	return a, nil
}

// Close stops the background work of the tab. It does not wait for it, so
// it is safe to call from a navigation triggered inside the tab.
func (a *App) Close() {
	a.cancel()
	a.me.Close()
}

// Store returns the session store.
func (a *App) Store() *session.Store { return a.store }

// State returns the current session state.
func (a *App) State() session.State { return a.store.State() }

// Bootstrap runs the one-time session check.
func (a *App) Bootstrap(ctx context.Context) session.State {
	return a.boot.Run(ctx)
}

// Revalidate re-probes the session, as on tab refocus.
func (a *App) Revalidate(ctx context.Context) session.State {
	return a.boot.Revalidate(ctx)
}

// Login signs in, confirms the session with a fresh probe and navigates to
// the dashboard.
func (a *App) Login(ctx context.Context, email, password string) error {
	a.store.SetLoading(true)
	defer a.store.SetLoading(false)

	res := a.mut.Post(ctx, LoginPath, models.LoginRequest{Email: email, Password: password})
	if !res.OK {
		a.store.SetError(res.Error)
		return resultError("login", res)
	}
	a.checkCookies("login", res.Cookies, false)

	confirm := a.me.Refetch(ctx)
	if !confirm.IsAuthenticated() {
		a.store.SetError(ErrLoginNotConfirmed.Error())
		a.policy.AfterLogin(confirm)
		return ErrLoginNotConfirmed
	}
	if err := a.store.Login(confirm.User); err != nil {
		return err
	}
	a.policy.AfterLogin(confirm)
	return nil
}

// Logout ends the current session. The local session is cleared, other tabs
// are told and the tab navigates to the login page whether or not the API
// call succeeded; the API failure is still returned.
func (a *App) Logout(ctx context.Context) error {
	return a.logout(ctx, "logout", LogoutPath, tabsync.EventLogout)
}

// LogoutAll ends every session of the user, like Logout.
func (a *App) LogoutAll(ctx context.Context) error {
	return a.logout(ctx, "logout-all", LogoutAllPath, tabsync.EventLogoutAll)
}

func (a *App) logout(ctx context.Context, op, path string, event tabsync.EventType) error {
	res := a.mut.Post(ctx, path, nil)
	if res.OK {
		a.checkCookies(op, res.Cookies, true)
	} else {
		a.log.Warn("logout request failed, logging out locally",
			zap.String("op", op), zap.Int("status", res.Status), zap.String("code", res.Code))
	}

	a.store.Logout()
	_ = a.sync.Broadcast(ctx, event)
	a.policy.AfterLogout()

	if !res.OK {
		return resultError(op, res)
	}
	return nil
}

// UpdateBasic updates the basic profile fields.
func (a *App) UpdateBasic(ctx context.Context, p models.BasicProfile) error {
	return a.updateProfile(ctx, "update basic profile", ProfileBasicPath, p)
}

// UpdatePreferences replaces the discovery preferences.
func (a *App) UpdatePreferences(ctx context.Context, p models.Preferences) error {
	return a.updateProfile(ctx, "update preferences", ProfilePreferencePath, p)
}

// UpdateBirthData replaces the birth data.
func (a *App) UpdateBirthData(ctx context.Context, b models.BirthData) error {
	return a.updateProfile(ctx, "update birth data", ProfileBirthDataPath, b)
}

// updateProfile sends the mutation and then refreshes the cached user from
// the server. The mutation response is used only when the refetch could not
// reach a definite answer.
func (a *App) updateProfile(ctx context.Context, op, path string, body any) error {
	res := a.mut.Put(ctx, path, body)
	if !res.OK {
		a.store.SetError(res.Error)
		return resultError(op, res)
	}
	a.store.SetError("")

	fresh := a.me.Refetch(ctx)
	switch {
	case fresh.IsAuthenticated():
		a.store.SetUser(fresh.User)
	case fresh.Definite():
		a.store.SetUser(nil)
	default:
		var out models.ProfileResponse
		if err := res.Decode(&out); err == nil && out.User != nil {
			a.store.SetUser(out.User)
		}
	}
	return nil
}

// checkCookies logs session cookies that lack the required attributes and
// returns the problems found.
func (a *App) checkCookies(op string, cookies []*http.Cookie, logout bool) []string {
	problems := CookieProblems(cookies, logout)
	for _, p := range problems {
		a.log.Warn("insecure session cookie", zap.String("op", op), zap.String("problem", p))
	}
	return problems
}

// CookieProblems checks every cookie but the CSRF one for HttpOnly, Secure,
// SameSite=Lax and Path=/, plus Max-Age=0 when logout is set.
func CookieProblems(cookies []*http.Cookie, logout bool) []string {
	var out []string
	for _, c := range cookies {
		if c.Name == csrf.CookieName {
			continue
		}
		if !c.HttpOnly {
			out = append(out, c.Name+": missing HttpOnly")
		}
		if !c.Secure {
			out = append(out, c.Name+": missing Secure")
		}
		if c.SameSite != http.SameSiteLaxMode {
			out = append(out, c.Name+": SameSite is not Lax")
		}
		if c.Path != "/" {
			out = append(out, c.Name+": Path is not /")
		}
		if logout && c.MaxAge >= 0 {
			out = append(out, c.Name+": not expired with Max-Age=0")
		}
	}
	return out
}
