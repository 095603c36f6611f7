// Package bootstrap runs the one-time session check of an app instance and
// the periodic revalidation after it.
package bootstrap

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/client/me"
	"github.com/atinyakov/heartline/internal/client/session"
	"github.com/atinyakov/heartline/internal/logger"
)

// DefaultTimeout bounds the whole bootstrap.
const DefaultTimeout = 30 * time.Second

// Prober answers "who am I".
type Prober interface {
	Fetch(ctx context.Context) me.Result
}

// Coordinator drives the store from probe results.
type Coordinator struct {
	store   *session.Store
	probe   Prober
	timeout time.Duration
	log     *zap.Logger

	once sync.Once
}

// New returns a Coordinator. A zero timeout means DefaultTimeout.
func New(store *session.Store, probe Prober, timeout time.Duration, log *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{store: store, probe: probe, timeout: timeout, log: logger.OrNop(log)}
}

// Run hydrates the store from its snapshot, probes the server and marks the
// store initialized. Only the first call does any work; concurrent callers
// wait for it and every caller gets the resulting state.
func (c *Coordinator) Run(ctx context.Context) session.State {
	c.once.Do(func() {
		c.store.Hydrate(ctx)

		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		c.store.SetLoading(true)
		res := c.probe.Fetch(ctx)
		c.apply(res, true)
		c.store.SetLoading(false)
		if c.store.SetInitialized() {
			c.log.Debug("session initialized",
				zap.Bool("authenticated", res.IsAuthenticated()),
				zap.String("reason", string(res.Reason)))
		}
	})
	return c.store.State()
}

// Revalidate re-probes the session without touching the initialized flag.
// Unlike Run it keeps the current state when the probe could not get a
// definite answer.
func (c *Coordinator) Revalidate(ctx context.Context) session.State {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.apply(c.probe.Fetch(ctx), false)
	return c.store.State()
}

// StartAutoRevalidate calls Revalidate every interval until ctx is done.
func (c *Coordinator) StartAutoRevalidate(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := c.Revalidate(ctx)
				c.log.Debug("session revalidated", zap.Bool("authenticated", st.IsAuthenticated))
			}
		}
	}()
}

func (c *Coordinator) apply(res me.Result, initial bool) {
	switch {
	case res.IsAuthenticated():
		c.store.SetUser(res.User)
	case res.Definite():
		c.store.SetUser(nil)
	default:
		c.log.Warn("session check failed", zap.String("reason", string(res.Reason)))
		if initial {
			c.store.SetUser(nil)
		}
		c.store.SetError("session check failed: " + string(res.Reason))
	}
}
