// Package me implements the coalescing "who am I" probe.
//
// Every caller that asks for the session identity within one debounce window,
// or while a request is already in flight, shares a single GET /api/auth/me.
// The probe never fails its callers: HTTP 401 with AUTH_REQUIRED is a normal
// unauthenticated result, and every other failure is downgraded to
// unauthenticated with a Reason describing what went wrong.
package me

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/logger"
	"github.com/atinyakov/heartline/internal/models"
)

// Path is the session identity endpoint.
const Path = "/api/auth/me"

const (
	// DefaultDebounce is the coalescing window.
	DefaultDebounce = 200 * time.Millisecond
	// DefaultTimeout bounds one network request.
	DefaultTimeout = 10 * time.Second

	maxBody = 1 << 20
)

// Auth is the authentication state reported by a probe.
type Auth string

const (
	Authenticated   Auth = "authenticated"
	Unauthenticated Auth = "unauthenticated"
)

// Reason explains an unauthenticated result.
type Reason string

const (
	// ReasonNone accompanies authenticated results.
	ReasonNone Reason = ""
	// ReasonAuthRequired is the definite answer: the server has no session.
	ReasonAuthRequired Reason = "auth_required"
	// ReasonUnavailable covers transport failures and 5xx answers.
	ReasonUnavailable Reason = "unavailable"
	// ReasonTimeout is returned when the request or the caller's wait timed out.
	ReasonTimeout Reason = "timeout"
	// ReasonProtocol covers unexpected statuses and malformed bodies.
	ReasonProtocol Reason = "protocol"
	// ReasonClosed is returned to callers still waiting when the client closes.
	ReasonClosed Reason = "closed"

	reasonSuperseded Reason = "superseded"
)

// Result is the normalized probe outcome.
type Result struct {
	Auth   Auth
	User   *models.User
	Reason Reason
}

// IsAuthenticated reports whether the result carries a user.
func (r Result) IsAuthenticated() bool {
	return r.Auth == Authenticated && r.User != nil
}

// Definite reports whether the server actually answered the question, as
// opposed to the client giving up (outage, timeout, bad payload).
func (r Result) Definite() bool {
	return r.Auth == Authenticated || r.Reason == ReasonAuthRequired
}

func unauthenticated(reason Reason) Result {
	return Result{Auth: Unauthenticated, Reason: reason}
}

// Options configures a Client.
type Options struct {
	// Debounce is the coalescing window; zero means DefaultDebounce.
	Debounce time.Duration
	// Timeout bounds a single request; zero means DefaultTimeout.
	Timeout time.Duration
	// Logger receives protocol and transport warnings.
	Logger *zap.Logger
}

// Client is the coalescing probe. It is safe for concurrent use.
type Client struct {
	http     *http.Client
	url      string
	debounce time.Duration
	timeout  time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	timer    *time.Timer
	timerSeq uint64
	pending  []chan Result
	inflight *batch
	closed   bool
}

// batch is one network request and everyone waiting on it.
type batch struct {
	waiters []chan Result
	cancel  context.CancelFunc
}

// New returns a Client probing {origin}/api/auth/me.
func New(client *http.Client, origin *url.URL, opts Options) *Client {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		http:     client,
		url:      origin.JoinPath(Path).String(),
		debounce: opts.Debounce,
		timeout:  opts.Timeout,
		log:      logger.OrNop(opts.Logger),
	}
}

// Fetch returns the session identity, joining an in-flight request or the
// current debounce batch when there is one. If ctx ends first the caller gets
// an unauthenticated ReasonTimeout result; the shared request carries on.
func (c *Client) Fetch(ctx context.Context) Result {
	ch := make(chan Result, 1)

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return unauthenticated(ReasonClosed)
	case c.inflight != nil:
		c.inflight.waiters = append(c.inflight.waiters, ch)
	case c.timer != nil:
		c.pending = append(c.pending, ch)
	default:
		c.pending = append(c.pending, ch)
		c.timerSeq++
		seq := c.timerSeq
		c.timer = time.AfterFunc(c.debounce, func() { c.fireTimer(seq) })
	}
	c.mu.Unlock()

	return wait(ctx, ch)
}

// Refetch skips the debounce window and issues a new request right away,
// superseding any request in flight. Waiters of the superseded request are
// moved onto the new one, so nobody observes the stale outcome.
func (c *Client) Refetch(ctx context.Context) Result {
	ch := make(chan Result, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return unauthenticated(ReasonClosed)
	}
	c.pending = append(c.pending, ch)
	c.launchLocked()
	c.mu.Unlock()

	return wait(ctx, ch)
}

// Close cancels any pending work and resolves every waiter with ReasonClosed.
// Later calls return ReasonClosed immediately.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopTimerLocked()
	waiters := c.pending
	c.pending = nil
	if b := c.inflight; b != nil {
		b.cancel()
		waiters = append(waiters, b.waiters...)
		b.waiters = nil
		c.inflight = nil
	}
	c.mu.Unlock()

	deliver(waiters, unauthenticated(ReasonClosed))
}

func wait(ctx context.Context, ch <-chan Result) Result {
	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return unauthenticated(ReasonTimeout)
	}
}

func (c *Client) fireTimer(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A Refetch or Close already consumed this batch.
	if c.closed || c.timer == nil || seq != c.timerSeq {
		return
	}
	c.launchLocked()
}

// launchLocked starts a request for all pending waiters. c.mu must be held.
func (c *Client) launchLocked() {
	c.stopTimerLocked()

	waiters := c.pending
	c.pending = nil
	if prev := c.inflight; prev != nil {
		prev.cancel()
		waiters = append(prev.waiters, waiters...)
		prev.waiters = nil
		c.log.Debug("superseding in-flight identity probe")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	b := &batch{waiters: waiters, cancel: cancel}
	c.inflight = b

	go c.run(ctx, b)
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) run(ctx context.Context, b *batch) {
	res := c.probe(ctx)

	c.mu.Lock()
	if c.inflight != b {
		// Superseded or closed: the waiters now belong to someone else.
		c.mu.Unlock()
		b.cancel()
		return
	}
	waiters := b.waiters
	b.waiters = nil
	c.inflight = nil
	c.mu.Unlock()

	b.cancel()
	deliver(waiters, res)
}

func deliver(waiters []chan Result, res Result) {
	for _, w := range waiters {
		w <- res
	}
}

func (c *Client) probe(ctx context.Context) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		c.log.Error("build identity request", zap.Error(err))
		return unauthenticated(ReasonProtocol)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return unauthenticated(reasonSuperseded)
		case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
			c.log.Warn("identity probe timed out", zap.Duration("timeout", c.timeout))
			return unauthenticated(ReasonTimeout)
		default:
			c.log.Warn("identity probe failed", zap.Error(err))
			return unauthenticated(ReasonUnavailable)
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		c.log.Warn("read identity response", zap.Error(err))
		return unauthenticated(ReasonUnavailable)
	}

	var body models.MeResponse
	jsonErr := json.Unmarshal(data, &body)

	switch {
	case resp.StatusCode == http.StatusOK && jsonErr == nil && body.OK && body.User != nil:
		return Result{Auth: Authenticated, User: body.User}
	case resp.StatusCode == http.StatusUnauthorized && jsonErr == nil && body.Code == models.CodeAuthRequired:
		c.log.Debug("identity probe: no session")
		return unauthenticated(ReasonAuthRequired)
	case resp.StatusCode >= http.StatusInternalServerError:
		c.log.Warn("identity probe: server error", zap.Int("status", resp.StatusCode))
		return unauthenticated(ReasonUnavailable)
	default:
		c.log.Warn("identity probe: unexpected response",
			zap.Int("status", resp.StatusCode),
			zap.Bool("json", jsonErr == nil),
			zap.String("code", body.Code),
		)
		return unauthenticated(ReasonProtocol)
	}
}
