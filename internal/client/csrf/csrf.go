// Package csrf reads the CSRF token the API mirrors into a cookie and
// fetches a fresh one when the held token is rejected.
package csrf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/atinyakov/heartline/internal/logger"
	"github.com/atinyakov/heartline/internal/models"
)

const (
	// CookieName is the cookie the API stores the token in.
	CookieName = models.CSRFCookieName
	// HeaderName is the request header mutations carry the token in.
	HeaderName = models.CSRFHeaderName
	// Path is the token endpoint.
	Path = "/api/auth/csrf"
	// DefaultTimeout bounds one refresh request.
	DefaultTimeout = 5 * time.Second
)

// ErrNoToken is returned when the token endpoint answers without a token.
var ErrNoToken = errors.New("csrf: no token in response")

// Reader reads the token from the cookie jar. It holds no state of its own,
// so a token rotated by the server is picked up on the next call.
type Reader struct {
	jar    http.CookieJar
	origin *url.URL
}

// NewReader returns a Reader for cookies scoped to origin.
func NewReader(jar http.CookieJar, origin *url.URL) *Reader {
	return &Reader{jar: jar, origin: origin}
}

// Token returns the current token, or "" when the cookie is absent.
func (r *Reader) Token() string {
	if r == nil || r.jar == nil {
		return ""
	}
	for _, c := range r.jar.Cookies(r.origin) {
		if c.Name == CookieName {
			return c.Value
		}
	}
	return ""
}

// Refresher fetches fresh tokens. Concurrent callers share one request.
type Refresher struct {
	client  *http.Client
	url     string
	timeout time.Duration
	log     *zap.Logger
	group   singleflight.Group
}

// NewRefresher returns a Refresher calling GET {origin}/api/auth/csrf.
// A zero timeout means DefaultTimeout.
func NewRefresher(client *http.Client, origin *url.URL, timeout time.Duration, log *zap.Logger) *Refresher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Refresher{
		client:  client,
		url:     origin.JoinPath(Path).String(),
		timeout: timeout,
		log:     logger.OrNop(log),
	}
}

// Refresh returns a fresh token. The shared request is bounded by the
// refresher timeout; ctx only bounds this caller's wait.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	ch := r.group.DoChan("csrf", func() (any, error) {
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.fetch(reqCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Refresher) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return "", fmt.Errorf("csrf request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("csrf refresh failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("csrf refresh: server error %d: %s", resp.StatusCode, string(data))
	}

	var body models.CSRFResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("csrf refresh: invalid response: %w", err)
	}
	if body.CSRFToken == "" {
		return "", ErrNoToken
	}

	r.log.Debug("csrf token refreshed")
	return body.CSRFToken, nil
}
