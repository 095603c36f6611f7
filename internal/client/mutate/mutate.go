// Package mutate wraps every state-changing API call in the CSRF protocol:
// attach the token read from the cookie jar, and on a CSRF rejection fetch a
// fresh token and retry exactly once.
package mutate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/client/csrf"
	"github.com/atinyakov/heartline/internal/logger"
	"github.com/atinyakov/heartline/internal/models"
)

// DefaultTimeout bounds a single attempt.
const DefaultTimeout = 15 * time.Second

const maxBody = 1 << 20

// TokenSource returns the current CSRF token, or "".
type TokenSource interface {
	Token() string
}

// TokenRefresher obtains a fresh CSRF token from the API.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Result is the normalized outcome of a mutation. Do never returns an error;
// every failure is described here.
type Result struct {
	// OK is true for a 2xx answer whose body does not say otherwise.
	OK bool
	// Status is the HTTP status of the last attempt, 0 if none completed.
	Status int
	// Data is the raw JSON body of a successful answer.
	Data json.RawMessage
	// Error is a human-readable failure message.
	Error string
	// Code is the API error code, or one of the client-side codes.
	Code string
	// Details carries the API's structured error details, if any.
	Details json.RawMessage
	// Retried is true when the answer came from the CSRF retry.
	Retried bool
	// Cookies are the cookies set by the last response.
	Cookies []*http.Cookie
}

// Decode unmarshals the successful payload into v.
func (r Result) Decode(v any) error {
	if !r.OK {
		return fmt.Errorf("mutation failed: %s", r.Error)
	}
	if len(r.Data) == 0 {
		return errors.New("mutation returned no data")
	}
	return json.Unmarshal(r.Data, v)
}

type envelope struct {
	OK      *bool           `json:"ok"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

// Mutator performs CSRF-protected requests. It is safe for concurrent use.
type Mutator struct {
	http      *http.Client
	origin    *url.URL
	tokens    TokenSource
	refresher TokenRefresher
	timeout   time.Duration
	log       *zap.Logger
}

// New returns a Mutator sending requests to origin.
func New(client *http.Client, origin *url.URL, tokens TokenSource, refresher TokenRefresher, timeout time.Duration, log *zap.Logger) *Mutator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Mutator{
		http:      client,
		origin:    origin,
		tokens:    tokens,
		refresher: refresher,
		timeout:   timeout,
		log:       logger.OrNop(log),
	}
}

// Post is Do with POST.
func (m *Mutator) Post(ctx context.Context, path string, body any) Result {
	return m.Do(ctx, http.MethodPost, path, body)
}

// Put is Do with PUT.
func (m *Mutator) Put(ctx context.Context, path string, body any) Result {
	return m.Do(ctx, http.MethodPut, path, body)
}

// Delete is Do with DELETE.
func (m *Mutator) Delete(ctx context.Context, path string) Result {
	return m.Do(ctx, http.MethodDelete, path, nil)
}

// Do sends body as JSON to path. A 403 carrying CSRF_MISSING or CSRF_INVALID
// triggers one token refresh and one retry; any other failure is returned
// as-is. At most two requests to path are made per call.
func (m *Mutator) Do(ctx context.Context, method, path string, body any) Result {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			m.log.Error("encode mutation body", zap.String("path", path), zap.Error(err))
			return Result{Error: err.Error(), Code: models.CodeValidation}
		}
	}

	res := m.send(ctx, method, path, payload, m.tokens.Token())
	if res.Status != http.StatusForbidden || !models.IsCSRFCode(res.Code) {
		return res
	}

	m.log.Info("csrf token rejected, refreshing", zap.String("path", path), zap.String("code", res.Code))
	fresh, err := m.refresher.Refresh(ctx)
	if err != nil || fresh == "" {
		m.log.Warn("csrf refresh failed", zap.String("path", path), zap.Error(err))
		return res
	}

	retry := m.send(ctx, method, path, payload, fresh)
	retry.Retried = true
	if !retry.OK {
		m.log.Warn("mutation failed after csrf retry",
			zap.String("path", path), zap.Int("status", retry.Status), zap.String("code", retry.Code))
	}
	return retry
}

func (m *Mutator) send(ctx context.Context, method, path string, payload []byte, token string) Result {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.origin.JoinPath(path).String(), rd)
	if err != nil {
		return Result{Error: err.Error(), Code: models.CodeValidation}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(csrf.HeaderName, token)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return Result{Error: "request timed out", Code: models.CodeTimeout}
		}
		m.log.Warn("mutation transport error", zap.String("path", path), zap.Error(err))
		return Result{Error: err.Error(), Code: models.CodeNetworkError}
	}
	defer resp.Body.Close()

	res := Result{Status: resp.StatusCode, Cookies: resp.Cookies()}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		res.Error = err.Error()
		res.Code = models.CodeNetworkError
		return res
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if len(bytes.TrimSpace(data)) == 0 {
		res.OK = success
		if !success {
			res.Error = http.StatusText(resp.StatusCode)
		}
		return res
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.log.Warn("mutation returned malformed body", zap.String("path", path), zap.Int("status", resp.StatusCode))
		res.Error = "invalid response from server"
		res.Code = models.CodeInvalidResponse
		return res
	}

	res.Code = env.Code
	res.Details = env.Details
	if success && (env.OK == nil || *env.OK) {
		res.OK = true
		res.Data = json.RawMessage(data)
		return res
	}

	res.Error = env.Error
	if res.Error == "" {
		res.Error = http.StatusText(resp.StatusCode)
	}
	return res
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
