package me

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// roundTripperFunc lets tests stub http.Client transports.
type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

var origin, _ = url.Parse("https://app.example.com")

const (
	authRequired = `{"ok":false,"code":"AUTH_REQUIRED","error":"Authentication required"}`
	okUser       = `{"ok":true,"user":{"id":"u1","email":"ann@example.com","display_name":"Ann"}}`
)

func newClient(rt roundTripperFunc, opts Options) *Client {
	if opts.Debounce == 0 {
		opts.Debounce = 20 * time.Millisecond
	}
	return New(&http.Client{Transport: rt}, origin, opts)
}

func fetchAll(t *testing.T, n int, fn func() Result) []Result {
	t.Helper()
	out := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out[i] = fn()
		}(i)
	}
	wg.Wait()
	return out
}

func TestFetch_CoalescesBurstIntoOneRequest(t *testing.T) {
	var calls atomic.Int32
	c := newClient(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		assert.Equal(t, "https://app.example.com/api/auth/me", req.URL.String())
		return jsonResponse(http.StatusUnauthorized, authRequired), nil
	}, Options{Debounce: 200 * time.Millisecond})
	defer c.Close()

	results := fetchAll(t, 3, func() Result { return c.Fetch(context.Background()) })

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, Unauthenticated, r.Auth)
		assert.Nil(t, r.User)
		assert.Equal(t, ReasonAuthRequired, r.Reason)
		assert.True(t, r.Definite())
	}
}

func TestFetch_Authenticated(t *testing.T) {
	c := newClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, okUser), nil
	}, Options{})
	defer c.Close()

	r := c.Fetch(context.Background())
	require.True(t, r.IsAuthenticated())
	assert.Equal(t, "u1", r.User.ID)
	assert.Equal(t, ReasonNone, r.Reason)
}

func TestFetch_NormalizesFailures(t *testing.T) {
	tests := []struct {
		name   string
		rt     roundTripperFunc
		reason Reason
	}{
		{
			name: "401 without auth code",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusUnauthorized, `{"ok":false,"code":"OTHER"}`), nil
			},
			reason: ReasonProtocol,
		},
		{
			name: "200 not ok",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"ok":false}`), nil
			},
			reason: ReasonProtocol,
		},
		{
			name: "200 html",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `<html>login</html>`), nil
			},
			reason: ReasonProtocol,
		},
		{
			name: "403",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusForbidden, `{"ok":false,"code":"FORBIDDEN"}`), nil
			},
			reason: ReasonProtocol,
		},
		{
			name: "502",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusBadGateway, `bad gateway`), nil
			},
			reason: ReasonUnavailable,
		},
		{
			name: "network error",
			rt: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
			reason: ReasonUnavailable,
		},
		{
			name: "hung server",
			rt: func(req *http.Request) (*http.Response, error) {
				<-req.Context().Done()
				return nil, req.Context().Err()
			},
			reason: ReasonTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(tt.rt, Options{Timeout: 50 * time.Millisecond})
			defer c.Close()

			r := c.Fetch(context.Background())
			assert.Equal(t, Unauthenticated, r.Auth)
			assert.Nil(t, r.User)
			assert.Equal(t, tt.reason, r.Reason)
			assert.False(t, r.Definite())
		})
	}
}

func TestFetch_ExpectedUnauthenticatedIsNotLoggedAsProblem(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := newClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, authRequired), nil
	}, Options{Logger: zap.New(core)})
	defer c.Close()

	c.Fetch(context.Background())
	assert.Equal(t, 0, logs.Len())
}

func TestFetch_JoinsInFlightRequest(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := newClient(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		<-release
		return jsonResponse(http.StatusOK, okUser), nil
	}, Options{})
	defer c.Close()

	first := make(chan Result, 1)
	go func() { first <- c.Fetch(context.Background()) }()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan Result, 1)
	go func() { second <- c.Fetch(context.Background()) }()
	time.Sleep(50 * time.Millisecond) // longer than the debounce window
	close(release)

	assert.True(t, (<-first).IsAuthenticated())
	assert.True(t, (<-second).IsAuthenticated())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_NewCycleAfterResolution(t *testing.T) {
	var calls atomic.Int32
	c := newClient(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusUnauthorized, authRequired), nil
	}, Options{})
	defer c.Close()

	c.Fetch(context.Background())
	c.Fetch(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefetch_SupersedesInFlightRequest(t *testing.T) {
	var calls atomic.Int32
	releaseStale := make(chan struct{})
	c := newClient(func(*http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			// Ignores cancellation and answers late with a stale identity.
			<-releaseStale
			return jsonResponse(http.StatusOK, `{"ok":true,"user":{"id":"stale"}}`), nil
		}
		return jsonResponse(http.StatusOK, `{"ok":true,"user":{"id":"fresh"}}`), nil
	}, Options{})
	defer c.Close()

	first := make(chan Result, 1)
	go func() { first <- c.Fetch(context.Background()) }()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	second := c.Refetch(context.Background())
	close(releaseStale)

	require.True(t, second.IsAuthenticated())
	assert.Equal(t, "fresh", second.User.ID)
	r := <-first
	require.True(t, r.IsAuthenticated())
	assert.Equal(t, "fresh", r.User.ID, "waiter must never see the superseded outcome")
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefetch_AbsorbsPendingDebounceBatch(t *testing.T) {
	var calls atomic.Int32
	c := newClient(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusOK, okUser), nil
	}, Options{Debounce: 100 * time.Millisecond})
	defer c.Close()

	waiting := make(chan Result, 1)
	go func() { waiting <- c.Fetch(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	assert.True(t, c.Refetch(context.Background()).IsAuthenticated())
	assert.True(t, (<-waiting).IsAuthenticated())

	time.Sleep(150 * time.Millisecond) // the stopped timer must not fire a second request
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_CallerContextEndsEarly(t *testing.T) {
	release := make(chan struct{})
	c := newClient(func(*http.Request) (*http.Response, error) {
		<-release
		return jsonResponse(http.StatusOK, okUser), nil
	}, Options{})
	defer c.Close()

	patient := make(chan Result, 1)
	go func() { patient <- c.Fetch(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	impatient := c.Fetch(ctx)
	assert.Equal(t, ReasonTimeout, impatient.Reason)

	close(release)
	assert.True(t, (<-patient).IsAuthenticated(), "shared request must survive one caller leaving")
}

func TestClose(t *testing.T) {
	c := newClient(func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}, Options{})

	waiting := make(chan Result, 1)
	go func() { waiting <- c.Fetch(context.Background()) }()
	time.Sleep(40 * time.Millisecond)

	c.Close()
	assert.Equal(t, ReasonClosed, (<-waiting).Reason)
	assert.Equal(t, ReasonClosed, c.Fetch(context.Background()).Reason)
	assert.Equal(t, ReasonClosed, c.Refetch(context.Background()).Reason)
	c.Close()
}
