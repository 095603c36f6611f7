// Package authtest runs an in-process HTTPS fake of the dating API's auth and
// profile contracts, with request counters and fault injection, for tests of
// the client packages.
package authtest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/logger"
)

// Fault is a canned response served instead of the real handler.
type Fault struct {
	Status int
	// Body is written verbatim; it need not be JSON.
	Body string
}

// Server is the fake API. Embedded httptest.Server gives URL, Client and
// Close.
type Server struct {
	*httptest.Server
	Accounts *Accounts

	mu     sync.Mutex
	counts map[string]int
	faults map[string][]Fault
	delays map[string]time.Duration

	insecure atomic.Bool
}

// NewServer starts a TLS server. log may be nil.
func NewServer(log *zap.Logger) *Server {
	s := &Server{
		Accounts: NewAccounts(),
		counts:   map[string]int{},
		faults:   map[string][]Fault{},
		delays:   map[string]time.Duration{},
	}
	auth := &AuthHandler{Accounts: s.Accounts, InsecureCookies: s.insecure.Load}
	profile := &ProfileHandler{Accounts: s.Accounts}
	s.Server = httptest.NewTLSServer(NewRouter(auth, profile, s.intercept, logger.OrNop(log)))
	return s
}

// Count returns how many requests reached method path.
func (s *Server) Count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[method+" "+path]
}

// Total returns the number of requests served.
func (s *Server) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.counts {
		n += c
	}
	return n
}

// ResetCounts zeroes the counters.
func (s *Server) ResetCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.counts)
}

// Inject queues faults for the next requests to method path, one per request.
func (s *Server) Inject(method, path string, faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := method + " " + path
	s.faults[k] = append(s.faults[k], faults...)
}

// Delay holds every request to method path for d, or until the client gives up.
func (s *Server) Delay(method, path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[method+" "+path] = d
}

// SetInsecureCookies makes login and logout omit Secure and HttpOnly.
func (s *Server) SetInsecureCookies(v bool) { s.insecure.Store(v) }

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.counts[k]++
		var fault *Fault
		if q := s.faults[k]; len(q) > 0 {
			fault = &q[0]
			s.faults[k] = q[1:]
		}
		delay := s.delays[k]
		s.mu.Unlock()

		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-r.Context().Done():
				return
			}
		}
		if fault != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(fault.Status)
			_, _ = w.Write([]byte(fault.Body))
			return
		}
		next.ServeHTTP(w, r)
	})
}
