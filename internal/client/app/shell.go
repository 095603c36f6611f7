package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/logger"
)

// Shell owns the current App of one tab and implements navigation.Navigator
// by reloading: Assign throws the App away and bootstraps a fresh one.
type Shell struct {
	ctx context.Context
	env *Env
	log *zap.Logger

	// navMu serializes navigations; mu guards the fields below.
	navMu    sync.Mutex
	mu       sync.Mutex
	app      *App
	location string
	loads    int
}

// NewShell loads location in a new tab and bootstraps it.
func NewShell(ctx context.Context, env *Env, location string) (*Shell, error) {
	s := &Shell{ctx: ctx, env: env, log: logger.OrNop(env.Log), location: location}
	a, err := New(env, s)
	if err != nil {
		return nil, err
	}
	s.app = a
	s.loads = 1
	a.Bootstrap(ctx)
	return s, nil
}

// App returns the current App.
func (s *Shell) App() *App {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.app
}

// Location implements navigation.Navigator.
func (s *Shell) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

// Loads returns how many Apps this shell has built.
func (s *Shell) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// Assign implements navigation.Navigator. Overlapping calls run one after
// another, so exactly one App is live once they return.
func (s *Shell) Assign(path string) {
	a, ok := s.swap(path)
	if !ok {
		return
	}

	s.log.Debug("navigated", zap.String("location", path))
	a.Bootstrap(s.ctx)
}

func (s *Shell) swap(path string) (*App, bool) {
	s.navMu.Lock()
	defer s.navMu.Unlock()

	s.mu.Lock()
	old := s.app
	s.location = path
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	a, err := New(s.env, s)
	if err != nil {
		s.log.Error("reload failed", zap.String("location", path), zap.Error(err))
		return nil, false
	}

	s.mu.Lock()
	s.app = a
	s.loads++
	s.mu.Unlock()
	return a, true
}

// Close disposes the current App.
func (s *Shell) Close() {
	s.navMu.Lock()
	defer s.navMu.Unlock()
	s.mu.Lock()
	a := s.app
	s.app = nil
	s.mu.Unlock()
	if a != nil {
		a.Close()
	}
}
