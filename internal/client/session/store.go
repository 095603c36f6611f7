// Package session holds the client's authoritative belief about the current
// user and the persisted snapshot of it.
//
// The Store is mutated only through its actions. Listeners are called after
// every change, outside the lock, with a copy of the new state.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/logger"
	"github.com/atinyakov/heartline/internal/models"
)

// ErrNilUser is returned by Login when no user is given.
var ErrNilUser = errors.New("session: login requires a user")

const persistTimeout = 5 * time.Second

// State is a point-in-time copy of the session.
type State struct {
	IsAuthenticated bool
	User            *models.User
	IsLoading       bool
	Error           string
	IsInitialized   bool
	LastChecked     time.Time
	// Provisional is true while the state comes only from a persisted
	// snapshot that no probe has confirmed yet.
	Provisional bool
}

// Snapshot returns the persisted subset of st.
func (st State) Snapshot() Snapshot {
	return Snapshot{User: st.User, IsAuthenticated: st.IsAuthenticated, LastChecked: st.LastChecked}
}

// Persister loads and saves snapshots.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
}

// Store is the session state container. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	state     State
	listeners map[uint64]func(State)
	nextID    uint64

	persist   Persister
	persistMu sync.Mutex

	log *zap.Logger
	now func() time.Time
}

// NewStore returns a store in the initial state. p may be nil.
func NewStore(p Persister, log *zap.Logger) *Store {
	return &Store{
		listeners: map[uint64]func(State){},
		persist:   p,
		log:       logger.OrNop(log),
		now:       time.Now,
	}
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Subscribe registers fn for state changes and returns its cancel func.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Hydrate installs the persisted snapshot as a provisional placeholder.
// It does nothing once the store is initialized: a probe result always
// wins over stored data.
func (s *Store) Hydrate(ctx context.Context) {
	if s.persist == nil {
		return
	}
	snap, err := s.persist.Load(ctx)
	if err != nil {
		s.log.Warn("load session snapshot", zap.Error(err))
		return
	}
	if !snap.IsAuthenticated || snap.User == nil {
		return
	}
	s.update(false, func(st *State) bool {
		if st.IsInitialized {
			return false
		}
		st.IsAuthenticated = true
		st.User = snap.User
		st.LastChecked = snap.LastChecked
		st.Provisional = true
		return true
	})
}

// SetUser records a confirmed identity; nil means confirmed logged out.
func (s *Store) SetUser(user *models.User) {
	s.update(true, func(st *State) bool {
		st.User = user
		st.IsAuthenticated = user != nil
		st.LastChecked = s.now()
		st.Provisional = false
		if user != nil {
			st.Error = ""
		}
		return true
	})
}

// Login records a successful login.
func (s *Store) Login(user *models.User) error {
	if user == nil {
		return ErrNilUser
	}
	s.update(true, func(st *State) bool {
		st.User = user
		st.IsAuthenticated = true
		st.IsLoading = false
		st.Error = ""
		st.LastChecked = s.now()
		st.Provisional = false
		return true
	})
	return nil
}

// Logout clears the session. Calling it on a logged-out store is harmless.
func (s *Store) Logout() {
	s.update(true, func(st *State) bool {
		changed := st.IsAuthenticated || st.User != nil || st.Error != "" || st.IsLoading || st.Provisional
		st.User = nil
		st.IsAuthenticated = false
		st.IsLoading = false
		st.Error = ""
		st.Provisional = false
		return changed
	})
}

// SetInitialized flips IsInitialized to true. It reports whether this call
// made the transition; the flag never goes back to false.
func (s *Store) SetInitialized() bool {
	var flipped bool
	s.update(false, func(st *State) bool {
		if st.IsInitialized {
			return false
		}
		st.IsInitialized = true
		flipped = true
		return true
	})
	return flipped
}

// SetLoading sets the loading flag.
func (s *Store) SetLoading(loading bool) {
	s.update(false, func(st *State) bool {
		if st.IsLoading == loading {
			return false
		}
		st.IsLoading = loading
		return true
	})
}

// SetError sets or clears (with "") the last error message.
func (s *Store) SetError(msg string) {
	s.update(false, func(st *State) bool {
		if st.Error == msg {
			return false
		}
		st.Error = msg
		return true
	})
}

func (s *Store) update(persist bool, fn func(*State) bool) {
	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return
	}
	st := s.copyLocked()
	listeners := make([]func(State), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	if persist {
		s.save()
	}
	for _, l := range listeners {
		l(st)
	}
}

// save writes the latest state. Saves are serialized and each one reads the
// state after taking the lock, so an older state never overwrites a newer one.
func (s *Store) save() {
	if s.persist == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persist.Save(ctx, s.State().Snapshot()); err != nil {
		s.log.Warn("save session snapshot", zap.Error(err))
	}
}

func (s *Store) copyLocked() State {
	st := s.state
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}
