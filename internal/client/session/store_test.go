package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/heartline/internal/client/storage"
	"github.com/atinyakov/heartline/internal/models"
)

const snapshotKey = "heartline-auth"

func newPersistedStore(t *testing.T) (*Store, *storage.MemoryBackend) {
	t.Helper()
	backend := storage.NewMemoryBackend()
	return NewStore(NewBackendPersister(backend, snapshotKey), nil), backend
}

func TestStore_InitialState(t *testing.T) {
	s := NewStore(nil, nil)
	assert.Equal(t, State{}, s.State())
}

func TestStore_LoginLogout(t *testing.T) {
	s, backend := newPersistedStore(t)

	require.ErrorIs(t, s.Login(nil), ErrNilUser)
	assert.False(t, s.State().IsAuthenticated)

	s.SetLoading(true)
	s.SetError("old")
	require.NoError(t, s.Login(&models.User{ID: "u1"}))
	st := s.State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, "u1", st.User.ID)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.Error)
	assert.False(t, st.LastChecked.IsZero())

	data, err := backend.Get(context.Background(), snapshotKey)
	require.NoError(t, err)
	assert.True(t, Decode(data).IsAuthenticated)

	s.Logout()
	st = s.State()
	assert.False(t, st.IsAuthenticated)
	assert.Nil(t, st.User)

	data, _ = backend.Get(context.Background(), snapshotKey)
	assert.False(t, Decode(data).IsAuthenticated)
}

func TestStore_LogoutIsIdempotent(t *testing.T) {
	s := NewStore(nil, nil)
	require.NoError(t, s.Login(&models.User{ID: "u1"}))

	var calls int
	s.Subscribe(func(State) { calls++ })

	s.Logout()
	first := s.State()
	s.Logout()
	assert.Equal(t, first, s.State())
	assert.Equal(t, 1, calls, "second logout changes nothing")
}

func TestStore_SetUser(t *testing.T) {
	s := NewStore(nil, nil)
	s.SetError("boom")

	s.SetUser(&models.User{ID: "u1"})
	st := s.State()
	assert.True(t, st.IsAuthenticated)
	assert.Empty(t, st.Error)

	s.SetUser(nil)
	st = s.State()
	assert.False(t, st.IsAuthenticated)
	assert.Nil(t, st.User)
}

func TestStore_SetInitializedOnce(t *testing.T) {
	s := NewStore(nil, nil)
	var flips int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.SetInitialized() {
				mu.Lock()
				flips++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, flips)
	assert.True(t, s.State().IsInitialized)

	s.Logout()
	assert.True(t, s.State().IsInitialized, "logout never resets initialization")
}

func TestStore_StateIsACopy(t *testing.T) {
	s := NewStore(nil, nil)
	require.NoError(t, s.Login(&models.User{ID: "u1"}))
	st := s.State()
	st.User.ID = "mutated"
	assert.Equal(t, "u1", s.State().User.ID)
}

func TestStore_SubscribeAndUnsubscribe(t *testing.T) {
	s := NewStore(nil, nil)
	var got []State
	unsub := s.Subscribe(func(st State) { got = append(got, st) })

	s.SetLoading(true)
	s.SetLoading(true) // no change, no call
	require.NoError(t, s.Login(&models.User{ID: "u1"}))
	unsub()
	s.Logout()

	require.Len(t, got, 2)
	assert.True(t, got[0].IsLoading)
	assert.True(t, got[1].IsAuthenticated)
}

func TestStore_HydrateIsProvisional(t *testing.T) {
	s, backend := newPersistedStore(t)
	data, _ := Encode(Snapshot{User: &models.User{ID: "u1"}, IsAuthenticated: true, LastChecked: time.UnixMilli(1)})
	require.NoError(t, backend.Set(context.Background(), snapshotKey, data))

	s.Hydrate(context.Background())
	st := s.State()
	assert.True(t, st.IsAuthenticated)
	assert.True(t, st.Provisional)
	assert.False(t, st.IsInitialized)

	// A fresh probe says otherwise: the probe wins.
	s.SetUser(nil)
	s.SetInitialized()
	st = s.State()
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.Provisional)

	// Hydrating after initialization is ignored.
	s.Hydrate(context.Background())
	assert.False(t, s.State().IsAuthenticated)
}

func TestStore_HydrateCorruptOrMissing(t *testing.T) {
	s, backend := newPersistedStore(t)
	s.Hydrate(context.Background())
	assert.Equal(t, State{}, s.State())

	require.NoError(t, backend.Set(context.Background(), snapshotKey, []byte("undefined")))
	s.Hydrate(context.Background())
	assert.Equal(t, State{}, s.State())
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, error) { return nil, errors.New("down") }
func (failingBackend) Set(context.Context, string, []byte) error   { return errors.New("down") }
func (failingBackend) Delete(context.Context, string) error        { return errors.New("down") }

func TestStore_BackendFailuresDoNotBreakActions(t *testing.T) {
	s := NewStore(NewBackendPersister(failingBackend{}, snapshotKey), nil)
	s.Hydrate(context.Background())
	require.NoError(t, s.Login(&models.User{ID: "u1"}))
	assert.True(t, s.State().IsAuthenticated)
}
