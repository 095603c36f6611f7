package tabsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, s Stream) Event {
	t.Helper()
	select {
	case e, ok := <-s:
		require.True(t, ok, "stream closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return Event{}
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := h.Subscribe(ctx)
	require.NoError(t, err)
	b, err := h.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, h.Publish(ctx, Event{Type: EventLogout, Timestamp: 1}))
	assert.Equal(t, EventLogout, recv(t, a).Type)
	assert.Equal(t, EventLogout, recv(t, b).Type)
}

func TestHub_RejectsUnknownType(t *testing.T) {
	h := NewHub()
	assert.ErrorIs(t, h.Publish(context.Background(), Event{Type: "REFRESH"}), ErrUnknownEvent)
}

func TestHub_DropsWhenFull(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := h.Subscribe(ctx)
	require.NoError(t, err)

	for i := 0; i < streamBuffer+5; i++ {
		require.NoError(t, h.Publish(ctx, Event{Type: EventLogout, Timestamp: int64(i)}))
	}
	assert.Len(t, s, streamBuffer)
}

func TestHub_UnsubscribeOnCancel(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	s, err := h.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-s:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	s, err := h.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	_, ok := <-s
	assert.False(t, ok)

	assert.ErrorIs(t, h.Publish(context.Background(), Event{Type: EventLogout}), ErrClosed)
	_, err = h.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
