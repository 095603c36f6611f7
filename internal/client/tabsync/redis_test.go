package tabsync

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisChannel_PublishSubscribe(t *testing.T) {
	_, client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := NewRedisChannel(client, "https://app.example", nil)
	receiver := NewRedisChannel(client, "https://app.example", nil)
	assert.Equal(t, "heartline:auth:https://app.example", receiver.Name())

	s, err := receiver.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, sender.Publish(ctx, Event{Type: EventLogoutAll, Timestamp: 42, Source: "tab-1"}))
	assert.Equal(t, Event{Type: EventLogoutAll, Timestamp: 42, Source: "tab-1"}, recv(t, s))
}

func TestRedisChannel_SkipsForeignMessages(t *testing.T) {
	mr, client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := NewRedisChannel(client, "o", nil)
	s, err := ch.Subscribe(ctx)
	require.NoError(t, err)

	mr.Publish(ch.Name(), `{"type":"HELLO"}`)
	mr.Publish(ch.Name(), `garbage`)
	mr.Publish(ch.Name(), `{"type":"LOGOUT","timestamp":7}`)
	assert.Equal(t, int64(7), recv(t, s).Timestamp)
}

func TestRedisChannel_OriginsAreIsolated(t *testing.T) {
	_, client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other, err := NewRedisChannel(client, "other", nil).Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, NewRedisChannel(client, "mine", nil).Publish(ctx, Event{Type: EventLogout}))

	select {
	case e := <-other:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisChannel_Close(t *testing.T) {
	_, client := newRedis(t)
	ch := NewRedisChannel(client, "o", nil)
	s, err := ch.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-s:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, ch.Publish(context.Background(), Event{Type: EventLogout}), ErrClosed)
	_, err = ch.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
