package tabsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/atinyakov/heartline/internal/logger"
)

// ChannelPrefix prefixes the pub/sub channel name; the origin follows.
const ChannelPrefix = "heartline:auth:"

// RedisChannel is a Channel over Redis pub/sub, for tabs that live in
// different processes.
type RedisChannel struct {
	client redis.UniversalClient
	name   string
	log    *zap.Logger

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewRedisChannel returns a channel for origin. The client is not closed by
// Close.
func NewRedisChannel(client redis.UniversalClient, origin string, log *zap.Logger) *RedisChannel {
	return &RedisChannel{
		client: client,
		name:   ChannelPrefix + origin,
		log:    logger.OrNop(log),
		done:   make(chan struct{}),
	}
}

// Name returns the pub/sub channel name.
func (r *RedisChannel) Name() string { return r.name }

// Publish implements Channel.
func (r *RedisChannel) Publish(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.name, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe implements Channel. It returns once Redis has confirmed the
// subscription, so events published afterwards are not missed.
func (r *RedisChannel) Subscribe(ctx context.Context) (Stream, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	ps := r.client.Subscribe(ctx, r.name)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Event, streamBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				e, err := ParseEvent([]byte(msg.Payload))
				if err != nil {
					r.log.Warn("dropping tabsync message", zap.String("channel", r.name), zap.Error(err))
					continue
				}
				select {
				case out <- e:
				default:
				}
			}
		}
	}()
	return out, nil
}

// Close ends every subscription made through r.
func (r *RedisChannel) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	return nil
}

func (r *RedisChannel) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

var _ Channel = (*RedisChannel)(nil)
