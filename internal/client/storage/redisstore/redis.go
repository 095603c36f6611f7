// Package redisstore is a storage.Backend on Redis, for deployments where
// several client processes must see the same persisted session snapshot.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atinyakov/heartline/internal/client/storage"
)

// Config contains configuration options for the Redis backend.
type Config struct {
	// Client is the Redis client to use. If nil, one is created for Addr.
	Client redis.UniversalClient
	// Addr is used when Client is nil. Defaults to localhost:6379.
	Addr string
	// KeyPrefix is prepended to every key. Defaults to "heartline:snapshot:".
	KeyPrefix string
	// TTL expires values that are not rewritten; zero keeps them forever.
	TTL time.Duration
}

// Backend implements storage.Backend with plain Redis strings.
type Backend struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// New creates a Redis backend.
func New(cfg Config) *Backend {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "heartline:snapshot:"
	}
	return &Backend{client: client, keyPrefix: prefix, ttl: cfg.TTL}
}

// Close closes the Redis connection.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Get implements storage.Backend.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.Get(ctx, b.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Set implements storage.Backend.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, b.keyPrefix+key, value, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements storage.Backend.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.keyPrefix+key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

var _ storage.Backend = (*Backend)(nil)
