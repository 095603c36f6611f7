// Package storage holds the key/value backends the persisted session
// snapshot is written to: a local JSON file (optionally sealed) and an
// in-memory map. Redis and Postgres backends live in their own packages and
// satisfy the same Backend interface.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("storage: not found")

// Backend stores opaque values by key.
type Backend interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
