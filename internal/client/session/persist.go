package session

import (
	"context"
	"errors"

	"github.com/atinyakov/heartline/internal/client/storage"
)

// BackendPersister stores the encoded snapshot under one key of a backend.
type BackendPersister struct {
	backend storage.Backend
	key     string
}

// NewBackendPersister returns a Persister over backend.
func NewBackendPersister(backend storage.Backend, key string) *BackendPersister {
	return &BackendPersister{backend: backend, key: key}
}

// Load returns the stored snapshot. Missing or undecodable data is the empty
// snapshot, not an error; only backend failures are reported.
func (p *BackendPersister) Load(ctx context.Context) (Snapshot, error) {
	data, err := p.backend.Get(ctx, p.key)
	if errors.Is(err, storage.ErrNotFound) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	return Decode(data), nil
}

// Save encodes and stores s.
func (p *BackendPersister) Save(ctx context.Context, s Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	return p.backend.Set(ctx, p.key, data)
}
