package storage

import (
	"context"
	"crypto/cipher"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend keeps all keys in one JSON file. Writes go to a temp file that
// is renamed into place, so a crash never leaves a half-written file.
type FileBackend struct {
	path string
	aead cipher.AEAD
	mu   sync.Mutex
}

type fileData struct {
	Entries map[string][]byte `json:"entries"`
}

// NewFileBackend returns a backend stored at path. When aead is non-nil
// values are sealed before they hit the disk.
func NewFileBackend(path string, aead cipher.AEAD) *FileBackend {
	return &FileBackend{path: path, aead: aead}
}

// Get implements Backend.
func (b *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	fd, err := b.load()
	if err != nil {
		return nil, err
	}
	v, ok := fd.Entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if b.aead == nil {
		return v, nil
	}
	return open(b.aead, v)
}

// Set implements Backend.
func (b *FileBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	fd, err := b.load()
	if err != nil {
		// An unreadable file is replaced rather than blocking every write.
		fd = &fileData{Entries: map[string][]byte{}}
	}
	if b.aead != nil {
		if value, err = seal(b.aead, value); err != nil {
			return err
		}
	}
	fd.Entries[key] = value
	return b.save(fd)
}

// Delete implements Backend.
func (b *FileBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	fd, err := b.load()
	if err != nil {
		return nil
	}
	if _, ok := fd.Entries[key]; !ok {
		return nil
	}
	delete(fd.Entries, key)
	return b.save(fd)
}

func (b *FileBackend) load() (*fileData, error) {
	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileData{Entries: map[string][]byte{}}, nil
		}
		return nil, err
	}
	defer f.Close()

	var fd fileData
	if err := json.NewDecoder(f).Decode(&fd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	if fd.Entries == nil {
		fd.Entries = map[string][]byte{}
	}
	return &fd, nil
}

func (b *FileBackend) save(fd *fileData) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := json.NewEncoder(tmp).Encode(fd); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}

// MemoryBackend is a process-local Backend. Tabs created in one process may
// share it the way browser tabs share localStorage.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: map[string][]byte{}}
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set implements Backend.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

var (
	_ Backend = (*FileBackend)(nil)
	_ Backend = (*MemoryBackend)(nil)
)
