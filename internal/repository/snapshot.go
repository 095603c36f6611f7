// Package repository provides a Postgres implementation of the snapshot
// storage backend, used when several client processes share one persisted
// session.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/heartline/internal/client/storage"
)

// PostgresSnapshotRepository stores snapshots in the client_snapshots table.
type PostgresSnapshotRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
	// now is replaced in tests.
	now func() time.Time
}

// NewPostgresSnapshotRepository creates a repository on db, which must have
// the schema created by db.InitPostgres.
func NewPostgresSnapshotRepository(db *sql.DB) *PostgresSnapshotRepository {
	return &PostgresSnapshotRepository{DB: db, now: time.Now}
}

// Get returns the payload stored under key, or storage.ErrNotFound.
func (r *PostgresSnapshotRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := r.DB.QueryRowContext(ctx,
		`SELECT payload FROM client_snapshots WHERE key = $1`,
		key,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return payload, nil
}

// Set upserts the payload and stamps updated_at for the cleaner.
func (r *PostgresSnapshotRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO client_snapshots (key, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, key, value, r.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set snapshot: %w", err)
	}
	return nil
}

// Delete removes the row for key, if any.
func (r *PostgresSnapshotRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM client_snapshots WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

var _ storage.Backend = (*PostgresSnapshotRepository)(nil)
