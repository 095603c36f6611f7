package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// StartSnapshotCleaner deletes snapshots not rewritten within retention,
// checking every interval until ctx is done. A snapshot that old belongs to a
// session the server has long expired, and the next probe would discard it
// anyway.
func StartSnapshotCleaner(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention).UnixMilli()
				res, err := db.ExecContext(ctx, `
                    DELETE FROM client_snapshots
                     WHERE updated_at < $1
                `, cutoff)
				if err != nil {
					log.Error("failed to clean stale snapshots", zap.Error(err))
					continue
				}
				if rows, _ := res.RowsAffected(); rows > 0 {
					log.Info("cleaned stale snapshots", zap.Int64("removed", rows))
				}
			}
		}
	}()
}
