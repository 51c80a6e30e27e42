package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/dronewatch/tracker/internal/stats"
	"github.com/dronewatch/tracker/internal/types"
)

// StatsWriter persists statistics snapshots into the system_stats table.
type StatsWriter struct {
	db *sql.DB
}

// NewStatsWriter creates a stats sink over an existing connection.
func NewStatsWriter(db *sql.DB) *StatsWriter { return &StatsWriter{db: db} }

// StatsWriterFor reuses the live store's connection pool.
func StatsWriterFor(live *PostgresLive) *StatsWriter { return &StatsWriter{db: live.db} }

// StoreSystemStats implements stats.Sink.
func (w *StatsWriter) StoreSystemStats(ctx context.Context, snap stats.Snapshot) error {
	query := `
		INSERT INTO system_stats (
			time, batches, created_tracks, updated_tracks, removed_on_ground,
			evicted_tracks, rejected_updates, archived_tracks, archive_sweeps,
			live_tracks, last_batch_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := w.db.ExecContext(ctx, query,
		time.Now(),
		int64(snap.Batches),
		int64(snap.Created),
		int64(snap.Updated),
		int64(snap.RemovedOnGround),
		int64(snap.Evicted),
		int64(snap.Rejected),
		int64(snap.Archived),
		int64(snap.ArchiveSweeps),
		int64(snap.LiveTracks),
		snap.LastBatchTime,
	)
	if err != nil {
		return &types.StoreError{Op: "store-stats", Err: err}
	}
	return nil
}
