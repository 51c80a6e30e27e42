// Package store defines the live and archive track stores plus their
// Postgres and in-memory implementations. Every write is a single atomic
// statement so concurrent readers see either the old or the new record,
// never a partially applied one.
package store

import (
	"context"
	"time"

	"github.com/dronewatch/tracker/internal/types"
)

// LiveStore is the current-state collection keyed by identity.
type LiveStore interface {
	// Get returns the track for an identity, or a NotFoundError.
	Get(ctx context.Context, identity string) (*types.Track, error)

	// Upsert writes the full track state as one atomic operation.
	Upsert(ctx context.Context, track *types.Track) error

	// Delete removes a track. Deleting an unknown identity is a no-op and
	// reports found=false.
	Delete(ctx context.Context, identity string) (found bool, err error)

	// ListBySource returns all live tracks of one source.
	ListBySource(ctx context.Context, source string) ([]*types.Track, error)

	// IncrementMissed bumps missed_cycles on every track of the source whose
	// identity is not in present, returning the number touched.
	IncrementMissed(ctx context.Context, source string, present []string) (int, error)

	// DeleteStale removes tracks of the source whose missed_cycles has
	// reached threshold, returning the number removed.
	DeleteStale(ctx context.Context, source string, threshold int) (int, error)

	// ListArchivable returns tracks eligible for archival: report-sourced,
	// report-shaped (description or notes present) or anonymous, whose
	// last_seen (first_seen when last_seen is unset) is strictly older
	// than cutoff.
	ListArchivable(ctx context.Context, cutoff time.Time) ([]*types.Track, error)

	// Near returns tracks within radiusM meters of the point, nearest first.
	// The boundary is exclusive.
	Near(ctx context.Context, lat, lon, radiusM float64, limit int) ([]*types.Track, error)

	// Within returns tracks contained in the bounding box, evaluated as
	// polygon containment against the box ring.
	Within(ctx context.Context, minLat, minLon, maxLat, maxLon float64, limit int) ([]*types.Track, error)

	// Recent returns the most recently seen tracks, newest first.
	Recent(ctx context.Context, limit int) ([]*types.Track, error)

	// CountBySource returns live track counts grouped by source.
	CountBySource(ctx context.Context) (map[string]int, error)

	Close() error
}

// ArchiveStore is the long-term collection for aged non-telemetry tracks.
// Entries are never deleted here.
type ArchiveStore interface {
	// Put writes an archived track. Repeating a Put for the same identity
	// overwrites it, which makes the copy step of archival idempotent.
	Put(ctx context.Context, track *types.ArchivedTrack) error

	// Recent returns archived tracks, most recently archived first.
	Recent(ctx context.Context, limit int) ([]*types.ArchivedTrack, error)

	// Near returns archived tracks within radiusM meters of the point.
	Near(ctx context.Context, lat, lon, radiusM float64, limit int) ([]*types.ArchivedTrack, error)

	// Count returns the total number of archived tracks.
	Count(ctx context.Context) (int, error)

	Close() error
}

// DefaultLimit caps query results when the caller does not supply a limit.
const DefaultLimit = 100

// ClampLimit normalizes a caller-supplied result cap.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > DefaultLimit {
		return DefaultLimit
	}
	return limit
}
