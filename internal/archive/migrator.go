// Package archive moves aged non-telemetry tracks from the live store into
// the archive store.
package archive

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dronewatch/tracker/internal/stats"
	"github.com/dronewatch/tracker/internal/store"
	"github.com/dronewatch/tracker/internal/types"
)

// Defaults for the background sweep.
const (
	DefaultInterval = 5 * time.Minute
	DefaultMaxAge   = time.Hour
)

// Migrator periodically sweeps the live store for archival-eligible tracks:
// report-sourced, report-shaped (free-text description or notes) or anonymous
// records whose last_seen is older than the age threshold. The copy step is
// idempotent, so a crash between copy and delete is repaired by the next
// sweep re-copying and re-deleting.
type Migrator struct {
	live     store.LiveStore
	archive  store.ArchiveStore
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	stats    *stats.Stats
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithInterval overrides the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(m *Migrator) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMaxAge overrides the age threshold.
func WithMaxAge(d time.Duration) Option {
	return func(m *Migrator) {
		if d > 0 {
			m.maxAge = d
		}
	}
}

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) { m.now = now }
}

// WithStats attaches a statistics collector.
func WithStats(s *stats.Stats) Option {
	return func(m *Migrator) { m.stats = s }
}

// New creates a Migrator over the store pair.
func New(live store.LiveStore, archive store.ArchiveStore, opts ...Option) *Migrator {
	m := &Migrator{
		live:     live,
		archive:  archive,
		interval: DefaultInterval,
		maxAge:   DefaultMaxAge,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run sweeps on the configured interval until ctx is cancelled. Sweep errors
// are logged and swallowed; the task continues on its next tick.
func (m *Migrator) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Archive migrator stopped")
			return
		case <-ticker.C:
			archived, deleted, err := m.RunOnce(ctx)
			if err != nil {
				log.Printf("Warning: archive sweep failed: %v", err)
				continue
			}
			if archived > 0 {
				log.Printf("Archived %d tracks (%d deleted from live)", archived, deleted)
			}
		}
	}
}

// RunOnce performs one migration pass and returns how many tracks were copied
// into the archive and how many were deleted from the live store. It is also
// the manual trigger used by operational tooling.
func (m *Migrator) RunOnce(ctx context.Context) (archived, deleted int, err error) {
	if m.stats != nil {
		m.stats.IncrementArchiveSweeps()
	}

	cutoff := m.now().UTC().Add(-m.maxAge)
	eligible, err := m.live.ListArchivable(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list archivable tracks: %w", err)
	}

	now := m.now().UTC()
	for _, t := range eligible {
		if err := ctx.Err(); err != nil {
			return archived, deleted, err
		}

		entry := &types.ArchivedTrack{
			Track:            *t,
			ArchivedAt:       now,
			OriginalLastSeen: t.LastSeen,
		}
		if err := m.archive.Put(ctx, entry); err != nil {
			// Copy failed: leave the live record; the next sweep retries.
			log.Printf("Warning: failed to archive track %s: %v", t.Identity, err)
			continue
		}
		archived++

		found, err := m.live.Delete(ctx, t.Identity)
		if err != nil {
			// Copy landed but delete failed. The archive Put is idempotent,
			// so repeating both steps next sweep is safe.
			log.Printf("Warning: failed to delete archived track %s from live store: %v", t.Identity, err)
			continue
		}
		if found {
			deleted++
		}
	}

	if m.stats != nil && archived > 0 {
		m.stats.AddArchived(uint64(archived))
	}
	return archived, deleted, nil
}
