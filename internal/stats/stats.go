// Package stats tracks reconciliation and archival counters with optional
// periodic persistence.
package stats

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Batches         uint64
	Created         uint64
	Updated         uint64
	RemovedOnGround uint64
	Evicted         uint64
	Rejected        uint64
	Archived        uint64
	ArchiveSweeps   uint64
	LiveTracks      uint64
	LastBatchTime   time.Time
	Taken           time.Time
}

// Sink persists snapshots, typically into the system_stats table.
type Sink interface {
	StoreSystemStats(ctx context.Context, snap Snapshot) error
}

// Stats collects processing counters. All increments are atomic.
type Stats struct {
	batches         uint64
	created         uint64
	updated         uint64
	removedOnGround uint64
	evicted         uint64
	rejected        uint64
	archived        uint64
	archiveSweeps   uint64
	liveTracks      uint64

	mu            sync.RWMutex
	lastBatchTime time.Time
	sink          Sink
}

// New creates a Stats instance.
func New() *Stats {
	return &Stats{lastBatchTime: time.Now()}
}

// SetSink sets the persistence sink.
func (s *Stats) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Stats) IncrementBatches() {
	atomic.AddUint64(&s.batches, 1)
	s.mu.Lock()
	s.lastBatchTime = time.Now()
	s.mu.Unlock()
}

func (s *Stats) IncrementCreated()         { atomic.AddUint64(&s.created, 1) }
func (s *Stats) IncrementUpdated()         { atomic.AddUint64(&s.updated, 1) }
func (s *Stats) IncrementRemovedOnGround() { atomic.AddUint64(&s.removedOnGround, 1) }
func (s *Stats) IncrementRejected()        { atomic.AddUint64(&s.rejected, 1) }
func (s *Stats) AddEvicted(n uint64)       { atomic.AddUint64(&s.evicted, n) }
func (s *Stats) AddArchived(n uint64)      { atomic.AddUint64(&s.archived, n) }
func (s *Stats) IncrementArchiveSweeps()   { atomic.AddUint64(&s.archiveSweeps, 1) }
func (s *Stats) SetLiveTracks(n uint64)    { atomic.StoreUint64(&s.liveTracks, n) }

// GetSnapshot returns a copy of the current counters.
func (s *Stats) GetSnapshot() Snapshot {
	s.mu.RLock()
	last := s.lastBatchTime
	s.mu.RUnlock()

	return Snapshot{
		Batches:         atomic.LoadUint64(&s.batches),
		Created:         atomic.LoadUint64(&s.created),
		Updated:         atomic.LoadUint64(&s.updated),
		RemovedOnGround: atomic.LoadUint64(&s.removedOnGround),
		Evicted:         atomic.LoadUint64(&s.evicted),
		Rejected:        atomic.LoadUint64(&s.rejected),
		Archived:        atomic.LoadUint64(&s.archived),
		ArchiveSweeps:   atomic.LoadUint64(&s.archiveSweeps),
		LiveTracks:      atomic.LoadUint64(&s.liveTracks),
		LastBatchTime:   last,
		Taken:           time.Now(),
	}
}

// Persist stores the current counters through the sink.
func (s *Stats) Persist(ctx context.Context) error {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()
	if sink == nil {
		return fmt.Errorf("stats sink not set")
	}
	return sink.StoreSystemStats(ctx, s.GetSnapshot())
}

// String returns a loggable representation of the statistics.
func (s *Stats) String() string {
	snap := s.GetSnapshot()
	return fmt.Sprintf(
		"Batches: %d\n"+
			"Created: %d\n"+
			"Updated: %d\n"+
			"Removed On Ground: %d\n"+
			"Evicted: %d\n"+
			"Rejected: %d\n"+
			"Archived: %d\n"+
			"Archive Sweeps: %d\n"+
			"Live Tracks: %d\n"+
			"Last Batch Time: %s",
		snap.Batches,
		snap.Created,
		snap.Updated,
		snap.RemovedOnGround,
		snap.Evicted,
		snap.Rejected,
		snap.Archived,
		snap.ArchiveSweeps,
		snap.LiveTracks,
		snap.LastBatchTime,
	)
}

// StartPersistence persists counters on an interval until ctx is done, with
// one final persistence on shutdown.
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.Persist(context.Background()); err != nil {
				log.Printf("Failed to persist final statistics: %v", err)
			}
			return
		case <-ticker.C:
			if err := s.Persist(ctx); err != nil {
				log.Printf("Failed to persist statistics: %v", err)
			}
		}
	}
}
