package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dronewatch/tracker/internal/geo"
	"github.com/dronewatch/tracker/internal/types"
)

// MemoryLive is a mutex-guarded in-memory LiveStore. It backs unit tests and
// the -store=memory development mode of the tracker.
type MemoryLive struct {
	mu     sync.RWMutex
	tracks map[string]*types.Track
}

// NewMemoryLive creates an empty in-memory live store.
func NewMemoryLive() *MemoryLive {
	return &MemoryLive{tracks: make(map[string]*types.Track)}
}

func (m *MemoryLive) Get(_ context.Context, identity string) (*types.Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracks[identity]
	if !ok {
		return nil, &types.NotFoundError{Identity: identity}
	}
	return cloneTrack(t), nil
}

func (m *MemoryLive) Upsert(_ context.Context, track *types.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks[track.Identity] = cloneTrack(track)
	return nil
}

func (m *MemoryLive) Delete(_ context.Context, identity string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracks[identity]
	delete(m.tracks, identity)
	return ok, nil
}

func (m *MemoryLive) ListBySource(_ context.Context, source string) ([]*types.Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Track
	for _, t := range m.tracks {
		if t.Source == source {
			out = append(out, cloneTrack(t))
		}
	}
	return out, nil
}

func (m *MemoryLive) IncrementMissed(_ context.Context, source string, present []string) (int, error) {
	presentSet := make(map[string]struct{}, len(present))
	for _, id := range present {
		presentSet[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.tracks {
		if t.Source != source {
			continue
		}
		if _, ok := presentSet[id]; ok {
			continue
		}
		t.MissedCycles++
		n++
	}
	return n, nil
}

func (m *MemoryLive) DeleteStale(_ context.Context, source string, threshold int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.tracks {
		if t.Source == source && t.MissedCycles >= threshold {
			delete(m.tracks, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryLive) ListArchivable(_ context.Context, cutoff time.Time) ([]*types.Track, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Track
	for _, t := range m.tracks {
		if !archivable(t) {
			continue
		}
		seen := t.LastSeen
		if seen.IsZero() {
			seen = t.FirstSeen
		}
		if seen.Before(cutoff) {
			out = append(out, cloneTrack(t))
		}
	}
	return out, nil
}

func archivable(t *types.Track) bool {
	return t.Source == types.SourceReport || t.Description != "" || t.Notes != "" || t.Anonymous
}

func (m *MemoryLive) Near(_ context.Context, lat, lon, radiusM float64, limit int) ([]*types.Track, error) {
	limit = ClampLimit(limit)

	type withDist struct {
		t *types.Track
		d float64
	}

	m.mu.RLock()
	var candidates []withDist
	for _, t := range m.tracks {
		d := geo.Distance(lat, lon, t.Latitude, t.Longitude)
		if d < radiusM {
			candidates = append(candidates, withDist{t: cloneTrack(t), d: d})
		}
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].d < candidates[j].d })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*types.Track, len(candidates))
	for i, c := range candidates {
		out[i] = c.t
	}
	return out, nil
}

func (m *MemoryLive) Within(_ context.Context, minLat, minLon, maxLat, maxLon float64, limit int) ([]*types.Track, error) {
	limit = ClampLimit(limit)
	ring := geo.BoxRing(minLat, minLon, maxLat, maxLon)

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Track
	for _, t := range m.tracks {
		if geo.PointInPolygon(t.Latitude, t.Longitude, ring) {
			out = append(out, cloneTrack(t))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryLive) Recent(_ context.Context, limit int) ([]*types.Track, error) {
	limit = ClampLimit(limit)

	m.mu.RLock()
	all := make([]*types.Track, 0, len(m.tracks))
	for _, t := range m.tracks {
		all = append(all, cloneTrack(t))
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].LastSeen.After(all[j].LastSeen) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryLive) CountBySource(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, t := range m.tracks {
		counts[t.Source]++
	}
	return counts, nil
}

func (m *MemoryLive) Close() error { return nil }

// MemoryArchive is the in-memory ArchiveStore counterpart.
type MemoryArchive struct {
	mu     sync.RWMutex
	tracks map[string]*types.ArchivedTrack
}

// NewMemoryArchive creates an empty in-memory archive store.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{tracks: make(map[string]*types.ArchivedTrack)}
}

func (m *MemoryArchive) Put(_ context.Context, track *types.ArchivedTrack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *track
	cp.History = append([]types.HistoryEntry(nil), track.History...)
	m.tracks[track.Identity] = &cp
	return nil
}

func (m *MemoryArchive) Recent(_ context.Context, limit int) ([]*types.ArchivedTrack, error) {
	limit = ClampLimit(limit)

	m.mu.RLock()
	all := make([]*types.ArchivedTrack, 0, len(m.tracks))
	for _, t := range m.tracks {
		cp := *t
		all = append(all, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ArchivedAt.After(all[j].ArchivedAt) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryArchive) Near(_ context.Context, lat, lon, radiusM float64, limit int) ([]*types.ArchivedTrack, error) {
	limit = ClampLimit(limit)

	type withDist struct {
		t *types.ArchivedTrack
		d float64
	}

	m.mu.RLock()
	var candidates []withDist
	for _, t := range m.tracks {
		d := geo.Distance(lat, lon, t.Latitude, t.Longitude)
		if d < radiusM {
			cp := *t
			candidates = append(candidates, withDist{t: &cp, d: d})
		}
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].d < candidates[j].d })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*types.ArchivedTrack, len(candidates))
	for i, c := range candidates {
		out[i] = c.t
	}
	return out, nil
}

func (m *MemoryArchive) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tracks), nil
}

func (m *MemoryArchive) Close() error { return nil }

func cloneTrack(t *types.Track) *types.Track {
	cp := *t
	cp.History = append([]types.HistoryEntry(nil), t.History...)
	return &cp
}
