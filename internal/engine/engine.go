// Package engine applies batches of canonical track updates against the live
// store: upserting by identity, recording positional history, removing
// on-ground entities eagerly, and evicting tracks by missed-cycle counting.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dronewatch/tracker/internal/geo"
	"github.com/dronewatch/tracker/internal/stats"
	"github.com/dronewatch/tracker/internal/store"
	"github.com/dronewatch/tracker/internal/types"
)

// DefaultEvictionThreshold is the number of consecutive missed batches after
// which a track of a staleness-enabled source is deleted.
const DefaultEvictionThreshold = 3

// Engine is the snapshot reconciliation engine. Batches for one source are
// processed sequentially; batches for different sources run concurrently,
// which is safe because the staleness pass is scoped per source.
type Engine struct {
	store     store.LiveStore
	threshold int
	now       func() time.Time
	stats     *stats.Stats

	mu          sync.Mutex
	sourceLocks map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvictionThreshold overrides the missed-cycle eviction threshold.
func WithEvictionThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threshold = n
		}
	}
}

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStats attaches a statistics collector.
func WithStats(s *stats.Stats) Option {
	return func(e *Engine) { e.stats = s }
}

// New creates an Engine over the given live store.
func New(st store.LiveStore, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		threshold:   DefaultEvictionThreshold,
		now:         time.Now,
		sourceLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) sourceLock(source string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.sourceLocks[source]
	if !ok {
		l = &sync.Mutex{}
		e.sourceLocks[source] = l
	}
	return l
}

// ProcessBatch reconciles one poll cycle of updates for a single source.
// Malformed or individually failing updates get an error outcome and do not
// abort the batch; a store connectivity failure does, with partial progress
// kept. The staleness pass runs even for an empty batch.
func (e *Engine) ProcessBatch(ctx context.Context, source string, updates []*types.TrackUpdate) (*types.BatchResult, error) {
	lock := e.sourceLock(source)
	lock.Lock()
	defer lock.Unlock()

	result := &types.BatchResult{Source: source, ProcessedAt: e.now()}
	if e.stats != nil {
		e.stats.IncrementBatches()
	}

	var present []string
	for _, u := range updates {
		outcome, err := e.applyUpdate(ctx, source, u)
		r := types.UpdateResult{Identity: u.Identity, Outcome: outcome}

		switch {
		case err == nil:
			switch outcome {
			case types.OutcomeCreated:
				result.Created++
				if e.stats != nil {
					e.stats.IncrementCreated()
				}
				present = append(present, u.Identity)
			case types.OutcomeUpdated:
				result.Updated++
				if e.stats != nil {
					e.stats.IncrementUpdated()
				}
				present = append(present, u.Identity)
			case types.OutcomeRemovedOnGround:
				result.Removed++
				if e.stats != nil {
					e.stats.IncrementRemovedOnGround()
				}
			}
		case types.IsValidation(err):
			r.Outcome = types.OutcomeError
			r.Err = err.Error()
			result.Rejected++
			if e.stats != nil {
				e.stats.IncrementRejected()
			}
		default:
			// Store-level failure: fatal to the batch, partial progress kept.
			result.Results = append(result.Results, types.UpdateResult{
				Identity: u.Identity,
				Outcome:  types.OutcomeError,
				Err:      err.Error(),
			})
			return result, fmt.Errorf("batch aborted for source %s: %w", source, err)
		}
		result.Results = append(result.Results, r)
	}

	if types.StalenessEnabled(source) {
		if _, err := e.store.IncrementMissed(ctx, source, present); err != nil {
			return result, fmt.Errorf("staleness pass for source %s: %w", source, err)
		}
		evicted, err := e.store.DeleteStale(ctx, source, e.threshold)
		if err != nil {
			return result, fmt.Errorf("staleness eviction for source %s: %w", source, err)
		}
		result.Evicted = evicted
		if e.stats != nil {
			e.stats.AddEvicted(uint64(evicted))
		}
	}

	return result, nil
}

func (e *Engine) applyUpdate(ctx context.Context, source string, u *types.TrackUpdate) (types.Outcome, error) {
	if u.Source == "" {
		u.Source = source
	}
	if u.Source != source {
		return types.OutcomeError, &types.ValidationError{
			Field:  "source",
			Reason: fmt.Sprintf("update source %q does not match batch source %q", u.Source, source),
		}
	}

	engineTime := e.now().UTC()
	observed := u.ObservedAt
	if observed.IsZero() {
		observed = engineTime
	}

	// On-ground entities are dropped eagerly; no history write.
	if u.OnGround && !u.Anonymous && u.Identity != "" {
		if _, err := e.store.Delete(ctx, u.Identity); err != nil {
			return types.OutcomeError, err
		}
		return types.OutcomeRemovedOnGround, nil
	}

	var existing *types.Track
	if !u.Anonymous && u.Identity != "" {
		t, err := e.store.Get(ctx, u.Identity)
		switch {
		case err == nil:
			existing = t
		case types.IsNotFound(err):
			// fresh track
		default:
			return types.OutcomeError, err
		}
	}

	if existing == nil {
		identity := u.Identity
		if u.Anonymous || identity == "" {
			// Anonymous reports never reconcile against prior state.
			identity = "report-" + uuid.New().String()
			u.Identity = identity
		}
		track := trackFromUpdate(u, observed, engineTime)
		if err := e.store.Upsert(ctx, track); err != nil {
			return types.OutcomeError, err
		}
		return types.OutcomeCreated, nil
	}

	// History captures the track's previous position before the overwrite.
	if !existing.LastSeen.IsZero() {
		existing.AppendHistory(types.HistoryEntry{
			Latitude:   existing.Latitude,
			Longitude:  existing.Longitude,
			ObservedAt: existing.LastSeen,
		})
	}

	existing.Latitude = u.Latitude
	existing.Longitude = u.Longitude
	existing.CellKey = geo.CellKey(u.Latitude, u.Longitude)
	existing.Callsign = u.Callsign
	existing.Altitude = u.Altitude
	existing.Speed = u.Speed
	existing.Heading = u.Heading
	existing.VerticalRate = u.VerticalRate
	existing.Squawk = u.Squawk
	existing.OnGround = u.OnGround
	if u.Description != "" {
		existing.Description = u.Description
	}
	if u.Notes != "" {
		existing.Notes = u.Notes
	}
	if u.ImageRef != "" {
		existing.ImageRef = u.ImageRef
	}
	existing.LastSeen = observed
	existing.UpdatedAt = engineTime
	existing.MissedCycles = 0

	if err := e.store.Upsert(ctx, existing); err != nil {
		return types.OutcomeError, err
	}
	return types.OutcomeUpdated, nil
}

func trackFromUpdate(u *types.TrackUpdate, observed, engineTime time.Time) *types.Track {
	return &types.Track{
		Identity:     u.Identity,
		Anonymous:    u.Anonymous,
		Source:       u.Source,
		Latitude:     u.Latitude,
		Longitude:    u.Longitude,
		CellKey:      geo.CellKey(u.Latitude, u.Longitude),
		Callsign:     u.Callsign,
		Altitude:     u.Altitude,
		Speed:        u.Speed,
		Heading:      u.Heading,
		VerticalRate: u.VerticalRate,
		Squawk:       u.Squawk,
		OnGround:     u.OnGround,
		Description:  u.Description,
		Notes:        u.Notes,
		ImageRef:     u.ImageRef,
		FirstSeen:    observed,
		LastSeen:     observed,
		UpdatedAt:    engineTime,
		MissedCycles: 0,
		Visible:      true,
	}
}
