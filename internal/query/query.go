// Package query is the read surface over the live and archive stores. It is
// oblivious to reconciliation; callers handle authentication before invoking
// any of these operations.
package query

import (
	"context"

	"github.com/dronewatch/tracker/internal/store"
	"github.com/dronewatch/tracker/internal/types"
)

// Service exposes the geospatial and identity read operations plus the
// delete-by-identity operation used by moderation tooling.
type Service struct {
	live    store.LiveStore
	archive store.ArchiveStore
}

// New creates a query service over the store pair.
func New(live store.LiveStore, archive store.ArchiveStore) *Service {
	return &Service{live: live, archive: archive}
}

// Near returns live tracks strictly within radiusM meters of the point,
// nearest first.
func (s *Service) Near(ctx context.Context, lat, lon, radiusM float64, limit int) ([]*types.Track, error) {
	if err := validateCoords(lat, lon); err != nil {
		return nil, err
	}
	if radiusM <= 0 {
		return nil, &types.ValidationError{Field: "radius", Reason: "must be positive"}
	}
	return s.live.Near(ctx, lat, lon, radiusM, store.ClampLimit(limit))
}

// Within returns live tracks contained in the bounding box.
func (s *Service) Within(ctx context.Context, minLat, minLon, maxLat, maxLon float64, limit int) ([]*types.Track, error) {
	if err := validateCoords(minLat, minLon); err != nil {
		return nil, err
	}
	if err := validateCoords(maxLat, maxLon); err != nil {
		return nil, err
	}
	if minLat > maxLat || minLon > maxLon {
		return nil, &types.ValidationError{Field: "bbox", Reason: "min corner must not exceed max corner"}
	}
	return s.live.Within(ctx, minLat, minLon, maxLat, maxLon, store.ClampLimit(limit))
}

// Recent returns the most recently seen live tracks with no spatial filter.
func (s *Service) Recent(ctx context.Context, limit int) ([]*types.Track, error) {
	return s.live.Recent(ctx, store.ClampLimit(limit))
}

// Get is the by-identity point lookup.
func (s *Service) Get(ctx context.Context, identity string) (*types.Track, error) {
	return s.live.Get(ctx, identity)
}

// Delete removes a live track by identity, returning NotFoundError when no
// such track exists.
func (s *Service) Delete(ctx context.Context, identity string) error {
	found, err := s.live.Delete(ctx, identity)
	if err != nil {
		return err
	}
	if !found {
		return &types.NotFoundError{Identity: identity}
	}
	return nil
}

// ArchivedRecent returns archived tracks, most recently archived first.
func (s *Service) ArchivedRecent(ctx context.Context, limit int) ([]*types.ArchivedTrack, error) {
	return s.archive.Recent(ctx, store.ClampLimit(limit))
}

// ArchivedNear returns archived tracks within radiusM meters of the point.
func (s *Service) ArchivedNear(ctx context.Context, lat, lon, radiusM float64, limit int) ([]*types.ArchivedTrack, error) {
	if err := validateCoords(lat, lon); err != nil {
		return nil, err
	}
	if radiusM <= 0 {
		return nil, &types.ValidationError{Field: "radius", Reason: "must be positive"}
	}
	return s.archive.Near(ctx, lat, lon, radiusM, store.ClampLimit(limit))
}

// Overview returns live counts by source and the archive total.
func (s *Service) Overview(ctx context.Context) (map[string]int, int, error) {
	counts, err := s.live.CountBySource(ctx)
	if err != nil {
		return nil, 0, err
	}
	archived, err := s.archive.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return counts, archived, nil
}

func validateCoords(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return &types.ValidationError{Field: "latitude", Reason: "out of range [-90, 90]"}
	}
	if lon < -180 || lon > 180 {
		return &types.ValidationError{Field: "longitude", Reason: "out of range [-180, 180]"}
	}
	return nil
}
