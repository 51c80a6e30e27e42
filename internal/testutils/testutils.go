package testutils

import (
	"context"
	"fmt"
	"time"

	"github.com/dronewatch/tracker/internal/types"
)

// MockUpdate creates a canonical update for testing.
func MockUpdate(identity, source string, lat, lon float64) *types.TrackUpdate {
	return &types.TrackUpdate{
		Identity:  identity,
		Source:    source,
		Latitude:  lat,
		Longitude: lon,
	}
}

// MockRecord creates a producer-shaped record for normalizer testing.
func MockRecord(icao string, lat, lon float64) map[string]any {
	return map[string]any{
		"icao": icao,
		"lat":  lat,
		"lon":  lon,
	}
}

// MockBatch wraps records into a batch envelope.
func MockBatch(source string, records ...map[string]any) *types.BatchEnvelope {
	return &types.BatchEnvelope{
		BatchID:   fmt.Sprintf("batch-%d", time.Now().UnixNano()),
		Source:    source,
		Records:   records,
		Collected: time.Now().UTC(),
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
