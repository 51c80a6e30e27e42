// Package counter provides the injected counter store used for rate windows.
// Keeping this behind an interface means a multi-instance deployment shares
// counts through Redis instead of silently resetting per-process state.
package counter

import (
	"context"
	"sync"
	"time"
)

// Store counts events within expiring windows.
type Store interface {
	// Incr increments the counter for key and returns the new count. The
	// first increment of a key starts a window of the given duration; the
	// key expires when the window ends.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Close() error
}

// Memory is a process-local Store. Counts reset on restart and are not
// shared across instances; use the Redis store for multi-instance setups.
type Memory struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemory creates an in-process counter store.
func NewMemory() *Memory {
	return &Memory{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// NewMemoryWithClock creates an in-process counter store with an injected
// clock, used by tests.
func NewMemoryWithClock(now func() time.Time) *Memory {
	m := NewMemory()
	m.now = now
	return m
}

func (m *Memory) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Sweep every expired window, not just the key being incremented.
	// One-shot keys would otherwise stay resident until a restart.
	now := m.now()
	for k, exp := range m.expires {
		if now.After(exp) {
			delete(m.counts, k)
			delete(m.expires, k)
		}
	}

	m.counts[key]++
	if m.counts[key] == 1 {
		m.expires[key] = now.Add(window)
	}
	return m.counts[key], nil
}

func (m *Memory) Close() error { return nil }
