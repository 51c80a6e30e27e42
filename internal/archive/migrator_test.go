package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dronewatch/tracker/internal/store"
	"github.com/dronewatch/tracker/internal/testutils"
	"github.com/dronewatch/tracker/internal/types"
)

var sweepNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func seedTrack(t *testing.T, live *store.MemoryLive, track *types.Track) {
	t.Helper()
	if err := live.Upsert(context.Background(), track); err != nil {
		t.Fatalf("seed %s: %v", track.Identity, err)
	}
}

func reportTrack(identity string, lastSeen time.Time) *types.Track {
	return &types.Track{
		Identity:  identity,
		Source:    types.SourceReport,
		Latitude:  50.85,
		Longitude: 4.35,
		FirstSeen: lastSeen,
		LastSeen:  lastSeen,
	}
}

func TestRunOnce_MigratesAgedReports(t *testing.T) {
	live := store.NewMemoryLive()
	arch := store.NewMemoryArchive()
	m := New(live, arch, WithClock(func() time.Time { return sweepNow }))
	ctx := context.Background()

	seedTrack(t, live, reportTrack("r-old", sweepNow.Add(-2*time.Hour)))
	seedTrack(t, live, reportTrack("r-fresh", sweepNow.Add(-10*time.Minute)))

	archived, deleted, err := m.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}
	if archived != 1 || deleted != 1 {
		t.Errorf("archived=%d deleted=%d, want 1/1", archived, deleted)
	}

	if _, err := live.Get(ctx, "r-old"); !types.IsNotFound(err) {
		t.Errorf("aged report still live: err = %v, want NotFoundError", err)
	}
	if _, err := live.Get(ctx, "r-fresh"); err != nil {
		t.Errorf("fresh report should stay live: %v", err)
	}

	entries, err := arch.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Identity != "r-old" {
		t.Fatalf("archive entries = %v, want just r-old", entries)
	}
	got := entries[0]
	if !got.ArchivedAt.Equal(sweepNow) {
		t.Errorf("ArchivedAt = %v, want sweep time %v", got.ArchivedAt, sweepNow)
	}
	if !got.OriginalLastSeen.Equal(sweepNow.Add(-2 * time.Hour)) {
		t.Errorf("OriginalLastSeen = %v, want pre-archive last_seen", got.OriginalLastSeen)
	}
}

func TestRunOnce_CutoffIsStrictlyOlder(t *testing.T) {
	live := store.NewMemoryLive()
	arch := store.NewMemoryArchive()
	m := New(live, arch, WithClock(func() time.Time { return sweepNow }))
	ctx := context.Background()

	// Exactly at the cutoff is not old enough.
	seedTrack(t, live, reportTrack("r-boundary", sweepNow.Add(-time.Hour)))
	seedTrack(t, live, reportTrack("r-past", sweepNow.Add(-time.Hour).Add(-time.Microsecond)))

	archived, _, err := m.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}
	if archived != 1 {
		t.Fatalf("archived = %d, want only the strictly older track", archived)
	}
	if _, err := live.Get(ctx, "r-boundary"); err != nil {
		t.Errorf("boundary track should stay live: %v", err)
	}
	if _, err := live.Get(ctx, "r-past"); !types.IsNotFound(err) {
		t.Errorf("strictly older track still live: err = %v", err)
	}
}

func TestRunOnce_Eligibility(t *testing.T) {
	old := sweepNow.Add(-2 * time.Hour)

	tests := []struct {
		name  string
		track *types.Track
		want  bool
	}{
		{
			"report source",
			reportTrack("r1", old),
			true,
		},
		{
			"feed track with notes",
			&types.Track{Identity: "a1", Source: types.SourceRadarFeed, Notes: "circled the field", FirstSeen: old, LastSeen: old},
			true,
		},
		{
			"feed track with description",
			&types.Track{Identity: "a2", Source: types.SourceCamera, Description: "small quad", FirstSeen: old, LastSeen: old},
			true,
		},
		{
			"anonymous track",
			&types.Track{Identity: "report-xyz", Anonymous: true, Source: types.SourceReport, FirstSeen: old, LastSeen: old},
			true,
		},
		{
			"plain aged feed track",
			&types.Track{Identity: "a3", Source: types.SourceRadarFeed, FirstSeen: old, LastSeen: old},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			live := store.NewMemoryLive()
			arch := store.NewMemoryArchive()
			m := New(live, arch, WithClock(func() time.Time { return sweepNow }))
			seedTrack(t, live, tt.track)

			archived, _, err := m.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce() unexpected error: %v", err)
			}
			if got := archived == 1; got != tt.want {
				t.Errorf("archived = %d, want eligible=%v", archived, tt.want)
			}
		})
	}
}

func TestRunOnce_RepeatSweepIsIdempotent(t *testing.T) {
	live := store.NewMemoryLive()
	arch := store.NewMemoryArchive()
	m := New(live, arch, WithClock(func() time.Time { return sweepNow }))
	ctx := context.Background()

	seedTrack(t, live, reportTrack("r1", sweepNow.Add(-2*time.Hour)))

	if _, _, err := m.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	archived, deleted, err := m.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if archived != 0 || deleted != 0 {
		t.Errorf("second sweep archived=%d deleted=%d, want 0/0", archived, deleted)
	}

	n, err := arch.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("archive has %d entries, want 1", n)
	}
}

// stuckDeleteStore simulates a crash window between copy and delete.
type stuckDeleteStore struct {
	*store.MemoryLive
	failDeletes bool
}

func (s *stuckDeleteStore) Delete(ctx context.Context, identity string) (bool, error) {
	if s.failDeletes {
		return false, &types.StoreError{Op: "delete", Err: errors.New("connection reset")}
	}
	return s.MemoryLive.Delete(ctx, identity)
}

func TestRunOnce_RecoverFromFailedDelete(t *testing.T) {
	live := &stuckDeleteStore{MemoryLive: store.NewMemoryLive(), failDeletes: true}
	arch := store.NewMemoryArchive()
	m := New(live, arch, WithClock(func() time.Time { return sweepNow }))
	ctx := context.Background()

	seedTrack(t, live.MemoryLive, reportTrack("r1", sweepNow.Add(-2*time.Hour)))

	// First sweep copies the record but cannot delete it.
	archived, deleted, err := m.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}
	if archived != 1 || deleted != 0 {
		t.Errorf("first sweep archived=%d deleted=%d, want 1/0", archived, deleted)
	}

	// Next sweep re-copies and finishes the delete.
	live.failDeletes = false
	archived, deleted, err = m.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() unexpected error: %v", err)
	}
	if archived != 1 || deleted != 1 {
		t.Errorf("repair sweep archived=%d deleted=%d, want 1/1", archived, deleted)
	}

	if _, err := live.Get(ctx, "r1"); !types.IsNotFound(err) {
		t.Errorf("track still live after repair sweep: err = %v", err)
	}
	n, err := arch.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("archive has %d entries after double copy, want 1", n)
	}
}

func TestRunOnce_HonorsContextCancellation(t *testing.T) {
	live := store.NewMemoryLive()
	arch := store.NewMemoryArchive()
	m := New(live, arch, WithClock(func() time.Time { return sweepNow }))

	for i := 0; i < 5; i++ {
		seedTrack(t, live, reportTrack("r"+string(rune('0'+i)), sweepNow.Add(-2*time.Hour)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := m.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RunOnce() err = %v, want context.Canceled", err)
	}
}

func TestRun_SweepsInBackground(t *testing.T) {
	live := store.NewMemoryLive()
	arch := store.NewMemoryArchive()
	m := New(live, arch, WithInterval(10*time.Millisecond))

	old := time.Now().UTC().Add(-2 * time.Hour)
	seedTrack(t, live, reportTrack("r1", old))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	err := testutils.WaitForCondition(func() bool {
		n, err := arch.Count(context.Background())
		return err == nil && n == 1
	}, 2*time.Second)
	if err != nil {
		t.Fatalf("background sweep never archived the track: %v", err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	live := store.NewMemoryLive()
	arch := store.NewMemoryArchive()
	m := New(live, arch, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
