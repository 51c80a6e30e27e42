package store

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/dronewatch/tracker/internal/types"
)

var pgNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

var trackColumns = []string{
	"identity", "anonymous", "source", "latitude", "longitude", "cell_key",
	"callsign", "altitude", "speed", "heading", "vertical_rate", "squawk", "on_ground",
	"description", "notes", "image_ref",
	"first_seen", "last_seen", "updated_at", "missed_cycles", "history", "visible",
}

func trackRow(identity, source string) []driver.Value {
	return []driver.Value{
		identity, false, source, 50.85, 4.35, "43:508",
		"", nil, nil, nil, nil, "", false,
		"", "", "",
		pgNow, pgNow, pgNow, 0, []byte(`[]`), true,
	}
}

func TestPostgresLive_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM live_tracks WHERE identity = \$1`).
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows(trackColumns).AddRow(trackRow("abc123", types.SourceRadarFeed)...))

	live := NewPostgresLive(db)
	track, err := live.Get(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if track.Identity != "abc123" || track.Source != types.SourceRadarFeed {
		t.Errorf("Get() = %+v", track)
	}
	if track.Altitude != nil {
		t.Errorf("NULL altitude scanned as %v, want nil", *track.Altitude)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresLive_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM live_tracks WHERE identity = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(trackColumns))

	live := NewPostgresLive(db)
	_, err = live.Get(context.Background(), "missing")
	if !types.IsNotFound(err) {
		t.Fatalf("Get() err = %v, want NotFoundError", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresLive_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	alt := 1200.0
	track := &types.Track{
		Identity:  "abc123",
		Source:    types.SourceRadarFeed,
		Latitude:  50.85,
		Longitude: 4.35,
		CellKey:   "43:508",
		Altitude:  &alt,
		FirstSeen: pgNow,
		LastSeen:  pgNow,
		UpdatedAt: pgNow,
		Visible:   true,
		History:   []types.HistoryEntry{{Latitude: 50.8, Longitude: 4.3, ObservedAt: pgNow}},
	}

	mock.ExpectExec(`INSERT INTO live_tracks (.+) ON CONFLICT \(identity\) DO UPDATE`).
		WithArgs(
			"abc123", false, types.SourceRadarFeed, 50.85, 4.35, "43:508",
			"", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "", false,
			"", "", "",
			pgNow, pgNow, pgNow, 0, sqlmock.AnyArg(), true,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	live := NewPostgresLive(db)
	if err := live.Upsert(context.Background(), track); err != nil {
		t.Fatalf("Upsert() unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresLive_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM live_tracks WHERE identity = \$1`).
		WithArgs("abc123").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM live_tracks WHERE identity = \$1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	live := NewPostgresLive(db)
	found, err := live.Delete(context.Background(), "abc123")
	if err != nil || !found {
		t.Errorf("Delete(existing) = %v, %v, want true, nil", found, err)
	}
	found, err = live.Delete(context.Background(), "missing")
	if err != nil || found {
		t.Errorf("Delete(missing) = %v, %v, want false, nil", found, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresLive_IncrementMissed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE live_tracks\s+SET missed_cycles = missed_cycles \+ 1\s+WHERE source = \$1 AND NOT \(identity = ANY\(\$2\)\)`).
		WithArgs(types.SourceRadarFeed, pq.Array([]string{"a1", "a2"})).
		WillReturnResult(sqlmock.NewResult(0, 3))

	live := NewPostgresLive(db)
	n, err := live.IncrementMissed(context.Background(), types.SourceRadarFeed, []string{"a1", "a2"})
	if err != nil {
		t.Fatalf("IncrementMissed() unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("IncrementMissed() = %d, want 3", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresLive_IncrementMissedEmptyPresent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	// A nil present list still produces a valid (empty) array parameter.
	mock.ExpectExec(`UPDATE live_tracks`).
		WithArgs(types.SourceRadarFeed, pq.Array([]string{})).
		WillReturnResult(sqlmock.NewResult(0, 5))

	live := NewPostgresLive(db)
	n, err := live.IncrementMissed(context.Background(), types.SourceRadarFeed, nil)
	if err != nil {
		t.Fatalf("IncrementMissed() unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("IncrementMissed() = %d, want 5", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresLive_DeleteStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM live_tracks WHERE source = \$1 AND missed_cycles >= \$2`).
		WithArgs(types.SourceRadarFeed, 3).
		WillReturnResult(sqlmock.NewResult(0, 2))

	live := NewPostgresLive(db)
	n, err := live.DeleteStale(context.Background(), types.SourceRadarFeed, 3)
	if err != nil {
		t.Fatalf("DeleteStale() unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteStale() = %d, want 2", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresLive_NearUsesLonLatOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	// ST_MakePoint takes (lon, lat); the radius is exclusive.
	mock.ExpectQuery(`SELECT (.+) FROM live_tracks\s+WHERE ST_Distance\(position::geography`).
		WithArgs(4.35, 50.85, 5000.0, DefaultLimit).
		WillReturnRows(sqlmock.NewRows(trackColumns).AddRow(trackRow("abc123", types.SourceRadarFeed)...))

	live := NewPostgresLive(db)
	got, err := live.Near(context.Background(), 50.85, 4.35, 5000, 0)
	if err != nil {
		t.Fatalf("Near() unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Identity != "abc123" {
		t.Errorf("Near() = %v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresLive_WithinSendsPolygonWKT(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	wkt := boxPolygonWKT(50.0, 4.0, 51.0, 5.0)
	mock.ExpectQuery(`SELECT (.+) FROM live_tracks\s+WHERE ST_Covers`).
		WithArgs(wkt, 10).
		WillReturnRows(sqlmock.NewRows(trackColumns))

	live := NewPostgresLive(db)
	got, err := live.Within(context.Background(), 50.0, 4.0, 51.0, 5.0, 10)
	if err != nil {
		t.Fatalf("Within() unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Within() = %v, want empty", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestBoxPolygonWKT_ClosedRing(t *testing.T) {
	wkt := boxPolygonWKT(50.0, 4.0, 51.0, 5.0)
	want := "POLYGON((4.000000 50.000000, 5.000000 50.000000, 5.000000 51.000000, 4.000000 51.000000, 4.000000 50.000000))"
	if wkt != want {
		t.Errorf("boxPolygonWKT = %q, want %q", wkt, want)
	}
}

func TestPostgresLive_GetScansHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	history := []byte(`[{"latitude":50.8,"longitude":4.3,"observed_at":"2026-09-01T11:00:00Z"}]`)
	row := trackRow("abc123", types.SourceRadarFeed)
	row[20] = history

	mock.ExpectQuery(`SELECT (.+) FROM live_tracks WHERE identity = \$1`).
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows(trackColumns).AddRow(row...))

	live := NewPostgresLive(db)
	track, err := live.Get(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if len(track.History) != 1 || track.History[0].Latitude != 50.8 {
		t.Errorf("history = %+v, want one decoded entry", track.History)
	}
}

func TestPostgresArchive_Put(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO archive_tracks (.+) ON CONFLICT \(identity\) DO UPDATE SET\s+archived_at = EXCLUDED.archived_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	arch := NewPostgresArchive(db)
	entry := &types.ArchivedTrack{
		Track: types.Track{
			Identity: "r1", Source: types.SourceReport,
			Latitude: 50.0, Longitude: 4.0,
			FirstSeen: pgNow, LastSeen: pgNow, UpdatedAt: pgNow,
		},
		ArchivedAt:       pgNow,
		OriginalLastSeen: pgNow,
	}
	if err := arch.Put(context.Background(), entry); err != nil {
		t.Fatalf("Put() unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresArchive_Count(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM archive_tracks`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	arch := NewPostgresArchive(db)
	n, err := arch.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("Count() = %d, want 42", n)
	}
}
