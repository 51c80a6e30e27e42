package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/dronewatch/tracker/internal/types"
)

// PostgresLive implements LiveStore on Postgres with PostGIS geometry.
type PostgresLive struct {
	db *sql.DB
}

// PostgresArchive implements ArchiveStore on the same database.
type PostgresArchive struct {
	db *sql.DB
}

// Open connects to Postgres and returns both stores backed by one pool.
func Open(connStr string) (*PostgresLive, *PostgresArchive, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &PostgresLive{db: db}, &PostgresArchive{db: db}, nil
}

// NewPostgresLive wraps an existing connection, used by tests.
func NewPostgresLive(db *sql.DB) *PostgresLive { return &PostgresLive{db: db} }

// NewPostgresArchive wraps an existing connection, used by tests.
func NewPostgresArchive(db *sql.DB) *PostgresArchive { return &PostgresArchive{db: db} }

const liveColumns = `identity, anonymous, source, latitude, longitude, cell_key,
	callsign, altitude, speed, heading, vertical_rate, squawk, on_ground,
	description, notes, image_ref,
	first_seen, last_seen, updated_at, missed_cycles, history, visible`

func (s *PostgresLive) Get(ctx context.Context, identity string) (*types.Track, error) {
	query := `SELECT ` + liveColumns + ` FROM live_tracks WHERE identity = $1`
	row := s.db.QueryRowContext(ctx, query, identity)
	t, err := scanTrack(row)
	if err == sql.ErrNoRows {
		return nil, &types.NotFoundError{Identity: identity}
	}
	if err != nil {
		return nil, &types.StoreError{Op: "get", Err: err}
	}
	return t, nil
}

func (s *PostgresLive) Upsert(ctx context.Context, t *types.Track) error {
	history, err := json.Marshal(t.History)
	if err != nil {
		return &types.StoreError{Op: "upsert", Err: err}
	}
	query := `
		INSERT INTO live_tracks (
			identity, anonymous, source, latitude, longitude, cell_key,
			position,
			callsign, altitude, speed, heading, vertical_rate, squawk, on_ground,
			description, notes, image_ref,
			first_seen, last_seen, updated_at, missed_cycles, history, visible
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			ST_SetSRID(ST_MakePoint($5, $4), 4326),
			$7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20, $21, $22
		)
		ON CONFLICT (identity) DO UPDATE SET
			anonymous = EXCLUDED.anonymous,
			source = EXCLUDED.source,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			cell_key = EXCLUDED.cell_key,
			position = EXCLUDED.position,
			callsign = EXCLUDED.callsign,
			altitude = EXCLUDED.altitude,
			speed = EXCLUDED.speed,
			heading = EXCLUDED.heading,
			vertical_rate = EXCLUDED.vertical_rate,
			squawk = EXCLUDED.squawk,
			on_ground = EXCLUDED.on_ground,
			description = EXCLUDED.description,
			notes = EXCLUDED.notes,
			image_ref = EXCLUDED.image_ref,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			updated_at = EXCLUDED.updated_at,
			missed_cycles = EXCLUDED.missed_cycles,
			history = EXCLUDED.history,
			visible = EXCLUDED.visible
	`
	_, err = s.db.ExecContext(ctx, query,
		t.Identity, t.Anonymous, t.Source, t.Latitude, t.Longitude, t.CellKey,
		t.Callsign, nullFloat(t.Altitude), nullFloat(t.Speed), nullFloat(t.Heading),
		nullFloat(t.VerticalRate), t.Squawk, t.OnGround,
		t.Description, t.Notes, t.ImageRef,
		t.FirstSeen, t.LastSeen, t.UpdatedAt, t.MissedCycles, history, t.Visible,
	)
	if err != nil {
		return &types.StoreError{Op: "upsert", Err: err}
	}
	return nil
}

func (s *PostgresLive) Delete(ctx context.Context, identity string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM live_tracks WHERE identity = $1`, identity)
	if err != nil {
		return false, &types.StoreError{Op: "delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &types.StoreError{Op: "delete", Err: err}
	}
	return n > 0, nil
}

func (s *PostgresLive) ListBySource(ctx context.Context, source string) ([]*types.Track, error) {
	query := `SELECT ` + liveColumns + ` FROM live_tracks WHERE source = $1`
	rows, err := s.db.QueryContext(ctx, query, source)
	if err != nil {
		return nil, &types.StoreError{Op: "list", Err: err}
	}
	return collectTracks(rows, "list")
}

func (s *PostgresLive) IncrementMissed(ctx context.Context, source string, present []string) (int, error) {
	if present == nil {
		present = []string{}
	}
	query := `
		UPDATE live_tracks
		SET missed_cycles = missed_cycles + 1
		WHERE source = $1 AND NOT (identity = ANY($2))
	`
	res, err := s.db.ExecContext(ctx, query, source, pq.Array(present))
	if err != nil {
		return 0, &types.StoreError{Op: "increment-missed", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &types.StoreError{Op: "increment-missed", Err: err}
	}
	return int(n), nil
}

func (s *PostgresLive) DeleteStale(ctx context.Context, source string, threshold int) (int, error) {
	query := `DELETE FROM live_tracks WHERE source = $1 AND missed_cycles >= $2`
	res, err := s.db.ExecContext(ctx, query, source, threshold)
	if err != nil {
		return 0, &types.StoreError{Op: "delete-stale", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &types.StoreError{Op: "delete-stale", Err: err}
	}
	return int(n), nil
}

func (s *PostgresLive) ListArchivable(ctx context.Context, cutoff time.Time) ([]*types.Track, error) {
	// Uses the (source, last_seen) compound index for the common report case.
	query := `
		SELECT ` + liveColumns + `
		FROM live_tracks
		WHERE (source = $1 OR description <> '' OR notes <> '' OR anonymous)
		  AND COALESCE(last_seen, first_seen) < $2
	`
	rows, err := s.db.QueryContext(ctx, query, types.SourceReport, cutoff)
	if err != nil {
		return nil, &types.StoreError{Op: "list-archivable", Err: err}
	}
	return collectTracks(rows, "list-archivable")
}

func (s *PostgresLive) Near(ctx context.Context, lat, lon, radiusM float64, limit int) ([]*types.Track, error) {
	query := `
		SELECT ` + liveColumns + `
		FROM live_tracks
		WHERE ST_Distance(position::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) < $3
		ORDER BY ST_Distance(position::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, lon, lat, radiusM, ClampLimit(limit))
	if err != nil {
		return nil, &types.StoreError{Op: "near", Err: err}
	}
	return collectTracks(rows, "near")
}

func (s *PostgresLive) Within(ctx context.Context, minLat, minLon, maxLat, maxLon float64, limit int) ([]*types.Track, error) {
	query := `
		SELECT ` + liveColumns + `
		FROM live_tracks
		WHERE ST_Covers(ST_SetSRID(ST_GeomFromText($1), 4326), position)
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, boxPolygonWKT(minLat, minLon, maxLat, maxLon), ClampLimit(limit))
	if err != nil {
		return nil, &types.StoreError{Op: "within", Err: err}
	}
	return collectTracks(rows, "within")
}

func (s *PostgresLive) Recent(ctx context.Context, limit int) ([]*types.Track, error) {
	query := `SELECT ` + liveColumns + ` FROM live_tracks ORDER BY last_seen DESC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, ClampLimit(limit))
	if err != nil {
		return nil, &types.StoreError{Op: "recent", Err: err}
	}
	return collectTracks(rows, "recent")
}

func (s *PostgresLive) CountBySource(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM live_tracks GROUP BY source`)
	if err != nil {
		return nil, &types.StoreError{Op: "count", Err: err}
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, &types.StoreError{Op: "count", Err: err}
		}
		counts[source] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: "count", Err: err}
	}
	return counts, nil
}

func (s *PostgresLive) Close() error { return s.db.Close() }

const archiveColumns = liveColumns + `, archived_at, original_last_seen`

func (s *PostgresArchive) Put(ctx context.Context, t *types.ArchivedTrack) error {
	history, err := json.Marshal(t.History)
	if err != nil {
		return &types.StoreError{Op: "archive-put", Err: err}
	}
	query := `
		INSERT INTO archive_tracks (
			identity, anonymous, source, latitude, longitude, cell_key,
			position,
			callsign, altitude, speed, heading, vertical_rate, squawk, on_ground,
			description, notes, image_ref,
			first_seen, last_seen, updated_at, missed_cycles, history, visible,
			archived_at, original_last_seen
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			ST_SetSRID(ST_MakePoint($5, $4), 4326),
			$7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16,
			$17, $18, $19, $20, $21, $22,
			$23, $24
		)
		ON CONFLICT (identity) DO UPDATE SET
			archived_at = EXCLUDED.archived_at,
			original_last_seen = EXCLUDED.original_last_seen
	`
	_, err = s.db.ExecContext(ctx, query,
		t.Identity, t.Anonymous, t.Source, t.Latitude, t.Longitude, t.CellKey,
		t.Callsign, nullFloat(t.Altitude), nullFloat(t.Speed), nullFloat(t.Heading),
		nullFloat(t.VerticalRate), t.Squawk, t.OnGround,
		t.Description, t.Notes, t.ImageRef,
		t.FirstSeen, t.LastSeen, t.UpdatedAt, t.MissedCycles, history, t.Visible,
		t.ArchivedAt, t.OriginalLastSeen,
	)
	if err != nil {
		return &types.StoreError{Op: "archive-put", Err: err}
	}
	return nil
}

func (s *PostgresArchive) Recent(ctx context.Context, limit int) ([]*types.ArchivedTrack, error) {
	query := `SELECT ` + archiveColumns + ` FROM archive_tracks ORDER BY archived_at DESC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, ClampLimit(limit))
	if err != nil {
		return nil, &types.StoreError{Op: "archive-recent", Err: err}
	}
	return collectArchived(rows, "archive-recent")
}

func (s *PostgresArchive) Near(ctx context.Context, lat, lon, radiusM float64, limit int) ([]*types.ArchivedTrack, error) {
	query := `
		SELECT ` + archiveColumns + `
		FROM archive_tracks
		WHERE ST_Distance(position::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) < $3
		ORDER BY ST_Distance(position::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, lon, lat, radiusM, ClampLimit(limit))
	if err != nil {
		return nil, &types.StoreError{Op: "archive-near", Err: err}
	}
	return collectArchived(rows, "archive-near")
}

func (s *PostgresArchive) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive_tracks`).Scan(&n); err != nil {
		return 0, &types.StoreError{Op: "archive-count", Err: err}
	}
	return n, nil
}

func (s *PostgresArchive) Close() error { return s.db.Close() }

// boxPolygonWKT renders the bounding box as a closed polygon in (lon lat)
// corner order, matching the containment semantics of the memory store.
func boxPolygonWKT(minLat, minLon, maxLat, maxLon float64) string {
	return fmt.Sprintf("POLYGON((%f %f, %f %f, %f %f, %f %f, %f %f))",
		minLon, minLat,
		maxLon, minLat,
		maxLon, maxLat,
		minLon, maxLat,
		minLon, minLat,
	)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (*types.Track, error) {
	var t types.Track
	var altitude, speed, heading, verticalRate sql.NullFloat64
	var history []byte

	err := row.Scan(
		&t.Identity, &t.Anonymous, &t.Source, &t.Latitude, &t.Longitude, &t.CellKey,
		&t.Callsign, &altitude, &speed, &heading, &verticalRate, &t.Squawk, &t.OnGround,
		&t.Description, &t.Notes, &t.ImageRef,
		&t.FirstSeen, &t.LastSeen, &t.UpdatedAt, &t.MissedCycles, &history, &t.Visible,
	)
	if err != nil {
		return nil, err
	}

	t.Altitude = floatPtr(altitude)
	t.Speed = floatPtr(speed)
	t.Heading = floatPtr(heading)
	t.VerticalRate = floatPtr(verticalRate)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &t.History); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func scanArchived(row rowScanner) (*types.ArchivedTrack, error) {
	var t types.ArchivedTrack
	var altitude, speed, heading, verticalRate sql.NullFloat64
	var history []byte

	err := row.Scan(
		&t.Identity, &t.Anonymous, &t.Source, &t.Latitude, &t.Longitude, &t.CellKey,
		&t.Callsign, &altitude, &speed, &heading, &verticalRate, &t.Squawk, &t.OnGround,
		&t.Description, &t.Notes, &t.ImageRef,
		&t.FirstSeen, &t.LastSeen, &t.UpdatedAt, &t.MissedCycles, &history, &t.Visible,
		&t.ArchivedAt, &t.OriginalLastSeen,
	)
	if err != nil {
		return nil, err
	}

	t.Altitude = floatPtr(altitude)
	t.Speed = floatPtr(speed)
	t.Heading = floatPtr(heading)
	t.VerticalRate = floatPtr(verticalRate)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &t.History); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func collectTracks(rows *sql.Rows, op string) ([]*types.Track, error) {
	defer rows.Close()
	var out []*types.Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, &types.StoreError{Op: op, Err: err}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: op, Err: err}
	}
	return out, nil
}

func collectArchived(rows *sql.Rows, op string) ([]*types.ArchivedTrack, error) {
	defer rows.Close()
	var out []*types.ArchivedTrack
	for rows.Next() {
		t, err := scanArchived(rows)
		if err != nil {
			return nil, &types.StoreError{Op: op, Err: err}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StoreError{Op: op, Err: err}
	}
	return out, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
