package migrations

// InitialSchema creates the live and archive collections with the identity,
// geospatial and archival-scan indexes.
var InitialSchema = &Migration{
	Name: "001_initial_schema",
	UpSQL: `
		CREATE EXTENSION IF NOT EXISTS postgis;

		CREATE TABLE IF NOT EXISTS live_tracks (
			identity TEXT PRIMARY KEY,
			anonymous BOOLEAN NOT NULL DEFAULT FALSE,
			source TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			cell_key TEXT NOT NULL DEFAULT '',
			position geometry(Point, 4326) NOT NULL,
			callsign TEXT NOT NULL DEFAULT '',
			altitude DOUBLE PRECISION,
			speed DOUBLE PRECISION,
			heading DOUBLE PRECISION,
			vertical_rate DOUBLE PRECISION,
			squawk TEXT NOT NULL DEFAULT '',
			on_ground BOOLEAN NOT NULL DEFAULT FALSE,
			description TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			image_ref TEXT NOT NULL DEFAULT '',
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			missed_cycles INTEGER NOT NULL DEFAULT 0,
			history JSONB NOT NULL DEFAULT '[]',
			visible BOOLEAN NOT NULL DEFAULT TRUE
		);

		-- Geospatial index on position
		CREATE INDEX IF NOT EXISTS idx_live_tracks_position ON live_tracks USING GIST (position);
		-- Compound index backing the staleness and archival scans
		CREATE INDEX IF NOT EXISTS idx_live_tracks_source_last_seen ON live_tracks (source, last_seen);
		CREATE INDEX IF NOT EXISTS idx_live_tracks_cell_key ON live_tracks (cell_key);

		CREATE TABLE IF NOT EXISTS archive_tracks (
			identity TEXT PRIMARY KEY,
			anonymous BOOLEAN NOT NULL DEFAULT FALSE,
			source TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			cell_key TEXT NOT NULL DEFAULT '',
			position geometry(Point, 4326) NOT NULL,
			callsign TEXT NOT NULL DEFAULT '',
			altitude DOUBLE PRECISION,
			speed DOUBLE PRECISION,
			heading DOUBLE PRECISION,
			vertical_rate DOUBLE PRECISION,
			squawk TEXT NOT NULL DEFAULT '',
			on_ground BOOLEAN NOT NULL DEFAULT FALSE,
			description TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			image_ref TEXT NOT NULL DEFAULT '',
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			missed_cycles INTEGER NOT NULL DEFAULT 0,
			history JSONB NOT NULL DEFAULT '[]',
			visible BOOLEAN NOT NULL DEFAULT TRUE,
			archived_at TIMESTAMPTZ NOT NULL,
			original_last_seen TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_archive_tracks_position ON archive_tracks USING GIST (position);
		CREATE INDEX IF NOT EXISTS idx_archive_tracks_archived_at ON archive_tracks (archived_at DESC);
		CREATE INDEX IF NOT EXISTS idx_archive_tracks_source_last_seen ON archive_tracks (source, last_seen);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS archive_tracks;
		DROP TABLE IF EXISTS live_tracks;
	`,
}
