package migrations

// SystemStats creates the table backing periodic statistics persistence.
var SystemStats = &Migration{
	Name: "002_system_stats",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS system_stats (
			time TIMESTAMPTZ NOT NULL,
			batches BIGINT NOT NULL,
			created_tracks BIGINT NOT NULL,
			updated_tracks BIGINT NOT NULL,
			removed_on_ground BIGINT NOT NULL,
			evicted_tracks BIGINT NOT NULL,
			rejected_updates BIGINT NOT NULL,
			archived_tracks BIGINT NOT NULL,
			archive_sweeps BIGINT NOT NULL,
			live_tracks BIGINT NOT NULL,
			last_batch_time TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_system_stats_time ON system_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS system_stats;
	`,
}
