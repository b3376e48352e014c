// Package manifest records load runs and the segments they produce in a
// SQLite catalog (manifest.db) next to the table directories.
package manifest

// CreateLoadRunsTableSQL creates the load_runs table. One row per invocation
// of the loader, updated when the run finishes.
const CreateLoadRunsTableSQL = `
CREATE TABLE IF NOT EXISTS load_runs (
    run_id TEXT PRIMARY KEY,
    keyspace TEXT NOT NULL,
    table_name TEXT NOT NULL,
    input_path TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    rows_read INTEGER NOT NULL DEFAULT 0,
    rows_written INTEGER NOT NULL DEFAULT 0,
    rows_rejected INTEGER NOT NULL DEFAULT 0,
    rows_skipped INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT
)`

// CreateSegmentsTableSQL creates the segments table. A segment is identified
// by its table directory and generation, which never repeat.
const CreateSegmentsTableSQL = `
CREATE TABLE IF NOT EXISTS segments (
    segment_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    keyspace TEXT NOT NULL,
    table_name TEXT NOT NULL,
    dir TEXT NOT NULL,
    generation INTEGER NOT NULL,
    data_path TEXT NOT NULL,
    row_count INTEGER NOT NULL,
    partition_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    min_token TEXT,
    max_token TEXT,
    created_at INTEGER NOT NULL,
    published_at INTEGER,
    object_prefix TEXT,
    UNIQUE (dir, generation),
    FOREIGN KEY (run_id) REFERENCES load_runs(run_id)
)`

// CreateIndexesSQL creates lookup indexes.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_segments_table ON segments(keyspace, table_name, generation)`,
	`CREATE INDEX IF NOT EXISTS idx_segments_run ON segments(run_id)`,
	`CREATE INDEX IF NOT EXISTS idx_load_runs_started ON load_runs(started_at)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateLoadRunsTableSQL,
		CreateSegmentsTableSQL,
	}
	return append(statements, CreateIndexesSQL...)
}
