package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	// StatusFlushFailed marks a run whose rows were read but whose final
	// flush did not complete.
	StatusFlushFailed = "flush_failed"
	StatusCancelled   = "cancelled"
)

// Catalog records load runs and their segments.
type Catalog interface {
	// StartRun inserts a run in the running state.
	StartRun(ctx context.Context, run *RunRecord) error

	// FinishRun stores the final counts and status of a run.
	FinishRun(ctx context.Context, run *RunRecord) error

	// RegisterSegment records a flushed segment. Registering the same
	// directory and generation twice returns the existing segment ID.
	RegisterSegment(ctx context.Context, seg *SegmentRecord) (string, error)

	// MarkPublished records that a segment was uploaded under objectPrefix.
	MarkPublished(ctx context.Context, segmentID, objectPrefix string) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// ListRuns returns runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// ListSegments returns the segments of a table in generation order.
	ListSegments(ctx context.Context, keyspace, table string) ([]*SegmentRecord, error)

	// Close closes the catalog database connection.
	Close() error
}

// RunRecord represents a load run in the manifest.
type RunRecord struct {
	RunID        string
	Keyspace     string
	Table        string
	InputPath    string
	StartedAt    time.Time
	FinishedAt   *time.Time
	RowsRead     int64
	RowsWritten  int64
	RowsRejected int64
	RowsSkipped  int64
	Status       string
	Error        string
}

// SegmentRecord represents a segment in the manifest.
type SegmentRecord struct {
	SegmentID      string
	RunID          string
	Keyspace       string
	Table          string
	Dir            string
	Generation     int
	DataPath       string
	RowCount       int64
	PartitionCount int64
	SizeBytes      int64
	MinToken       string
	MaxToken       string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	ObjectPrefix   string
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// NewCatalog opens or creates the catalog at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{db: db, dbPath: dbPath}
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}
	return catalog, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (c *SQLiteCatalog) Path() string {
	return c.dbPath
}

// StartRun inserts a run in the running state.
func (c *SQLiteCatalog) StartRun(ctx context.Context, run *RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if run.Status == "" {
		run.Status = StatusRunning
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO load_runs (run_id, keyspace, table_name, input_path, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Keyspace, run.Table, run.InputPath, run.StartedAt.UnixMilli(), run.Status,
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final counts and status of a run.
func (c *SQLiteCatalog) FinishRun(ctx context.Context, run *RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE load_runs SET
			finished_at = ?, rows_read = ?, rows_written = ?, rows_rejected = ?,
			rows_skipped = ?, status = ?, error = ?
		WHERE run_id = ?`,
		finished.UnixMilli(), run.RowsRead, run.RowsWritten, run.RowsRejected,
		run.RowsSkipped, run.Status, nullString(run.Error), run.RunID,
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("manifest: run %s not found", run.RunID)
	}
	return nil
}

// RegisterSegment records a flushed segment.
func (c *SQLiteCatalog) RegisterSegment(ctx context.Context, seg *SegmentRecord) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var existingID string
	err := c.db.QueryRowContext(ctx,
		"SELECT segment_id FROM segments WHERE dir = ? AND generation = ?",
		seg.Dir, seg.Generation,
	).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("manifest: failed to check segment: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO segments (
			segment_id, run_id, keyspace, table_name, dir, generation, data_path,
			row_count, partition_count, size_bytes, min_token, max_token, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seg.SegmentID, seg.RunID, seg.Keyspace, seg.Table, seg.Dir, seg.Generation, seg.DataPath,
		seg.RowCount, seg.PartitionCount, seg.SizeBytes,
		nullString(seg.MinToken), nullString(seg.MaxToken), seg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("manifest: failed to insert segment: %w", err)
	}
	return seg.SegmentID, nil
}

// MarkPublished records that a segment was uploaded.
func (c *SQLiteCatalog) MarkPublished(ctx context.Context, segmentID, objectPrefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		"UPDATE segments SET published_at = ?, object_prefix = ? WHERE segment_id = ?",
		time.Now().UnixMilli(), objectPrefix, segmentID,
	)
	if err != nil {
		return fmt.Errorf("manifest: failed to mark segment published: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("manifest: segment %s not found", segmentID)
	}
	return nil
}

const runColumns = `run_id, keyspace, table_name, input_path, started_at, finished_at,
	rows_read, rows_written, rows_rejected, rows_skipped, status, error`

// GetRun retrieves a run by ID.
func (c *SQLiteCatalog) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := c.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM load_runs WHERE run_id = ?", runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("manifest: run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs, newest first. A limit of zero returns all runs.
func (c *SQLiteCatalog) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := "SELECT " + runColumns + " FROM load_runs ORDER BY started_at DESC, run_id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("manifest: failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListSegments returns the segments of a table in generation order.
func (c *SQLiteCatalog) ListSegments(ctx context.Context, keyspace, table string) ([]*SegmentRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT segment_id, run_id, keyspace, table_name, dir, generation, data_path,
			row_count, partition_count, size_bytes, min_token, max_token, created_at,
			published_at, object_prefix
		FROM segments
		WHERE keyspace = ? AND table_name = ?
		ORDER BY generation`,
		keyspace, table,
	)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list segments: %w", err)
	}
	defer rows.Close()

	var segments []*SegmentRecord
	for rows.Next() {
		var (
			seg                        SegmentRecord
			minToken, maxToken, prefix sql.NullString
			createdAt                  int64
			publishedAt                sql.NullInt64
		)
		if err := rows.Scan(
			&seg.SegmentID, &seg.RunID, &seg.Keyspace, &seg.Table, &seg.Dir, &seg.Generation, &seg.DataPath,
			&seg.RowCount, &seg.PartitionCount, &seg.SizeBytes, &minToken, &maxToken, &createdAt,
			&publishedAt, &prefix,
		); err != nil {
			return nil, fmt.Errorf("manifest: failed to scan segment: %w", err)
		}
		seg.MinToken = minToken.String
		seg.MaxToken = maxToken.String
		seg.ObjectPrefix = prefix.String
		seg.CreatedAt = time.UnixMilli(createdAt)
		if publishedAt.Valid {
			t := time.UnixMilli(publishedAt.Int64)
			seg.PublishedAt = &t
		}
		segments = append(segments, &seg)
	}
	return segments, rows.Err()
}

// Close closes the catalog database connection.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*RunRecord, error) {
	var (
		run        RunRecord
		startedAt  int64
		finishedAt sql.NullInt64
		errText    sql.NullString
	)
	if err := s.Scan(
		&run.RunID, &run.Keyspace, &run.Table, &run.InputPath, &startedAt, &finishedAt,
		&run.RowsRead, &run.RowsWritten, &run.RowsRejected, &run.RowsSkipped, &run.Status, &errText,
	); err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMilli(startedAt)
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64)
		run.FinishedAt = &t
	}
	run.Error = errText.String
	return &run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
