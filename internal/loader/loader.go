// Package loader streams a CSV file into table segments.
//
// A run prepares the table directory, declares the table, opens the input
// and then feeds every data line to a segment writer. Row-level failures are
// handled by the configured policies. The writer is closed on every exit
// path and a failed final flush is reported in the Result rather than
// dropped.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/arkilian/csvbulkload/internal/config"
	"github.com/arkilian/csvbulkload/internal/cql"
	"github.com/arkilian/csvbulkload/internal/csvsource"
	bulkerr "github.com/arkilian/csvbulkload/internal/errors"
	"github.com/arkilian/csvbulkload/internal/manifest"
	"github.com/arkilian/csvbulkload/internal/partition"
	"github.com/arkilian/csvbulkload/internal/publish"
	"github.com/arkilian/csvbulkload/internal/sstable"
	"github.com/arkilian/csvbulkload/internal/storage"
	"github.com/arkilian/csvbulkload/pkg/types"
)

// TableWriter is the segment writer the loader feeds.
type TableWriter interface {
	AddRow(values ...any) error
	Close() error
	Segments() []sstable.SegmentInfo
}

// WriterFactory creates the TableWriter for a run.
type WriterFactory func(dir string, stmt *cql.Statement, p partition.Partitioner, opts sstable.Options) (TableWriter, error)

func newSSTableWriter(dir string, stmt *cql.Statement, p partition.Partitioner, opts sstable.Options) (TableWriter, error) {
	return sstable.NewWriter(dir, stmt, p, opts)
}

// Result describes a finished run.
type Result struct {
	RunID        string
	RowsRead     int64
	RowsWritten  int64
	RowsRejected int64
	RowsSkipped  int64
	Segments     []sstable.SegmentInfo
	Published    []publish.Published

	// Flushed is false when a segment flush failed; FlushErr holds the cause.
	Flushed  bool
	FlushErr error

	Duration time.Duration
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithWriterFactory replaces the segment writer.
func WithWriterFactory(f WriterFactory) Option {
	return func(l *Loader) { l.newWriter = f }
}

// WithCatalog records runs in catalog instead of opening the configured one.
// The caller keeps ownership of the catalog.
func WithCatalog(catalog manifest.Catalog) Option {
	return func(l *Loader) { l.catalog = catalog }
}

// WithStorage publishes to store instead of the configured storage.
func WithStorage(store storage.ObjectStorage) Option {
	return func(l *Loader) { l.store = store }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// Loader runs CSV bulk loads.
type Loader struct {
	cfg       *config.Config
	logger    *slog.Logger
	newWriter WriterFactory
	catalog   manifest.Catalog
	store     storage.ObjectStorage
	now       func() time.Time
}

// New creates a Loader. The configuration is resolved and validated.
func New(cfg *config.Config, opts ...Option) (*Loader, error) {
	if cfg == nil {
		return nil, bulkerr.NewConfigError("configuration is required", nil)
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, bulkerr.NewConfigError("invalid configuration", err)
	}

	l := &Loader{
		cfg:       cfg,
		logger:    slog.Default(),
		newWriter: newSSTableWriter,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Run performs one load. Fatal failures are returned as errors; the Result
// is non-nil whenever a run was started and carries the counts so far.
// A flush failure is not returned as an error: check Result.Flushed.
func (l *Loader) Run(ctx context.Context) (*Result, error) {
	start := l.now()
	res := &Result{RunID: uuid.NewString(), Flushed: true}
	logger := l.logger.With("run_id", res.RunID)
	cfg := l.cfg

	dir := cfg.TableDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, bulkerr.NewDirectoryCreationError(dir, err)
	}

	stmt, err := cql.Declare(cfg.Schema, cfg.Insert)
	if err != nil {
		return res, err
	}
	if stmt.Schema.Keyspace != cfg.Keyspace || stmt.Schema.Table != cfg.Table {
		return res, bulkerr.NewSchemaError(fmt.Sprintf("schema declares %s but the run targets %s.%s",
			stmt.Schema.QualifiedName(), cfg.Keyspace, cfg.Table), nil)
	}

	p, err := partition.ByName(cfg.Partitioner)
	if err != nil {
		return res, bulkerr.NewConfigError("unknown partitioner", err)
	}

	delim, err := cfg.DelimiterRune()
	if err != nil {
		return res, err
	}
	src, err := csvsource.Open(cfg.InputPath, csvsource.Options{
		Delimiter:   delim,
		NullLiteral: cfg.CSV.NullLiteral,
		Fields:      len(stmt.Columns),
		LazyQuotes:  cfg.CSV.LazyQuotes,
	})
	if err != nil {
		return res, err
	}
	defer src.Close()

	w, err := l.newWriter(dir, stmt, p, l.writerOptions(logger))
	if err != nil {
		return res, bulkerr.NewSchemaError("cannot create table writer", err)
	}

	catalog, closeCatalog := l.openCatalog(logger)
	defer closeCatalog()
	run := &manifest.RunRecord{
		RunID:     res.RunID,
		Keyspace:  cfg.Keyspace,
		Table:     cfg.Table,
		InputPath: cfg.InputPath,
		StartedAt: start,
	}
	if catalog != nil {
		if err := catalog.StartRun(ctx, run); err != nil {
			logger.Warn("manifest registration failed", "error", bulkerr.NewManifestError("start run", err))
			catalog = nil
		}
	}

	logger.Info("load started",
		"input", cfg.InputPath,
		"table", stmt.Schema.QualifiedName(),
		"dir", dir,
		"partitioner", p.Name())

	streamErr := l.stream(ctx, src, w, newBinder(stmt), res, logger)

	var runErr error
	if streamErr != nil && !errors.Is(streamErr, bulkerr.ErrFlush) {
		runErr = streamErr
	}
	closeErr := w.Close()
	res.Segments = w.Segments()

	switch {
	case errors.Is(streamErr, bulkerr.ErrFlush):
		res.Flushed = false
		res.FlushErr = streamErr
		if closeErr != nil {
			res.FlushErr = multierror.Append(streamErr, closeErr)
		}
	case closeErr != nil:
		res.Flushed = false
		res.FlushErr = closeErr
	}
	if !res.Flushed {
		logger.Error("flush failed", "error", res.FlushErr, "segments", len(res.Segments))
	}

	if runErr == nil && res.Flushed && (cfg.Publish.Enabled || l.store != nil) {
		runErr = l.publish(ctx, res, logger)
	}

	res.Duration = l.now().Sub(start)
	if catalog != nil {
		l.record(ctx, catalog, run, res, runErr, logger)
	}

	l.logSummary(logger, res, runErr)
	return res, runErr
}

// stream feeds every data line to the writer. It returns the error that
// stopped the run, if any.
func (l *Loader) stream(ctx context.Context, src *csvsource.Source, w TableWriter, bind binder, res *Result, logger *slog.Logger) error {
	policy := l.cfg.Loader
	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("load cancelled", "line", src.Line(), "error", err)
			return err
		}

		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if !errors.Is(err, bulkerr.ErrRowParse) {
				return err
			}
			res.RowsRead++
			if policy.OnParseError == types.PolicyAbort {
				logger.Error("row parse failed", "line", src.Line(), "error", err)
				return err
			}
			res.RowsSkipped++
			logger.Warn("row skipped", "line", src.Line(), "error", err)
			continue
		}

		res.RowsRead++
		values, key := bind(rec)
		logger.Info("row read", "line", src.Line(), "key", key)

		if err := w.AddRow(values...); err != nil {
			switch {
			case errors.Is(err, bulkerr.ErrRowRejected):
				res.RowsRejected++
				logger.Warn("row rejected", "line", src.Line(), "key", key, "error", err)
				if policy.OnReject == types.PolicyAbort {
					return err
				}
				continue
			case errors.Is(err, bulkerr.ErrFlush):
				// The row was buffered before the flush failed.
				res.RowsWritten++
				return err
			default:
				return err
			}
		}
		res.RowsWritten++
	}
}

func (l *Loader) writerOptions(logger *slog.Logger) sstable.Options {
	opts := sstable.DefaultOptions()
	opts.BufferSizeMB = l.cfg.Writer.BufferSizeMB
	opts.BlockSize = l.cfg.Writer.BlockSizeKB << 10
	opts.Compression = types.CompressionKind(l.cfg.Writer.Compression)
	opts.BloomFPR = l.cfg.Writer.BloomFPR
	opts.Logger = logger
	opts.Now = l.now
	return opts
}

// openCatalog returns the run catalog, or nil when registration is off or
// the catalog cannot be opened.
func (l *Loader) openCatalog(logger *slog.Logger) (manifest.Catalog, func()) {
	if l.catalog != nil {
		return l.catalog, func() {}
	}
	if !l.cfg.Manifest.Enabled {
		return nil, func() {}
	}

	catalog, err := manifest.NewCatalog(l.cfg.Manifest.Path)
	if err != nil {
		logger.Warn("manifest registration failed", "error", bulkerr.NewManifestError("open catalog", err))
		return nil, func() {}
	}
	return catalog, func() {
		if err := catalog.Close(); err != nil {
			logger.Warn("failed to close manifest", "error", err)
		}
	}
}

// record stores the run outcome and its segments. Failures are logged only.
func (l *Loader) record(ctx context.Context, catalog manifest.Catalog, run *manifest.RunRecord, res *Result, runErr error, logger *slog.Logger) {
	ctx = context.WithoutCancel(ctx)

	published := make(map[int]string, len(res.Published))
	for _, p := range res.Published {
		published[p.Descriptor.Generation] = p.Prefix
	}

	for _, seg := range res.Segments {
		id, err := catalog.RegisterSegment(ctx, &manifest.SegmentRecord{
			SegmentID:      uuid.NewString(),
			RunID:          res.RunID,
			Keyspace:       run.Keyspace,
			Table:          run.Table,
			Dir:            seg.Descriptor.Dir,
			Generation:     seg.Descriptor.Generation,
			DataPath:       seg.Descriptor.Filename(sstable.ComponentData),
			RowCount:       seg.Rows,
			PartitionCount: seg.Partitions,
			SizeBytes:      seg.SizeBytes,
			MinToken:       seg.MinToken,
			MaxToken:       seg.MaxToken,
			CreatedAt:      seg.CreatedAt,
		})
		if err != nil {
			logger.Warn("manifest registration failed", "segment", seg.Descriptor.String(),
				"error", bulkerr.NewManifestError("register segment", err))
			continue
		}
		if prefix, ok := published[seg.Descriptor.Generation]; ok {
			if err := catalog.MarkPublished(ctx, id, prefix); err != nil {
				logger.Warn("manifest registration failed", "segment", seg.Descriptor.String(),
					"error", bulkerr.NewManifestError("mark published", err))
			}
		}
	}

	finished := run.StartedAt.Add(res.Duration)
	run.FinishedAt = &finished
	run.RowsRead = res.RowsRead
	run.RowsWritten = res.RowsWritten
	run.RowsRejected = res.RowsRejected
	run.RowsSkipped = res.RowsSkipped
	run.Status = runStatus(res, runErr)
	if runErr != nil {
		run.Error = runErr.Error()
	} else if res.FlushErr != nil {
		run.Error = res.FlushErr.Error()
	}
	if err := catalog.FinishRun(ctx, run); err != nil {
		logger.Warn("manifest registration failed", "error", bulkerr.NewManifestError("finish run", err))
	}
}

func runStatus(res *Result, runErr error) string {
	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		return manifest.StatusCancelled
	case runErr != nil:
		return manifest.StatusFailed
	case !res.Flushed:
		return manifest.StatusFlushFailed
	default:
		return manifest.StatusSucceeded
	}
}

func (l *Loader) publish(ctx context.Context, res *Result, logger *slog.Logger) error {
	store := l.store
	if store == nil {
		s, err := storage.New(ctx, storageConfig(l.cfg.Publish.Storage))
		if err != nil {
			return bulkerr.NewStorageError(bulkerr.CodeUploadFailed, "cannot open publish storage", err)
		}
		store = s
	}

	pub := publish.NewPublisher(store, l.cfg.Publish.Prefix, logger)
	published, err := pub.Publish(ctx, l.cfg.Keyspace, l.cfg.Table, res.Segments)
	res.Published = published
	return err
}

func storageConfig(c config.StorageConfig) storage.Config {
	return storage.Config{
		Type:   c.Type,
		Path:   c.Path,
		Bucket: c.S3.Bucket,
		S3: storage.S3Config{
			Region:   c.S3.Region,
			Endpoint: c.S3.Endpoint,
		},
	}
}

func (l *Loader) logSummary(logger *slog.Logger, res *Result, runErr error) {
	var size int64
	for _, seg := range res.Segments {
		size += seg.SizeBytes
	}
	attrs := []any{
		"rows_read", res.RowsRead,
		"rows_written", res.RowsWritten,
		"rows_rejected", res.RowsRejected,
		"rows_skipped", res.RowsSkipped,
		"segments", len(res.Segments),
		"size", humanize.IBytes(uint64(size)),
		"flushed", res.Flushed,
		"duration", res.Duration,
	}
	if runErr != nil {
		logger.Error("load failed", append(attrs, "error", runErr)...)
		return
	}
	logger.Info("load finished", attrs...)
}
