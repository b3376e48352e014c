package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/arkilian/csvbulkload/internal/config"
	bulkerr "github.com/arkilian/csvbulkload/internal/errors"
	"github.com/arkilian/csvbulkload/internal/loader"
	"github.com/arkilian/csvbulkload/internal/logging"
	"github.com/arkilian/csvbulkload/pkg/types"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a CSV file into table segments",
	Long: `Load reads the input CSV, skips its header line and writes every data
line into segments of the declared table.

Settings are applied in order: defaults, --config file, environment
(BULKLOAD_*, including values from --env-file), then flags.`,
	Example: `  bulkload load --input pdp.csv --output ./data
  bulkload load --config bulkload.yaml --on-reject abort
  bulkload load --schema-file visit.cql --insert-file visit_insert.cql`,
	Args: cobra.NoArgs,
	RunE: runLoad,
}

type loadFlagValues struct {
	configFile   string
	envFile      string
	input        string
	output       string
	keyspace     string
	table        string
	schemaFile   string
	insertFile   string
	partitioner  string
	compression  string
	bufferSizeMB int
	delimiter    string
	nullLiteral  string
	onParseError string
	onReject     string
	noManifest   bool
	publish      bool
	publishPath  string
	logLevel     string
	logFile      string
}

var loadFlags loadFlagValues

func resetLoadFlags() {
	loadFlags = loadFlagValues{}
}

func init() {
	addLoadFlags(loadCmd)
	rootCmd.AddCommand(loadCmd)
}

func addLoadFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&loadFlags.configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	f.StringVar(&loadFlags.envFile, "env-file", ".env", "Environment file to load before reading BULKLOAD_* variables")
	f.StringVarP(&loadFlags.input, "input", "i", "", "Input CSV file (default pdp.csv)")
	f.StringVarP(&loadFlags.output, "output", "o", "", "Output root directory (default ./data)")
	f.StringVarP(&loadFlags.keyspace, "keyspace", "k", "", "Keyspace name (default whyso)")
	f.StringVarP(&loadFlags.table, "table", "t", "", "Table name (default visit)")
	f.StringVar(&loadFlags.schemaFile, "schema-file", "", "File holding the CREATE TABLE statement")
	f.StringVar(&loadFlags.insertFile, "insert-file", "", "File holding the INSERT statement")
	f.StringVar(&loadFlags.partitioner, "partitioner", "", "Partitioner: murmur3, random, byteordered")
	f.StringVar(&loadFlags.compression, "compression", "", "Block compression: snappy, zstd, none")
	f.IntVar(&loadFlags.bufferSizeMB, "buffer-size-mb", 0, "Buffered data size that triggers a segment flush")
	f.StringVar(&loadFlags.delimiter, "delimiter", "", `Field delimiter (use "\t" for tab)`)
	f.StringVar(&loadFlags.nullLiteral, "null", "", "Field text read as null")
	f.StringVar(&loadFlags.onParseError, "on-parse-error", "", "Malformed line policy: abort, skip")
	f.StringVar(&loadFlags.onReject, "on-reject", "", "Rejected row policy: skip, abort")
	f.BoolVar(&loadFlags.noManifest, "no-manifest", false, "Do not record the run in manifest.db")
	f.BoolVar(&loadFlags.publish, "publish", false, "Upload segments to the configured storage after a clean flush")
	f.StringVar(&loadFlags.publishPath, "publish-path", "", "Local storage directory for --publish")
	f.StringVar(&loadFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&loadFlags.logFile, "log-file", "", "Also write JSON logs to this file")
}

// buildConfig layers defaults, config file, environment and flags.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if loadFlags.configFile != "" {
		fileCfg, err := config.LoadFromFile(loadFlags.configFile)
		if err != nil {
			return nil, bulkerr.NewConfigError("cannot load configuration file", err)
		}
		cfg = fileCfg
	}

	if loadFlags.envFile != "" {
		if err := config.LoadDotEnv(loadFlags.envFile); err != nil {
			return nil, bulkerr.NewConfigError("cannot load environment file", err)
		}
	}
	config.LoadFromEnv(cfg)

	changed := cmd.Flags().Changed
	setString := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}
	setString("input", &cfg.InputPath, loadFlags.input)
	setString("output", &cfg.OutputDir, loadFlags.output)
	setString("keyspace", &cfg.Keyspace, loadFlags.keyspace)
	setString("table", &cfg.Table, loadFlags.table)
	setString("partitioner", &cfg.Partitioner, loadFlags.partitioner)
	setString("compression", &cfg.Writer.Compression, loadFlags.compression)
	setString("delimiter", &cfg.CSV.Delimiter, loadFlags.delimiter)
	setString("null", &cfg.CSV.NullLiteral, loadFlags.nullLiteral)
	setString("log-level", &cfg.Log.Level, loadFlags.logLevel)
	setString("log-file", &cfg.Log.File, loadFlags.logFile)
	setString("publish-path", &cfg.Publish.Storage.Path, loadFlags.publishPath)
	if changed("buffer-size-mb") {
		cfg.Writer.BufferSizeMB = loadFlags.bufferSizeMB
	}
	if changed("on-parse-error") {
		cfg.Loader.OnParseError = types.ErrorPolicy(loadFlags.onParseError)
	}
	if changed("on-reject") {
		cfg.Loader.OnReject = types.ErrorPolicy(loadFlags.onReject)
	}
	if changed("no-manifest") {
		cfg.Manifest.Enabled = !loadFlags.noManifest
	}
	if changed("publish") {
		cfg.Publish.Enabled = loadFlags.publish
	}

	if loadFlags.schemaFile != "" {
		ddl, err := os.ReadFile(loadFlags.schemaFile)
		if err != nil {
			return nil, bulkerr.NewConfigError("cannot read schema file", err)
		}
		cfg.Schema = string(ddl)
	}
	if loadFlags.insertFile != "" {
		insert, err := os.ReadFile(loadFlags.insertFile)
		if err != nil {
			return nil, bulkerr.NewConfigError("cannot read insert file", err)
		}
		cfg.Insert = string(insert)
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, bulkerr.NewConfigError("invalid configuration", err)
	}
	return cfg, nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return bulkerr.NewConfigError("cannot set up logging", err)
	}
	defer closeLog()

	l, err := loader.New(cfg, loader.WithLogger(logger))
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := l.Run(ctx)
	if res != nil {
		printResult(cmd.OutOrStdout(), cfg, res)
	}
	if err != nil {
		return err
	}
	if !res.Flushed {
		return res.FlushErr
	}
	return nil
}

func printResult(w io.Writer, cfg *config.Config, res *loader.Result) {
	var size int64
	for _, seg := range res.Segments {
		size += seg.SizeBytes
	}
	fmt.Fprintf(w, "run %s: %s.%s from %s\n", res.RunID, cfg.Keyspace, cfg.Table, cfg.InputPath)
	fmt.Fprintf(w, "  rows read:     %s\n", humanize.Comma(res.RowsRead))
	fmt.Fprintf(w, "  rows written:  %s\n", humanize.Comma(res.RowsWritten))
	fmt.Fprintf(w, "  rows rejected: %s\n", humanize.Comma(res.RowsRejected))
	if res.RowsSkipped > 0 {
		fmt.Fprintf(w, "  rows skipped:  %s\n", humanize.Comma(res.RowsSkipped))
	}
	fmt.Fprintf(w, "  segments:      %d (%s) in %s\n", len(res.Segments), humanize.IBytes(uint64(size)), cfg.TableDir())
	if len(res.Published) > 0 {
		fmt.Fprintf(w, "  published:     %d under %s\n", len(res.Published), res.Published[0].Prefix)
	}
	if !res.Flushed {
		fmt.Fprintf(w, "  flush FAILED:  %v\n", res.FlushErr)
	}
	fmt.Fprintf(w, "  duration:      %s\n", res.Duration.Round(time.Millisecond))
}
