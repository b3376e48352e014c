// Package config provides the run configuration for the bulk loader.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/arkilian/csvbulkload/internal/cql"
	"github.com/arkilian/csvbulkload/internal/partition"
	"github.com/arkilian/csvbulkload/pkg/types"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "BULKLOAD_"

// Config holds the configuration of one load run.
type Config struct {
	// InputPath is the CSV file to load
	InputPath string `json:"input_path" yaml:"input_path"`

	// OutputDir is the root of the segment tree
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Keyspace and Table name the target table and its directory
	Keyspace string `json:"keyspace" yaml:"keyspace"`
	Table    string `json:"table" yaml:"table"`

	// Schema is the CREATE TABLE statement; empty selects the visit table
	Schema string `json:"schema" yaml:"schema"`

	// Insert is the INSERT template; empty binds every visit column
	Insert string `json:"insert" yaml:"insert"`

	// Partitioner names the key-hashing strategy
	Partitioner string `json:"partitioner" yaml:"partitioner"`

	// Writer configuration
	Writer WriterConfig `json:"writer" yaml:"writer"`

	// CSV input configuration
	CSV CSVConfig `json:"csv" yaml:"csv"`

	// Loader failure policy
	Loader LoaderConfig `json:"loader" yaml:"loader"`

	// Manifest configuration
	Manifest ManifestConfig `json:"manifest" yaml:"manifest"`

	// Publish configuration
	Publish PublishConfig `json:"publish" yaml:"publish"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`
}

// WriterConfig holds segment writer configuration.
type WriterConfig struct {
	// BufferSizeMB is the buffered data size that triggers a segment flush
	BufferSizeMB int `json:"buffer_size_mb" yaml:"buffer_size_mb"`

	// BlockSizeKB is the uncompressed Data block size
	BlockSizeKB int `json:"block_size_kb" yaml:"block_size_kb"`

	// Compression is the block codec: snappy, zstd, none
	Compression string `json:"compression" yaml:"compression"`

	// BloomFPR is the bloom filter target false positive rate
	BloomFPR float64 `json:"bloom_fpr" yaml:"bloom_fpr"`
}

// CSVConfig holds input parsing configuration.
type CSVConfig struct {
	// Delimiter is a single character separating fields
	Delimiter string `json:"delimiter" yaml:"delimiter"`

	// NullLiteral is the field text read as null
	NullLiteral string `json:"null_literal" yaml:"null_literal"`

	// LazyQuotes tolerates quotes inside unquoted fields
	LazyQuotes bool `json:"lazy_quotes" yaml:"lazy_quotes"`
}

// LoaderConfig holds the row-level failure policy.
type LoaderConfig struct {
	// OnParseError is abort or skip
	OnParseError types.ErrorPolicy `json:"on_parse_error" yaml:"on_parse_error"`

	// OnReject is skip or abort
	OnReject types.ErrorPolicy `json:"on_reject" yaml:"on_reject"`
}

// ManifestConfig holds run catalog configuration.
type ManifestConfig struct {
	// Enabled records runs and segments in a SQLite catalog
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the catalog file; empty selects <output_dir>/manifest.db
	Path string `json:"path" yaml:"path"`
}

// PublishConfig holds segment upload configuration.
type PublishConfig struct {
	// Enabled uploads segments after a clean flush
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// File additionally receives JSON logs when set
	File string `json:"file" yaml:"file"`
}

// DefaultConfig returns the defaults: load ./pdp.csv into whyso.visit
// under ./data.
func DefaultConfig() *Config {
	return &Config{
		InputPath:   "pdp.csv",
		OutputDir:   "./data",
		Keyspace:    "whyso",
		Table:       "visit",
		Partitioner: string(types.PartitionerMurmur3),
		Writer: WriterConfig{
			BufferSizeMB: 128,
			BlockSizeKB:  64,
			Compression:  string(types.CompressionSnappy),
			BloomFPR:     0.01,
		},
		CSV: CSVConfig{
			Delimiter: ",",
		},
		Loader: LoaderConfig{
			OnParseError: types.PolicyAbort,
			OnReject:     types.PolicySkip,
		},
		Manifest: ManifestConfig{
			Enabled: true,
		},
		Publish: PublishConfig{
			Storage: StorageConfig{
				Type: "local",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Resolve fills derived defaults: the visit DDL and insert template for the
// configured keyspace and table, and paths under OutputDir.
func (c *Config) Resolve() {
	if c.OutputDir == "" {
		c.OutputDir = "./data"
	}

	if strings.TrimSpace(c.Schema) == "" {
		c.Schema = cql.DefaultDDL(c.Keyspace, c.Table)
	}
	if strings.TrimSpace(c.Insert) == "" {
		c.Insert = cql.DefaultInsert(c.Keyspace, c.Table)
	}

	if c.Manifest.Path == "" {
		c.Manifest.Path = filepath.Join(c.OutputDir, "manifest.db")
	}

	if c.Publish.Storage.Type == "local" && c.Publish.Storage.Path == "" {
		c.Publish.Storage.Path = filepath.Join(c.OutputDir, "published")
	}
}

// TableDir returns <output_dir>/<keyspace>/<table>.
func (c *Config) TableDir() string {
	return filepath.Join(c.OutputDir, c.Keyspace, c.Table)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("input_path is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Keyspace == "" || c.Table == "" {
		return fmt.Errorf("keyspace and table are required")
	}
	if strings.ContainsAny(c.Keyspace+c.Table, `/\`) {
		return fmt.Errorf("keyspace and table must not contain path separators")
	}

	if _, err := partition.ByName(c.Partitioner); err != nil {
		return err
	}

	switch types.CompressionKind(c.Writer.Compression) {
	case types.CompressionSnappy, types.CompressionZstd, types.CompressionNone:
	default:
		return fmt.Errorf("invalid writer.compression: %s (must be snappy, zstd, or none)", c.Writer.Compression)
	}
	if c.Writer.BufferSizeMB < 1 {
		return fmt.Errorf("writer.buffer_size_mb must be at least 1, got %d", c.Writer.BufferSizeMB)
	}
	if c.Writer.BlockSizeKB < 1 || c.Writer.BlockSizeKB > 16*1024 {
		return fmt.Errorf("writer.block_size_kb must be between 1 and 16384, got %d", c.Writer.BlockSizeKB)
	}
	if c.Writer.BloomFPR <= 0 || c.Writer.BloomFPR >= 1 {
		return fmt.Errorf("writer.bloom_fpr must be in (0, 1), got %g", c.Writer.BloomFPR)
	}

	if _, err := c.DelimiterRune(); err != nil {
		return err
	}

	if err := validatePolicy("loader.on_parse_error", c.Loader.OnParseError); err != nil {
		return err
	}
	if err := validatePolicy("loader.on_reject", c.Loader.OnReject); err != nil {
		return err
	}

	if c.Publish.Enabled {
		if c.Publish.Storage.Type != "local" && c.Publish.Storage.Type != "s3" {
			return fmt.Errorf("invalid publish.storage.type: %s (must be local or s3)", c.Publish.Storage.Type)
		}
		if c.Publish.Storage.Type == "s3" && c.Publish.Storage.S3.Bucket == "" {
			return fmt.Errorf("publish.storage.s3.bucket is required when storage type is s3")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %s", c.Log.Level)
	}

	return nil
}

func validatePolicy(name string, p types.ErrorPolicy) error {
	switch p {
	case types.PolicyAbort, types.PolicySkip:
		return nil
	default:
		return fmt.Errorf("invalid %s: %s (must be abort or skip)", name, p)
	}
}

// DelimiterRune returns the CSV delimiter as a rune.
func (c *Config) DelimiterRune() (rune, error) {
	d := c.CSV.Delimiter
	if d == `\t` {
		return '\t', nil
	}
	r := []rune(d)
	if len(r) != 1 || r[0] == '"' || r[0] == '\n' || r[0] == '\r' {
		return 0, fmt.Errorf("invalid csv.delimiter: %q (must be a single character)", d)
	}
	return r[0], nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the
// process environment without overriding variables already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the BULKLOAD_ prefix.
func LoadFromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			fmt.Sscanf(v, "%d", dst)
		}
	}
	flag := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	str("INPUT_PATH", &cfg.InputPath)
	str("OUTPUT_DIR", &cfg.OutputDir)
	str("KEYSPACE", &cfg.Keyspace)
	str("TABLE", &cfg.Table)
	str("SCHEMA", &cfg.Schema)
	str("INSERT", &cfg.Insert)
	str("PARTITIONER", &cfg.Partitioner)

	// Writer configuration
	num("WRITER_BUFFER_SIZE_MB", &cfg.Writer.BufferSizeMB)
	num("WRITER_BLOCK_SIZE_KB", &cfg.Writer.BlockSizeKB)
	str("WRITER_COMPRESSION", &cfg.Writer.Compression)
	if v := os.Getenv(EnvPrefix + "WRITER_BLOOM_FPR"); v != "" {
		fmt.Sscanf(v, "%g", &cfg.Writer.BloomFPR)
	}

	// CSV configuration
	str("CSV_DELIMITER", &cfg.CSV.Delimiter)
	if v, ok := os.LookupEnv(EnvPrefix + "CSV_NULL_LITERAL"); ok {
		cfg.CSV.NullLiteral = v
	}
	flag("CSV_LAZY_QUOTES", &cfg.CSV.LazyQuotes)

	// Loader policy
	if v := os.Getenv(EnvPrefix + "LOADER_ON_PARSE_ERROR"); v != "" {
		cfg.Loader.OnParseError = types.ErrorPolicy(v)
	}
	if v := os.Getenv(EnvPrefix + "LOADER_ON_REJECT"); v != "" {
		cfg.Loader.OnReject = types.ErrorPolicy(v)
	}

	// Manifest configuration
	flag("MANIFEST_ENABLED", &cfg.Manifest.Enabled)
	str("MANIFEST_PATH", &cfg.Manifest.Path)

	// Publish configuration
	flag("PUBLISH_ENABLED", &cfg.Publish.Enabled)
	str("PUBLISH_PREFIX", &cfg.Publish.Prefix)
	str("STORAGE_TYPE", &cfg.Publish.Storage.Type)
	str("STORAGE_PATH", &cfg.Publish.Storage.Path)
	str("S3_BUCKET", &cfg.Publish.Storage.S3.Bucket)
	str("S3_REGION", &cfg.Publish.Storage.S3.Region)
	str("S3_ENDPOINT", &cfg.Publish.Storage.S3.Endpoint)

	// Log configuration
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)
}

// EnsureDirectories creates the table directory.
func (c *Config) EnsureDirectories() error {
	dir := c.TableDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
