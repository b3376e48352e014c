package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/csvbulkload/internal/cql"
	"github.com/arkilian/csvbulkload/pkg/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "pdp.csv", cfg.InputPath)
	assert.Equal(t, "./data", cfg.OutputDir)
	assert.Equal(t, "whyso", cfg.Keyspace)
	assert.Equal(t, "visit", cfg.Table)
	assert.Equal(t, types.PolicyAbort, cfg.Loader.OnParseError)
	assert.Equal(t, types.PolicySkip, cfg.Loader.OnReject)
	assert.Equal(t, filepath.Join("data", "whyso", "visit"), filepath.Clean(cfg.TableDir()))
	assert.Equal(t, filepath.Join("./data", "manifest.db"), cfg.Manifest.Path)

	_, err := cql.Declare(cfg.Schema, cfg.Insert)
	assert.NoError(t, err, "resolved defaults must declare a valid table")
}

func TestResolve_KeepsExplicitSchema(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Schema = "CREATE TABLE a.b (k text PRIMARY KEY)"
	cfg.Insert = "INSERT INTO a.b (k) VALUES (?)"
	cfg.Resolve()
	assert.Equal(t, "CREATE TABLE a.b (k text PRIMARY KEY)", cfg.Schema)
	assert.Equal(t, "INSERT INTO a.b (k) VALUES (?)", cfg.Insert)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no input", func(c *Config) { c.InputPath = "" }},
		{"no keyspace", func(c *Config) { c.Keyspace = "" }},
		{"path in table", func(c *Config) { c.Table = "../x" }},
		{"bad partitioner", func(c *Config) { c.Partitioner = "OrderPreserving" }},
		{"bad compression", func(c *Config) { c.Writer.Compression = "lz4" }},
		{"zero buffer", func(c *Config) { c.Writer.BufferSizeMB = 0 }},
		{"bad block size", func(c *Config) { c.Writer.BlockSizeKB = 0 }},
		{"bad fpr", func(c *Config) { c.Writer.BloomFPR = 1 }},
		{"bad delimiter", func(c *Config) { c.CSV.Delimiter = ",," }},
		{"quote delimiter", func(c *Config) { c.CSV.Delimiter = `"` }},
		{"bad parse policy", func(c *Config) { c.Loader.OnParseError = "retry" }},
		{"bad reject policy", func(c *Config) { c.Loader.OnReject = "" }},
		{"bad storage", func(c *Config) { c.Publish.Enabled = true; c.Publish.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Publish.Enabled = true; c.Publish.Storage.Type = "s3" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			cfg.Resolve()
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDelimiterRune(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CSV.Delimiter = `\t`
	r, err := cfg.DelimiterRune()
	require.NoError(t, err)
	assert.Equal(t, '\t', r)

	cfg.CSV.Delimiter = "|"
	r, err = cfg.DelimiterRune()
	require.NoError(t, err)
	assert.Equal(t, '|', r)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "bulkload.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
input_path: /in/visits.csv
keyspace: analytics
writer:
  compression: zstd
loader:
  on_reject: abort
publish:
  enabled: true
  storage:
    type: s3
    s3:
      bucket: segments
`), 0644))

	cfg, err := LoadFromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "/in/visits.csv", cfg.InputPath)
	assert.Equal(t, "analytics", cfg.Keyspace)
	assert.Equal(t, "visit", cfg.Table, "unset fields keep defaults")
	assert.Equal(t, "zstd", cfg.Writer.Compression)
	assert.Equal(t, 128, cfg.Writer.BufferSizeMB)
	assert.Equal(t, types.PolicyAbort, cfg.Loader.OnReject)
	assert.Equal(t, "segments", cfg.Publish.Storage.S3.Bucket)

	jsonPath := filepath.Join(dir, "bulkload.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"table": "pageview", "partitioner": "random"}`), 0644))
	cfg, err = LoadFromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "pageview", cfg.Table)
	assert.Equal(t, "random", cfg.Partitioner)

	_, err = LoadFromFile(filepath.Join(dir, "bulkload.toml"))
	assert.Error(t, err)

	tomlPath := filepath.Join(dir, "bulkload.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("x = 1"), 0644))
	_, err = LoadFromFile(tomlPath)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BULKLOAD_INPUT_PATH", "/env/in.csv")
	t.Setenv("BULKLOAD_WRITER_BUFFER_SIZE_MB", "32")
	t.Setenv("BULKLOAD_CSV_NULL_LITERAL", `\N`)
	t.Setenv("BULKLOAD_LOADER_ON_PARSE_ERROR", "skip")
	t.Setenv("BULKLOAD_MANIFEST_ENABLED", "false")
	t.Setenv("BULKLOAD_S3_REGION", "eu-west-1")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "/env/in.csv", cfg.InputPath)
	assert.Equal(t, 32, cfg.Writer.BufferSizeMB)
	assert.Equal(t, `\N`, cfg.CSV.NullLiteral)
	assert.Equal(t, types.PolicySkip, cfg.Loader.OnParseError)
	assert.False(t, cfg.Manifest.Enabled)
	assert.Equal(t, "eu-west-1", cfg.Publish.Storage.S3.Region)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("BULKLOAD_TEST_DOTENV_KEYSPACE=fromdotenv\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("BULKLOAD_TEST_DOTENV_KEYSPACE") })

	require.NoError(t, LoadDotEnv(envPath, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "fromdotenv", os.Getenv("BULKLOAD_TEST_DOTENV_KEYSPACE"))
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	require.NoError(t, cfg.EnsureDirectories())

	fi, err := os.Stat(cfg.TableDir())
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}
