package sstable

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/csvbulkload/internal/cql"
	bulkerr "github.com/arkilian/csvbulkload/internal/errors"
	"github.com/arkilian/csvbulkload/internal/partition"
	"github.com/arkilian/csvbulkload/pkg/types"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Now = func() time.Time { return fixedNow }
	return opts
}

func visitStatement(t *testing.T) *cql.Statement {
	t.Helper()
	stmt, err := cql.Declare(cql.DefaultDDL("whyso", "visit"), cql.DefaultInsert("whyso", "visit"))
	require.NoError(t, err)
	return stmt
}

func visitValues(key string, host string) []any {
	values := make([]any, types.VisitColumnCount)
	values[0] = key
	for i := 1; i < len(values); i++ {
		values[i] = ""
	}
	values[3] = host
	return values
}

func newTestWriter(t *testing.T, dir string, opts Options) *Writer {
	t.Helper()
	w, err := NewWriter(dir, visitStatement(t), partition.Murmur3Partitioner{}, opts)
	require.NoError(t, err)
	return w
}

func readAll(t *testing.T, desc Descriptor) []Row {
	t.Helper()
	r, err := Open(desc)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Verify())

	var rows []Row
	require.NoError(t, r.Scan(func(row Row) error {
		rows = append(rows, row)
		return nil
	}))
	return rows
}

func TestWriter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, testOptions())

	hosts := make(map[string]string)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("P-%03d", i)
		hosts[key] = fmt.Sprintf("h%d", i)
		require.NoError(t, w.AddRow(visitValues(key, hosts[key])...))
	}
	require.NoError(t, w.Close())

	segs := w.Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, 1, segs[0].Descriptor.Generation)
	assert.Equal(t, int64(50), segs[0].Rows)
	assert.Equal(t, int64(50), segs[0].Partitions)
	assert.True(t, segs[0].Descriptor.IsComplete())

	for _, c := range AllComponents {
		_, err := os.Stat(segs[0].Descriptor.Filename(c))
		assert.NoError(t, err, "component %s", c)
		_, err = os.Stat(segs[0].Descriptor.TempFilename(c))
		assert.True(t, os.IsNotExist(err), "temporary %s left behind", c)
	}

	rows := readAll(t, segs[0].Descriptor)
	require.Len(t, rows, 50)

	p := partition.Murmur3Partitioner{}
	for i := 1; i < len(rows); i++ {
		prev := p.Token(rows[i-1].Key)
		cur := p.Token(rows[i].Key)
		assert.True(t, prev.Compare(cur) <= 0, "rows out of token order at %d", i)
	}

	for _, row := range rows {
		require.Len(t, row.Values, types.VisitColumnCount)
		require.NotNil(t, row.Values[0])
		assert.Equal(t, string(row.Key), *row.Values[0])
		assert.Equal(t, hosts[string(row.Key)], *row.Values[3])
		require.NotNil(t, row.Values[1], "empty strings must not read back as null")
		assert.Equal(t, "", *row.Values[1])
		assert.Equal(t, fixedNow.UnixMicro(), row.Timestamp)
	}
}

func TestWriter_GetUsesIndex(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.BlockSize = 256
	w := newTestWriter(t, dir, opts)

	for i := 0; i < 200; i++ {
		require.NoError(t, w.AddRow(visitValues(fmt.Sprintf("K%d", i), "host")...))
	}
	require.NoError(t, w.Close())

	r, err := Open(w.Segments()[0].Descriptor)
	require.NoError(t, err)
	defer r.Close()

	assert.Greater(t, r.Stats().BlockCount, 1)

	row, ok, err := r.Get([]byte("K123"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "K123", *row.Values[0])

	_, ok, err = r.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	for _, k := range r.Keys() {
		assert.True(t, r.MayContain(k))
	}
}

func TestWriter_LastWriteWins(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, testOptions())

	require.NoError(t, w.AddRow(visitValues("P-1", "first")...))
	require.NoError(t, w.AddRow(visitValues("P-1", "second")...))
	assert.Equal(t, 1, w.BufferedPartitions())
	require.NoError(t, w.Close())

	seg := w.Segments()[0]
	assert.Equal(t, int64(2), seg.Rows)
	assert.Equal(t, int64(1), seg.Partitions)

	rows := readAll(t, seg.Descriptor)
	require.Len(t, rows, 1)
	assert.Equal(t, "second", *rows[0].Values[3])
}

func TestWriter_Rejections(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, testOptions())
	defer w.Close()

	nullKey := visitValues("", "h")
	nullKey[0] = nil

	longKey := visitValues(strings.Repeat("k", maxKeyLength+1), "h")

	tests := []struct {
		name   string
		values []any
	}{
		{"null key", nullKey},
		{"empty key", visitValues("", "h")},
		{"oversized key", longKey},
		{"too few values", []any{"P-1", "x"}},
		{"unsupported value", append(visitValues("P-1", "h")[:13], 42)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.AddRow(tt.values...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, bulkerr.ErrRowRejected), "got %v", err)
			assert.False(t, bulkerr.IsFatal(err))
		})
	}
	assert.Equal(t, 0, w.BufferedPartitions())
}

func TestWriter_TypedColumns(t *testing.T) {
	dir := t.TempDir()
	stmt, err := cql.Declare(
		`CREATE TABLE ks.typed (id uuid PRIMARY KEY, n int, big bigint, ok boolean, score double, at timestamp, raw blob, name ascii)`,
		`INSERT INTO ks.typed (id, n, big, ok, score, at, raw, name) VALUES (?, ?, ?, ?, ?, ?, ?, ?) USING TIMESTAMP 42`,
	)
	require.NoError(t, err)

	w, err := NewWriter(dir, stmt, partition.RandomPartitioner{}, testOptions())
	require.NoError(t, err)

	id := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	require.NoError(t, w.AddRow(id, "-7", "9000000000", "true", "1.5", "2024-03-01T12:00:00Z", "0xcafe", "plain"))

	err = w.AddRow(id, "not-a-number", "1", "true", "1", "0", "", "x")
	assert.True(t, errors.Is(err, bulkerr.ErrRowRejected))
	err = w.AddRow(id, "1", "1", "true", "1", "0", "", "café")
	assert.True(t, errors.Is(err, bulkerr.ErrRowRejected))
	err = w.AddRow("not-a-uuid", "1", "1", "true", "1", "0", "", "x")
	assert.True(t, errors.Is(err, bulkerr.ErrRowRejected))

	require.NoError(t, w.Close())

	rows := readAll(t, w.Segments()[0].Descriptor)
	require.Len(t, rows, 1)
	got := make([]string, len(rows[0].Values))
	for i, v := range rows[0].Values {
		require.NotNil(t, v)
		got[i] = *v
	}
	assert.Equal(t, []string{id, "-7", "9000000000", "true", "1.5", "2024-03-01T12:00:00Z", "0xcafe", "plain"}, got)
	assert.Equal(t, int64(42), rows[0].Timestamp)
}

func TestWriter_CompositeKey(t *testing.T) {
	dir := t.TempDir()
	stmt, err := cql.Declare(
		`CREATE TABLE ks.c (a text, b text, v text, PRIMARY KEY ((a, b)))`,
		`INSERT INTO ks.c (a, b, v) VALUES (?, ?, ?)`,
	)
	require.NoError(t, err)

	w, err := NewWriter(dir, stmt, nil, testOptions())
	require.NoError(t, err)
	require.NoError(t, w.AddRow("x", "y", "1"))
	err = w.AddRow("xy", "", "2")
	assert.True(t, errors.Is(err, bulkerr.ErrRowRejected), "empty key components are rejected")
	require.NoError(t, w.Close())

	r, err := Open(w.Segments()[0].Descriptor)
	require.NoError(t, err)
	defer r.Close()

	row, ok, err := r.Get(CompositeKey([]byte("x"), []byte("y")))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", *row.Values[2])
}

func TestWriter_RerunAddsGeneration(t *testing.T) {
	dir := t.TempDir()

	first := newTestWriter(t, dir, testOptions())
	require.NoError(t, first.AddRow(visitValues("P-1", "a")...))
	require.NoError(t, first.Close())

	before, err := os.ReadFile(first.Segments()[0].Descriptor.Filename(ComponentData))
	require.NoError(t, err)

	second := newTestWriter(t, dir, testOptions())
	require.NoError(t, second.AddRow(visitValues("P-1", "b")...))
	require.NoError(t, second.Close())

	assert.Equal(t, 2, second.Segments()[0].Descriptor.Generation)

	after, err := os.ReadFile(first.Segments()[0].Descriptor.Filename(ComponentData))
	require.NoError(t, err)
	assert.Equal(t, before, after, "first generation must not change")

	descs, err := ListSegments(dir)
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, 1, descs[0].Generation)
	assert.Equal(t, 2, descs[1].Generation)
}

func TestWriter_FlushesWhenBufferFull(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.BufferSizeMB = 1
	w := newTestWriter(t, dir, opts)

	big := strings.Repeat("u", 4096)
	for i := 0; i < 600; i++ {
		values := visitValues(fmt.Sprintf("P-%d", i), "h")
		values[11] = big
		require.NoError(t, w.AddRow(values...))
	}
	require.NoError(t, w.Close())

	segs := w.Segments()
	require.GreaterOrEqual(t, len(segs), 2)

	var total int64
	for i, s := range segs {
		assert.Equal(t, i+1, s.Descriptor.Generation)
		total += s.Rows
	}
	assert.Equal(t, int64(600), total)
}

func TestWriter_CloseWithoutRows(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, testOptions())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "close is idempotent")
	assert.Empty(t, w.Segments())

	descs, err := ListSegments(dir)
	require.NoError(t, err)
	assert.Empty(t, descs)

	assert.Error(t, w.AddRow(visitValues("P-1", "h")...))
}

func TestWriter_FlushFailure(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "visit")
	require.NoError(t, os.Mkdir(dir, 0755))

	w := newTestWriter(t, dir, testOptions())
	require.NoError(t, w.AddRow(visitValues("P-1", "h")...))

	require.NoError(t, os.RemoveAll(dir))

	err := w.Close()
	require.Error(t, err)
	assert.True(t, errors.Is(err, bulkerr.ErrFlush), "got %v", err)
	assert.Empty(t, w.Segments())
}

func TestNewWriter_Errors(t *testing.T) {
	_, err := NewWriter(filepath.Join(t.TempDir(), "missing"), visitStatement(t), nil, testOptions())
	assert.Error(t, err)

	opts := testOptions()
	opts.Compression = "lz4"
	_, err = NewWriter(t.TempDir(), visitStatement(t), nil, opts)
	assert.Error(t, err)

	_, err = NewWriter(t.TempDir(), nil, nil, testOptions())
	assert.Error(t, err)
}

func TestWriter_Compression(t *testing.T) {
	for _, kind := range []types.CompressionKind{types.CompressionSnappy, types.CompressionZstd, types.CompressionNone} {
		t.Run(string(kind), func(t *testing.T) {
			dir := t.TempDir()
			opts := testOptions()
			opts.Compression = kind
			opts.BlockSize = 512
			w := newTestWriter(t, dir, opts)

			for i := 0; i < 100; i++ {
				require.NoError(t, w.AddRow(visitValues(fmt.Sprintf("P-%d", i), strings.Repeat("x", i))...))
			}
			require.NoError(t, w.Close())

			r, err := Open(w.Segments()[0].Descriptor)
			require.NoError(t, err)
			defer r.Close()
			assert.Equal(t, kind, r.Stats().Compression)

			rows := readAll(t, w.Segments()[0].Descriptor)
			assert.Len(t, rows, 100)
		})
	}
}

func TestReader_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, testOptions())
	require.NoError(t, w.AddRow(visitValues("P-1", "h")...))
	require.NoError(t, w.Close())

	desc := w.Segments()[0].Descriptor
	path := desc.Filename(ComponentData)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[dataHeaderSize+blockHeaderSize] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	r, err := Open(desc)
	require.NoError(t, err)
	defer r.Close()
	assert.Error(t, r.Verify())
}

func TestStatistics_Recorded(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir, testOptions())
	require.NoError(t, w.AddRow(visitValues("B", "h")...))
	require.NoError(t, w.AddRow(visitValues("A", "h")...))
	require.NoError(t, w.Close())

	stats, err := ReadStatistics(w.Segments()[0].Descriptor.Filename(ComponentStatistics))
	require.NoError(t, err)

	assert.Equal(t, "whyso", stats.Keyspace)
	assert.Equal(t, "visit", stats.Table)
	assert.Equal(t, "org.apache.cassandra.dht.Murmur3Partitioner", stats.Partitioner)
	assert.Equal(t, "A", stats.Stats.MinKey)
	assert.Equal(t, "B", stats.Stats.MaxKey)
	assert.Equal(t, int64(2), stats.Stats.PartitionCount)
	assert.Len(t, stats.Columns, types.VisitColumnCount)
	require.NotNil(t, stats.BloomFilter)
	assert.Equal(t, fixedNow.Unix(), stats.CreatedAtTime().Unix())
}
