package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/arkilian/csvbulkload/internal/bloom"
	"github.com/arkilian/csvbulkload/internal/cql"
	bulkerr "github.com/arkilian/csvbulkload/internal/errors"
	"github.com/arkilian/csvbulkload/internal/partition"
	"github.com/arkilian/csvbulkload/pkg/types"
)

const (
	// DefaultBufferSizeMB is the buffered data size that triggers a flush.
	DefaultBufferSizeMB = 128

	// DefaultBlockSize is the uncompressed Data block size.
	DefaultBlockSize = 64 * 1024

	// DefaultBloomFPR is the target false positive rate of the Filter component.
	DefaultBloomFPR = 0.01

	// partitionOverhead approximates per-partition bookkeeping in the buffer.
	partitionOverhead = 64
)

// Options configures a Writer.
type Options struct {
	// BufferSizeMB bounds buffered rows; exceeding it flushes a segment.
	BufferSizeMB int

	// BlockSize is the uncompressed Data block size in bytes.
	BlockSize int

	// Compression selects the Data block codec.
	Compression types.CompressionKind

	// BloomFPR is the bloom filter target false positive rate.
	BloomFPR float64

	Logger *slog.Logger

	// Now supplies write timestamps when the INSERT sets none.
	Now func() time.Time
}

// DefaultOptions returns the writer defaults.
func DefaultOptions() Options {
	return Options{
		BufferSizeMB: DefaultBufferSizeMB,
		BlockSize:    DefaultBlockSize,
		Compression:  types.CompressionSnappy,
		BloomFPR:     DefaultBloomFPR,
	}
}

// SegmentInfo describes a flushed segment.
type SegmentInfo struct {
	Descriptor    Descriptor
	Rows          int64
	Partitions    int64
	DataSizeBytes int64
	SizeBytes     int64
	MinToken      string
	MaxToken      string
	CreatedAt     time.Time
}

// pendingPartition is a buffered partition awaiting flush.
type pendingPartition struct {
	key       []byte
	token     partition.Token
	timestamp int64
	cells     [][]byte
	rows      int64
	size      int
}

// Writer buffers rows in memory and writes them as sorted segments.
// A Writer is not safe for concurrent use.
type Writer struct {
	dir         string
	stmt        *cql.Statement
	partitioner partition.Partitioner
	compressor  Compressor
	opts        Options
	logger      *slog.Logger

	buffer        map[string]*pendingPartition
	bufferedBytes int64
	bufferLimit   int64

	nextGeneration int
	segments       []SegmentInfo
	closed         bool
}

// NewWriter creates a writer that emits segments into dir, which must exist.
func NewWriter(dir string, stmt *cql.Statement, p partition.Partitioner, opts Options) (*Writer, error) {
	if stmt == nil {
		return nil, fmt.Errorf("sstable: statement is required")
	}
	if p == nil {
		p = partition.Murmur3Partitioner{}
	}

	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("sstable: output directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("sstable: %s is not a directory", dir)
	}

	if opts.BufferSizeMB <= 0 {
		opts.BufferSizeMB = DefaultBufferSizeMB
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.BloomFPR <= 0 || opts.BloomFPR >= 1 {
		opts.BloomFPR = DefaultBloomFPR
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	compressor, err := NewCompressor(opts.Compression)
	if err != nil {
		return nil, err
	}

	gen, err := MaxGeneration(dir)
	if err != nil {
		_ = compressor.Close()
		return nil, err
	}

	return &Writer{
		dir:            dir,
		stmt:           stmt,
		partitioner:    p,
		compressor:     compressor,
		opts:           opts,
		logger:         logger,
		buffer:         make(map[string]*pendingPartition),
		bufferLimit:    int64(opts.BufferSizeMB) << 20,
		nextGeneration: gen + 1,
	}, nil
}

// AddRow buffers one row. Values are in INSERT column order; nil is null.
// Rows the table cannot hold are refused with a row-rejected error. A later
// row with the same partition key replaces an earlier one.
func (w *Writer) AddRow(values ...any) error {
	if w.closed {
		return fmt.Errorf("sstable: writer is closed")
	}

	cols := w.stmt.Columns
	if len(values) != len(cols) {
		return bulkerr.NewRowRejectedError(
			fmt.Sprintf("expected %d values, got %d", len(cols), len(values)), nil)
	}

	cells := make([][]byte, len(cols))
	size := partitionOverhead
	for i, col := range cols {
		b, err := encodeValue(col.Type, values[i])
		if err != nil {
			return bulkerr.NewRowRejectedError(fmt.Sprintf("column %q", col.Name), err)
		}
		cells[i] = b
		size += len(b)
	}

	components := make([][]byte, len(w.stmt.KeyIndexes))
	for i, idx := range w.stmt.KeyIndexes {
		name := cols[idx].Name
		switch c := cells[idx]; {
		case c == nil:
			return bulkerr.NewRowRejectedError(fmt.Sprintf("partition key column %q is null", name), nil)
		case len(c) == 0:
			return bulkerr.NewRowRejectedError(fmt.Sprintf("partition key column %q is empty", name), nil)
		case len(c) > maxKeyLength:
			return bulkerr.NewRowRejectedError(
				fmt.Sprintf("partition key column %q is %d bytes, limit %d", name, len(c), maxKeyLength), nil)
		}
		components[i] = cells[idx]
	}

	key := encodePartitionKey(components)
	if len(key) > maxKeyLength {
		return bulkerr.NewRowRejectedError(
			fmt.Sprintf("partition key is %d bytes, limit %d", len(key), maxKeyLength), nil)
	}
	size += len(key)

	ts := w.opts.Now().UnixMicro()
	if w.stmt.Timestamp != nil {
		ts = *w.stmt.Timestamp
	}

	p := &pendingPartition{
		key:       key,
		token:     w.partitioner.Token(key),
		timestamp: ts,
		cells:     cells,
		rows:      1,
		size:      size,
	}
	if old, ok := w.buffer[string(key)]; ok {
		w.bufferedBytes -= int64(old.size)
		p.rows += old.rows
	}
	w.buffer[string(key)] = p
	w.bufferedBytes += int64(size)

	if w.bufferedBytes >= w.bufferLimit {
		if err := w.flush(); err != nil {
			return bulkerr.NewFlushError("failed to flush segment", err)
		}
	}
	return nil
}

// BufferedPartitions returns the number of partitions awaiting flush.
func (w *Writer) BufferedPartitions() int {
	return len(w.buffer)
}

// Segments returns the segments flushed so far.
func (w *Writer) Segments() []SegmentInfo {
	out := make([]SegmentInfo, len(w.segments))
	copy(out, w.segments)
	return out
}

// Close flushes remaining rows and releases resources. Calling Close more
// than once is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var result *multierror.Error
	if err := w.flush(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.compressor.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("sstable: failed to close compressor: %w", err))
	}

	if err := result.ErrorOrNil(); err != nil {
		return bulkerr.NewFlushError("failed to close writer", err)
	}
	return nil
}

// flush writes the buffered partitions as a new segment. The buffer is
// cleared whether or not the write succeeds.
func (w *Writer) flush() error {
	if len(w.buffer) == 0 {
		return nil
	}

	parts := make([]*pendingPartition, 0, len(w.buffer))
	for _, p := range w.buffer {
		parts = append(parts, p)
	}
	w.buffer = make(map[string]*pendingPartition)
	w.bufferedBytes = 0

	sort.Slice(parts, func(i, j int) bool {
		if c := parts[i].token.Compare(parts[j].token); c != 0 {
			return c < 0
		}
		return bytes.Compare(parts[i].key, parts[j].key) < 0
	})

	// Another writer may have claimed generations since this one started.
	gen, err := MaxGeneration(w.dir)
	if err != nil {
		return err
	}
	if gen+1 > w.nextGeneration {
		w.nextGeneration = gen + 1
	}
	desc := NewDescriptor(w.dir, w.nextGeneration)
	w.nextGeneration++

	info, err := w.writeSegment(desc, parts)
	if err != nil {
		w.removeTemp(desc)
		return fmt.Errorf("sstable: failed to write segment %s: %w", desc, err)
	}

	w.segments = append(w.segments, *info)
	w.logger.Info("segment flushed",
		"descriptor", desc.String(),
		"partitions", info.Partitions,
		"rows", info.Rows,
		"size_bytes", info.SizeBytes,
		"min_token", info.MinToken,
		"max_token", info.MaxToken,
	)
	return nil
}

func (w *Writer) writeSegment(desc Descriptor, parts []*pendingPartition) (*SegmentInfo, error) {
	filter := bloom.NewWithEstimates(len(parts), w.opts.BloomFPR)
	tracker := NewStatsTracker()

	index, blockCount, digest, err := w.writeData(desc, parts, filter, tracker)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(desc.TempFilename(ComponentIndex), encodeIndex(index), 0644); err != nil {
		return nil, fmt.Errorf("failed to write index: %w", err)
	}

	filterData, err := filter.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize bloom filter: %w", err)
	}
	if err := os.WriteFile(desc.TempFilename(ComponentFilter), filterData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write filter: %w", err)
	}

	dataInfo, err := os.Stat(desc.TempFilename(ComponentData))
	if err != nil {
		return nil, err
	}

	createdAt := w.opts.Now()
	stats := &Statistics{
		Descriptor:  desc.String(),
		Keyspace:    w.stmt.Schema.Keyspace,
		Table:       w.stmt.Schema.Table,
		Partitioner: w.partitioner.Name(),
		Compression: w.compressor.Kind(),
		BlockSize:   w.opts.BlockSize,
		BlockCount:  blockCount,
		Stats:       tracker.Snapshot(),
		Schema:      w.stmt.Schema,
		Columns:     w.stmt.Columns,
		BloomFilter: &BloomFilterMeta{
			Algorithm:         "murmur3_128",
			NumBits:           filter.NumBits(),
			NumHashes:         filter.NumHashes(),
			FalsePositiveRate: filter.FalsePositiveRate(),
		},
		CreatedAt: createdAt.Unix(),
	}
	stats.Stats.DataSizeBytes = dataInfo.Size()
	if err := stats.WriteToFile(desc.TempFilename(ComponentStatistics)); err != nil {
		return nil, err
	}

	if err := os.WriteFile(desc.TempFilename(ComponentDigest), []byte(strconv.FormatUint(uint64(digest), 10)), 0644); err != nil {
		return nil, fmt.Errorf("failed to write digest: %w", err)
	}

	names := make([]string, len(AllComponents))
	for i, c := range AllComponents {
		names[i] = string(c)
	}
	if err := os.WriteFile(desc.TempFilename(ComponentTOC), []byte(strings.Join(names, "\n")+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("failed to write TOC: %w", err)
	}

	var total int64
	for _, c := range AllComponents {
		if err := os.Rename(desc.TempFilename(c), desc.Filename(c)); err != nil {
			return nil, fmt.Errorf("failed to rename %s: %w", c, err)
		}
		if fi, err := os.Stat(desc.Filename(c)); err == nil {
			total += fi.Size()
		}
	}

	return &SegmentInfo{
		Descriptor:    desc,
		Rows:          tracker.RowCount(),
		Partitions:    tracker.PartitionCount(),
		DataSizeBytes: dataInfo.Size(),
		SizeBytes:     total,
		MinToken:      stats.Stats.MinToken,
		MaxToken:      stats.Stats.MaxToken,
		CreatedAt:     createdAt,
	}, nil
}

// writeData writes the Data component and returns its index entries, block
// count and whole-file CRC32.
func (w *Writer) writeData(desc Descriptor, parts []*pendingPartition, filter *bloom.Filter, tracker *StatsTracker) ([]indexEntry, int, uint32, error) {
	f, err := os.OpenFile(desc.TempFilename(ComponentData), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to create data file: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = f.Close()
		}
	}()

	crc := crc32.NewIEEE()
	bw := bufio.NewWriterSize(io.MultiWriter(f, crc), 256*1024)

	if _, err := bw.Write(encodeDataHeader(w.compressor.ID())); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to write data header: %w", err)
	}
	offset := uint64(dataHeaderSize)

	index := make([]indexEntry, 0, len(parts))
	block := make([]byte, 0, w.opts.BlockSize)
	blockCount := 0

	writeBlock := func() error {
		if len(block) == 0 {
			return nil
		}
		payload, err := w.compressor.Compress(block)
		if err != nil {
			return fmt.Errorf("failed to compress block %d: %w", blockCount, err)
		}
		var hdr [blockHeaderSize]byte
		binary.BigEndian.PutUint32(hdr[0:4], uint32(len(block)))
		binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
		binary.BigEndian.PutUint32(hdr[8:12], crc32.ChecksumIEEE(payload))
		if _, err := bw.Write(hdr[:]); err != nil {
			return fmt.Errorf("failed to write block %d: %w", blockCount, err)
		}
		if _, err := bw.Write(payload); err != nil {
			return fmt.Errorf("failed to write block %d: %w", blockCount, err)
		}
		offset += uint64(blockHeaderSize + len(payload))
		blockCount++
		block = block[:0]
		return nil
	}

	for _, p := range parts {
		if len(block) > 0 && len(block)+partitionSize(p) > w.opts.BlockSize {
			if err := writeBlock(); err != nil {
				return nil, 0, 0, err
			}
		}
		index = append(index, indexEntry{
			key:           p.key,
			blockOffset:   offset,
			offsetInBlock: uint32(len(block)),
		})
		block = appendPartition(block, p)
		filter.Add(p.key)
		tracker.Update(p)
	}
	if err := writeBlock(); err != nil {
		return nil, 0, 0, err
	}

	if _, err := bw.Write(encodeDataFooter(blockCount)); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to write data footer: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to flush data file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to sync data file: %w", err)
	}
	closed = true
	if err := f.Close(); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to close data file: %w", err)
	}

	return index, blockCount, crc.Sum32(), nil
}

func (w *Writer) removeTemp(desc Descriptor) {
	for _, c := range AllComponents {
		if err := os.Remove(desc.TempFilename(c)); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove temporary component", "path", desc.TempFilename(c), "error", err)
		}
	}
}
