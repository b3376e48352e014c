package sstable

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/arkilian/csvbulkload/pkg/types"
)

// Statistics is the Statistics.json component of a segment.
type Statistics struct {
	Descriptor  string                `json:"descriptor"`
	Keyspace    string                `json:"keyspace"`
	Table       string                `json:"table"`
	Partitioner string                `json:"partitioner"`
	Compression types.CompressionKind `json:"compression"`
	BlockSize   int                   `json:"block_size"`
	BlockCount  int                   `json:"block_count"`
	Stats       SegmentStats          `json:"stats"`
	Schema      types.TableSchema     `json:"schema"`

	// Columns are the cell columns in cell-index order.
	Columns []types.ColumnDef `json:"columns"`

	BloomFilter *BloomFilterMeta `json:"bloom_filter,omitempty"`
	CreatedAt   int64            `json:"created_at"`
}

// SegmentStats holds segment-level statistics.
type SegmentStats struct {
	RowCount       int64  `json:"row_count"`
	PartitionCount int64  `json:"partition_count"`
	DataSizeBytes  int64  `json:"data_size_bytes"`
	MinToken       string `json:"min_token,omitempty"`
	MaxToken       string `json:"max_token,omitempty"`
	MinKey         string `json:"min_key,omitempty"`
	MaxKey         string `json:"max_key,omitempty"`
	MinTimestamp   *int64 `json:"min_timestamp,omitempty"`
	MaxTimestamp   *int64 `json:"max_timestamp,omitempty"`
}

// BloomFilterMeta describes the Filter component.
type BloomFilterMeta struct {
	Algorithm         string  `json:"algorithm"`
	NumBits           int     `json:"num_bits"`
	NumHashes         int     `json:"num_hashes"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
}

// WriteToFile writes the statistics as indented JSON.
func (s *Statistics) WriteToFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("sstable: failed to marshal statistics: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("sstable: failed to write statistics file: %w", err)
	}

	return nil
}

// ReadStatistics reads a Statistics component.
func ReadStatistics(path string) (*Statistics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: failed to read statistics file: %w", err)
	}

	var stats Statistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("sstable: failed to unmarshal statistics: %w", err)
	}

	return &stats, nil
}

// CreatedAtTime returns the creation time as time.Time.
func (s *Statistics) CreatedAtTime() time.Time {
	return time.Unix(s.CreatedAt, 0)
}

// displayKey renders a partition key as text when it is valid UTF-8 and hex
// otherwise.
func displayKey(key []byte) string {
	if utf8.Valid(key) {
		return string(key)
	}
	return "0x" + hex.EncodeToString(key)
}
