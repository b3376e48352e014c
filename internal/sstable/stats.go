package sstable

import (
	"bytes"

	"github.com/arkilian/csvbulkload/internal/partition"
)

// StatsTracker tracks min/max statistics while a segment is written.
// Partitions must be fed in write order.
type StatsTracker struct {
	rowCount       int64
	partitionCount int64

	minToken *partition.Token
	maxToken *partition.Token

	minKey []byte
	maxKey []byte

	minTimestamp *int64
	maxTimestamp *int64
}

// NewStatsTracker creates a new statistics tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{}
}

// Update records one partition holding rows accepted rows.
func (s *StatsTracker) Update(p *pendingPartition) {
	s.partitionCount++
	s.rowCount += p.rows

	if s.minToken == nil || p.token.Compare(*s.minToken) < 0 {
		tok := p.token
		s.minToken = &tok
	}
	if s.maxToken == nil || p.token.Compare(*s.maxToken) > 0 {
		tok := p.token
		s.maxToken = &tok
	}

	// Keys compare lexicographically, independent of token order.
	if s.minKey == nil || bytes.Compare(p.key, s.minKey) < 0 {
		s.minKey = p.key
	}
	if s.maxKey == nil || bytes.Compare(p.key, s.maxKey) > 0 {
		s.maxKey = p.key
	}

	if s.minTimestamp == nil || p.timestamp < *s.minTimestamp {
		ts := p.timestamp
		s.minTimestamp = &ts
	}
	if s.maxTimestamp == nil || p.timestamp > *s.maxTimestamp {
		ts := p.timestamp
		s.maxTimestamp = &ts
	}
}

// RowCount returns the number of rows tracked.
func (s *StatsTracker) RowCount() int64 {
	return s.rowCount
}

// PartitionCount returns the number of partitions tracked.
func (s *StatsTracker) PartitionCount() int64 {
	return s.partitionCount
}

// Snapshot returns the statistics in sidecar form.
func (s *StatsTracker) Snapshot() SegmentStats {
	stats := SegmentStats{
		RowCount:       s.rowCount,
		PartitionCount: s.partitionCount,
		MinTimestamp:   s.minTimestamp,
		MaxTimestamp:   s.maxTimestamp,
	}
	if s.minToken != nil {
		stats.MinToken = s.minToken.String()
		stats.MaxToken = s.maxToken.String()
	}
	if s.minKey != nil {
		stats.MinKey = displayKey(s.minKey)
		stats.MaxKey = displayKey(s.maxKey)
	}
	return stats
}
