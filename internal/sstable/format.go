package sstable

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Data component layout:
//
//	header:  magic u32 | version u16 | compression u8
//	blocks:  rawLen u32 | compLen u32 | crc32(payload) u32 | payload
//	footer:  blockCount u32 | magic u32
//
// A decompressed block is a run of partitions. A partition never spans
// blocks:
//
//	keyLen u16 | key | timestamp u64 | cellCount u16 | cells
//	cell:    column u16 | flags u8 | valueLen u32 | value
//
// Index component layout:
//
//	magic u32 | entryCount u32 | entries
//	entry:   keyLen u16 | key | blockOffset u64 | offsetInBlock u32
const (
	dataMagic  uint32 = 0x424c4b44 // "BLKD"
	indexMagic uint32 = 0x424c4b49 // "BLKI"

	dataFormatVersion uint16 = 1

	dataHeaderSize  = 7
	blockHeaderSize = 12
	dataFooterSize  = 8
	indexHeaderSize = 8

	cellFlagNull byte = 0x01
)

var errCorrupt = errors.New("sstable: corrupt segment")

func encodeDataHeader(compressionID byte) []byte {
	b := make([]byte, dataHeaderSize)
	binary.BigEndian.PutUint32(b[0:4], dataMagic)
	binary.BigEndian.PutUint16(b[4:6], dataFormatVersion)
	b[6] = compressionID
	return b
}

func decodeDataHeader(b []byte) (compressionID byte, err error) {
	if len(b) < dataHeaderSize {
		return 0, fmt.Errorf("%w: data header too short", errCorrupt)
	}
	if binary.BigEndian.Uint32(b[0:4]) != dataMagic {
		return 0, fmt.Errorf("%w: bad data magic", errCorrupt)
	}
	if v := binary.BigEndian.Uint16(b[4:6]); v != dataFormatVersion {
		return 0, fmt.Errorf("%w: unsupported data version %d", errCorrupt, v)
	}
	return b[6], nil
}

func encodeDataFooter(blockCount int) []byte {
	b := make([]byte, dataFooterSize)
	binary.BigEndian.PutUint32(b[0:4], uint32(blockCount))
	binary.BigEndian.PutUint32(b[4:8], dataMagic)
	return b
}

func decodeDataFooter(b []byte) (int, error) {
	if len(b) != dataFooterSize || binary.BigEndian.Uint32(b[4:8]) != dataMagic {
		return 0, fmt.Errorf("%w: bad data footer", errCorrupt)
	}
	return int(binary.BigEndian.Uint32(b[0:4])), nil
}

// partitionSize returns the encoded size of a partition.
func partitionSize(p *pendingPartition) int {
	n := 2 + len(p.key) + 8 + 2
	for _, c := range p.cells {
		n += 7 + len(c)
	}
	return n
}

func appendPartition(dst []byte, p *pendingPartition) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(p.key)))
	dst = append(dst, p.key...)
	dst = binary.BigEndian.AppendUint64(dst, uint64(p.timestamp))
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(p.cells)))
	for i, c := range p.cells {
		dst = binary.BigEndian.AppendUint16(dst, uint16(i))
		if c == nil {
			dst = append(dst, cellFlagNull)
			dst = binary.BigEndian.AppendUint32(dst, 0)
			continue
		}
		dst = append(dst, 0)
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(c)))
		dst = append(dst, c...)
	}
	return dst
}

// decodedPartition is a partition read back from a block.
type decodedPartition struct {
	key       []byte
	timestamp int64
	cells     [][]byte
}

// decodePartition decodes the partition at the start of b and returns the
// number of bytes consumed.
func decodePartition(b []byte) (decodedPartition, int, error) {
	var p decodedPartition
	pos := 0

	need := func(n int) error {
		if len(b)-pos < n {
			return fmt.Errorf("%w: truncated partition", errCorrupt)
		}
		return nil
	}

	if err := need(2); err != nil {
		return p, 0, err
	}
	keyLen := int(binary.BigEndian.Uint16(b[pos:]))
	pos += 2
	if err := need(keyLen + 10); err != nil {
		return p, 0, err
	}
	p.key = b[pos : pos+keyLen]
	pos += keyLen
	p.timestamp = int64(binary.BigEndian.Uint64(b[pos:]))
	pos += 8
	cellCount := int(binary.BigEndian.Uint16(b[pos:]))
	pos += 2

	p.cells = make([][]byte, cellCount)
	for i := 0; i < cellCount; i++ {
		if err := need(7); err != nil {
			return p, 0, err
		}
		col := int(binary.BigEndian.Uint16(b[pos:]))
		flags := b[pos+2]
		valueLen := int(binary.BigEndian.Uint32(b[pos+3:]))
		pos += 7
		if col >= cellCount {
			return p, 0, fmt.Errorf("%w: cell column %d out of range", errCorrupt, col)
		}
		if flags&cellFlagNull != 0 {
			continue
		}
		if err := need(valueLen); err != nil {
			return p, 0, err
		}
		p.cells[col] = b[pos : pos+valueLen]
		pos += valueLen
	}

	return p, pos, nil
}

// indexEntry locates a partition in the Data component.
type indexEntry struct {
	key           []byte
	blockOffset   uint64
	offsetInBlock uint32
}

func appendIndexEntry(dst []byte, e indexEntry) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(e.key)))
	dst = append(dst, e.key...)
	dst = binary.BigEndian.AppendUint64(dst, e.blockOffset)
	dst = binary.BigEndian.AppendUint32(dst, e.offsetInBlock)
	return dst
}

func encodeIndex(entries []indexEntry) []byte {
	size := indexHeaderSize
	for _, e := range entries {
		size += 14 + len(e.key)
	}
	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint32(out, indexMagic)
	out = binary.BigEndian.AppendUint32(out, uint32(len(entries)))
	for _, e := range entries {
		out = appendIndexEntry(out, e)
	}
	return out
}

func decodeIndex(b []byte) ([]indexEntry, error) {
	if len(b) < indexHeaderSize || binary.BigEndian.Uint32(b[0:4]) != indexMagic {
		return nil, fmt.Errorf("%w: bad index header", errCorrupt)
	}
	count := int(binary.BigEndian.Uint32(b[4:8]))
	pos := indexHeaderSize

	entries := make([]indexEntry, 0, count)
	for i := 0; i < count; i++ {
		if len(b)-pos < 2 {
			return nil, fmt.Errorf("%w: truncated index", errCorrupt)
		}
		keyLen := int(binary.BigEndian.Uint16(b[pos:]))
		pos += 2
		if len(b)-pos < keyLen+12 {
			return nil, fmt.Errorf("%w: truncated index", errCorrupt)
		}
		e := indexEntry{key: b[pos : pos+keyLen]}
		pos += keyLen
		e.blockOffset = binary.BigEndian.Uint64(b[pos:])
		e.offsetInBlock = binary.BigEndian.Uint32(b[pos+8:])
		pos += 12
		entries = append(entries, e)
	}
	if pos != len(b) {
		return nil, fmt.Errorf("%w: trailing index bytes", errCorrupt)
	}
	return entries, nil
}
