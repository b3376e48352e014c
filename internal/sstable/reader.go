package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/arkilian/csvbulkload/internal/bloom"
	"github.com/arkilian/csvbulkload/internal/partition"
)

// Row is a partition read back from a segment.
type Row struct {
	Key       []byte
	Token     string
	Timestamp int64

	// Values are the cells rendered as text in column order; nil is null.
	Values []*string
}

// Reader reads a complete segment.
type Reader struct {
	desc        Descriptor
	stats       *Statistics
	filter      *bloom.Filter
	index       []indexEntry
	partitioner partition.Partitioner
	compressor  Compressor
	data        *os.File
	dataSize    int64
	blockCount  int
}

// Open opens the segment described by desc. The segment must be complete.
func Open(desc Descriptor) (*Reader, error) {
	toc, err := os.ReadFile(desc.Filename(ComponentTOC))
	if err != nil {
		return nil, fmt.Errorf("sstable: segment %s is incomplete: %w", desc, err)
	}
	listed := make(map[Component]bool)
	for _, line := range strings.Split(strings.TrimSpace(string(toc)), "\n") {
		listed[Component(strings.TrimSpace(line))] = true
	}
	for _, c := range AllComponents {
		if !listed[c] {
			return nil, fmt.Errorf("%w: TOC of %s does not list %s", errCorrupt, desc, c)
		}
	}

	stats, err := ReadStatistics(desc.Filename(ComponentStatistics))
	if err != nil {
		return nil, err
	}
	p, err := partition.ByName(stats.Partitioner)
	if err != nil {
		return nil, err
	}

	filterData, err := os.ReadFile(desc.Filename(ComponentFilter))
	if err != nil {
		return nil, fmt.Errorf("sstable: failed to read filter: %w", err)
	}
	filter, err := bloom.Unmarshal(filterData)
	if err != nil {
		return nil, err
	}

	indexData, err := os.ReadFile(desc.Filename(ComponentIndex))
	if err != nil {
		return nil, fmt.Errorf("sstable: failed to read index: %w", err)
	}
	index, err := decodeIndex(indexData)
	if err != nil {
		return nil, err
	}

	data, err := os.Open(desc.Filename(ComponentData))
	if err != nil {
		return nil, fmt.Errorf("sstable: failed to open data: %w", err)
	}

	r := &Reader{
		desc:        desc,
		stats:       stats,
		filter:      filter,
		index:       index,
		partitioner: p,
		data:        data,
	}
	if err := r.readFrame(); err != nil {
		_ = data.Close()
		return nil, err
	}
	return r, nil
}

// readFrame validates the Data header and footer.
func (r *Reader) readFrame() error {
	fi, err := r.data.Stat()
	if err != nil {
		return fmt.Errorf("sstable: failed to stat data: %w", err)
	}
	r.dataSize = fi.Size()
	if r.dataSize < dataHeaderSize+dataFooterSize {
		return fmt.Errorf("%w: data component too short", errCorrupt)
	}

	header := make([]byte, dataHeaderSize)
	if _, err := r.data.ReadAt(header, 0); err != nil {
		return fmt.Errorf("sstable: failed to read data header: %w", err)
	}
	id, err := decodeDataHeader(header)
	if err != nil {
		return err
	}
	r.compressor, err = compressorByID(id)
	if err != nil {
		return err
	}

	footer := make([]byte, dataFooterSize)
	if _, err := r.data.ReadAt(footer, r.dataSize-dataFooterSize); err != nil {
		return fmt.Errorf("sstable: failed to read data footer: %w", err)
	}
	r.blockCount, err = decodeDataFooter(footer)
	return err
}

// Descriptor returns the segment descriptor.
func (r *Reader) Descriptor() Descriptor {
	return r.desc
}

// Stats returns the segment's Statistics component.
func (r *Reader) Stats() *Statistics {
	return r.stats
}

// Verify checks the whole-file digest and every block checksum.
func (r *Reader) Verify() error {
	want, err := os.ReadFile(r.desc.Filename(ComponentDigest))
	if err != nil {
		return fmt.Errorf("sstable: failed to read digest: %w", err)
	}
	expected, err := strconv.ParseUint(strings.TrimSpace(string(want)), 10, 32)
	if err != nil {
		return fmt.Errorf("%w: malformed digest", errCorrupt)
	}

	crc := crc32.NewIEEE()
	if _, err := io.Copy(crc, io.NewSectionReader(r.data, 0, r.dataSize)); err != nil {
		return fmt.Errorf("sstable: failed to read data: %w", err)
	}
	if crc.Sum32() != uint32(expected) {
		return fmt.Errorf("%w: digest mismatch for %s", errCorrupt, r.desc)
	}

	return r.eachBlock(func(uint64, []byte) error { return nil })
}

// eachBlock decompresses every block in order.
func (r *Reader) eachBlock(fn func(offset uint64, raw []byte) error) error {
	br := bufio.NewReader(io.NewSectionReader(r.data, dataHeaderSize, r.dataSize-dataHeaderSize-dataFooterSize))
	offset := uint64(dataHeaderSize)

	for i := 0; i < r.blockCount; i++ {
		raw, n, err := r.readBlock(br)
		if err != nil {
			return fmt.Errorf("sstable: block %d: %w", i, err)
		}
		if err := fn(offset, raw); err != nil {
			return err
		}
		offset += uint64(n)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return fmt.Errorf("%w: trailing data after %d blocks", errCorrupt, r.blockCount)
	}
	return nil
}

// readBlock reads one block from br and returns the raw payload and the
// number of bytes consumed.
func (r *Reader) readBlock(br io.Reader) ([]byte, int, error) {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: truncated block header", errCorrupt)
	}
	rawLen := int(binary.BigEndian.Uint32(hdr[0:4]))
	compLen := int(binary.BigEndian.Uint32(hdr[4:8]))
	sum := binary.BigEndian.Uint32(hdr[8:12])

	payload := make([]byte, compLen)
	if _, err := io.ReadFull(br, payload); err != nil {
		return nil, 0, fmt.Errorf("%w: truncated block", errCorrupt)
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, 0, fmt.Errorf("%w: block checksum mismatch", errCorrupt)
	}

	raw, err := r.compressor.Decompress(payload, rawLen)
	if err != nil {
		return nil, 0, err
	}
	return raw, blockHeaderSize + compLen, nil
}

// Scan calls fn for every partition in token order.
func (r *Reader) Scan(fn func(Row) error) error {
	return r.eachBlock(func(_ uint64, raw []byte) error {
		for pos := 0; pos < len(raw); {
			p, n, err := decodePartition(raw[pos:])
			if err != nil {
				return err
			}
			pos += n
			if err := fn(r.toRow(p)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get looks up a partition by serialized key. The bloom filter is consulted
// before the index.
func (r *Reader) Get(key []byte) (*Row, bool, error) {
	if !r.filter.MayContain(key) {
		return nil, false, nil
	}

	var entry *indexEntry
	for i := range r.index {
		if bytes.Equal(r.index[i].key, key) {
			entry = &r.index[i]
			break
		}
	}
	if entry == nil {
		return nil, false, nil
	}

	section := io.NewSectionReader(r.data, int64(entry.blockOffset), r.dataSize-dataFooterSize-int64(entry.blockOffset))
	raw, _, err := r.readBlock(section)
	if err != nil {
		return nil, false, err
	}
	if int(entry.offsetInBlock) >= len(raw) {
		return nil, false, fmt.Errorf("%w: index offset beyond block", errCorrupt)
	}
	p, _, err := decodePartition(raw[entry.offsetInBlock:])
	if err != nil {
		return nil, false, err
	}
	if !bytes.Equal(p.key, key) {
		return nil, false, fmt.Errorf("%w: index points at the wrong partition", errCorrupt)
	}

	row := r.toRow(p)
	return &row, true, nil
}

// MayContain reports whether the bloom filter admits key.
func (r *Reader) MayContain(key []byte) bool {
	return r.filter.MayContain(key)
}

// Keys returns the partition keys in index order.
func (r *Reader) Keys() [][]byte {
	keys := make([][]byte, len(r.index))
	for i, e := range r.index {
		keys[i] = e.key
	}
	return keys
}

func (r *Reader) toRow(p decodedPartition) Row {
	key := make([]byte, len(p.key))
	copy(key, p.key)

	row := Row{
		Key:       key,
		Token:     r.partitioner.Token(key).String(),
		Timestamp: p.timestamp,
		Values:    make([]*string, len(p.cells)),
	}
	for i, c := range p.cells {
		if c == nil {
			continue
		}
		var v string
		if i < len(r.stats.Columns) {
			v = FormatValue(r.stats.Columns[i].Type, c)
		} else {
			v = string(c)
		}
		row.Values[i] = &v
	}
	return row
}

// Close closes the Data component.
func (r *Reader) Close() error {
	if r.compressor != nil {
		_ = r.compressor.Close()
	}
	return r.data.Close()
}
