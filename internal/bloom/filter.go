// Package bloom provides the partition-key bloom filter stored in a
// segment's Filter component.
package bloom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
)

// filterMagic prefixes a serialized filter ("BLMF").
const filterMagic = 0x424c4d46

// headerSize is magic (4) + numHashes (4) + numBits (8) + count (8).
const headerSize = 24

// Filter provides probabilistic membership testing for partition keys.
// It guarantees no false negatives: a key that was added always tests present.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a filter with the given number of bits and hash functions.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates sizes a filter for the expected number of keys and
// target false positive rate.
func NewWithEstimates(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := OptimalParameters(expectedItems, targetFPR)
	return New(numBits, numHashes)
}

// OptimalParameters calculates the bit count and hash count for n items at
// false positive rate p:
//   - m = -n * ln(p) / (ln(2)^2)
//   - k = (m/n) * ln(2)
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil((m / n) * math.Ln2))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add adds a key to the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := murmur3.Sum128(key)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// MayContain reports whether key might have been added.
func (f *Filter) MayContain(key []byte) bool {
	h1, h2 := murmur3.Sum128(key)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// NumBits returns the number of bits in the filter.
func (f *Filter) NumBits() int { return int(f.numBits) }

// NumHashes returns the number of hash functions used.
func (f *Filter) NumHashes() int { return int(f.numHashes) }

// Count returns the number of keys added.
func (f *Filter) Count() uint64 { return f.count }

// FalsePositiveRate estimates the current false positive rate:
// (1 - e^(-k*n/m))^k
func (f *Filter) FalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

// MarshalBinary encodes the filter as
// magic | numHashes | numBits | count | bit words, all big-endian.
func (f *Filter) MarshalBinary() ([]byte, error) {
	buf := make([]byte, headerSize+len(f.bits)*8)
	binary.BigEndian.PutUint32(buf[0:4], filterMagic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(f.numHashes))
	binary.BigEndian.PutUint64(buf[8:16], f.numBits)
	binary.BigEndian.PutUint64(buf[16:24], f.count)
	for i, word := range f.bits {
		off := headerSize + i*8
		binary.BigEndian.PutUint64(buf[off:off+8], word)
	}
	return buf, nil
}

// Unmarshal reconstructs a filter from MarshalBinary output.
func Unmarshal(data []byte) (*Filter, error) {
	if len(data) < headerSize {
		return nil, errors.New("bloom: serialized filter too short")
	}
	if binary.BigEndian.Uint32(data[0:4]) != filterMagic {
		return nil, errors.New("bloom: bad filter magic")
	}

	numHashes := uint64(binary.BigEndian.Uint32(data[4:8]))
	numBits := binary.BigEndian.Uint64(data[8:16])
	count := binary.BigEndian.Uint64(data[16:24])
	if numBits == 0 || numBits%64 != 0 || numHashes == 0 {
		return nil, fmt.Errorf("bloom: invalid filter parameters bits=%d hashes=%d", numBits, numHashes)
	}

	numWords := numBits / 64
	if uint64(len(data)-headerSize) != numWords*8 {
		return nil, fmt.Errorf("bloom: expected %d bytes of bits, got %d", numWords*8, len(data)-headerSize)
	}

	bits := make([]uint64, numWords)
	for i := range bits {
		off := headerSize + i*8
		bits[i] = binary.BigEndian.Uint64(data[off : off+8])
	}

	return &Filter{bits: bits, numBits: numBits, numHashes: numHashes, count: count}, nil
}
