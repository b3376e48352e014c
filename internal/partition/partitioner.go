// Package partition provides the key-hashing strategies that decide the
// sort order of partitions inside a segment.
package partition

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/arkilian/csvbulkload/pkg/types"
	"github.com/spaolacci/murmur3"
)

// Partitioner maps a serialized partition key to a token.
type Partitioner interface {
	// Token computes the token for a key.
	Token(key []byte) Token

	// Kind returns the partitioner kind.
	Kind() types.PartitionerKind

	// Name returns the fully qualified partitioner name recorded in segment metadata.
	Name() string
}

// Token is a partitioner output. Tokens order partitions: two tokens from
// the same partitioner compare by their sortable byte encoding.
type Token struct {
	sortable []byte
	display  string
}

// Bytes returns the byte-comparable encoding of the token.
func (t Token) Bytes() []byte {
	return t.sortable
}

// String returns the human-readable token value.
func (t Token) String() string {
	return t.display
}

// Compare compares two tokens.
// Returns -1 if t < other, 0 if t == other, 1 if t > other.
func (t Token) Compare(other Token) int {
	return bytes.Compare(t.sortable, other.sortable)
}

// ByName resolves a configured partitioner name. Both short names
// ("murmur3") and Java-style class names ("org.apache.cassandra.dht.Murmur3Partitioner")
// are accepted; an empty name selects Murmur3.
func ByName(name string) (Partitioner, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndex(n, "."); i >= 0 {
		n = n[i+1:]
	}
	n = strings.TrimSuffix(n, "partitioner")

	switch types.PartitionerKind(n) {
	case "", types.PartitionerMurmur3:
		return Murmur3Partitioner{}, nil
	case types.PartitionerRandom:
		return RandomPartitioner{}, nil
	case types.PartitionerByteOrdered:
		return ByteOrderedPartitioner{}, nil
	default:
		return nil, fmt.Errorf("partition: unsupported partitioner %q", name)
	}
}

// Murmur3Partitioner uses the first 64 bits of MurmurHash3 x64 128 as a
// signed token. This is the default.
type Murmur3Partitioner struct{}

func (Murmur3Partitioner) Kind() types.PartitionerKind { return types.PartitionerMurmur3 }

func (Murmur3Partitioner) Name() string { return "org.apache.cassandra.dht.Murmur3Partitioner" }

// Token computes the Murmur3 token of key.
func (Murmur3Partitioner) Token(key []byte) Token {
	v := Murmur3Value(key)
	return Token{
		sortable: int64Sortable(v),
		display:  strconv.FormatInt(v, 10),
	}
}

// Murmur3Value returns the raw int64 Murmur3 token of key.
// math.MinInt64 is reserved as the ring minimum and maps to math.MaxInt64.
func Murmur3Value(key []byte) int64 {
	h1, _ := murmur3.Sum128(key)
	v := int64(h1)
	if v == math.MinInt64 {
		return math.MaxInt64
	}
	return v
}

// int64Sortable flips the sign bit so that big-endian byte order matches
// signed integer order.
func int64Sortable(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v)^(1<<63))
	return b
}

// RandomPartitioner uses the absolute value of the key's MD5 digest.
type RandomPartitioner struct{}

func (RandomPartitioner) Kind() types.PartitionerKind { return types.PartitionerRandom }

func (RandomPartitioner) Name() string { return "org.apache.cassandra.dht.RandomPartitioner" }

// Token computes the MD5-based token of key.
func (RandomPartitioner) Token(key []byte) Token {
	digest := md5.Sum(key)

	// The digest is a two's complement 128-bit integer; take its magnitude.
	v := new(big.Int).SetBytes(digest[:])
	if digest[0]&0x80 != 0 {
		v.Sub(new(big.Int).Lsh(big.NewInt(1), 128), v)
	}

	sortable := make([]byte, 16)
	v.FillBytes(sortable)
	return Token{sortable: sortable, display: v.String()}
}

// ByteOrderedPartitioner orders partitions by raw key bytes.
type ByteOrderedPartitioner struct{}

func (ByteOrderedPartitioner) Kind() types.PartitionerKind { return types.PartitionerByteOrdered }

func (ByteOrderedPartitioner) Name() string { return "org.apache.cassandra.dht.ByteOrderedPartitioner" }

// Token returns the key itself.
func (ByteOrderedPartitioner) Token(key []byte) Token {
	k := make([]byte, len(key))
	copy(k, key)
	return Token{sortable: k, display: hex.EncodeToString(key)}
}
