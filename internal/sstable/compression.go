package sstable

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/arkilian/csvbulkload/pkg/types"
)

// Compressor compresses Data component blocks.
type Compressor interface {
	Kind() types.CompressionKind
	ID() byte
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte, rawLen int) ([]byte, error)
	Close() error
}

// Compression IDs stored in the Data component header.
const (
	compressionIDNone   byte = 0
	compressionIDSnappy byte = 1
	compressionIDZstd   byte = 2
)

// NewCompressor returns the compressor for kind. An empty kind selects snappy.
func NewCompressor(kind types.CompressionKind) (Compressor, error) {
	switch kind {
	case "", types.CompressionSnappy:
		return snappyCompressor{}, nil
	case types.CompressionZstd:
		return newZstdCompressor()
	case types.CompressionNone:
		return noneCompressor{}, nil
	default:
		return nil, fmt.Errorf("sstable: unsupported compression %q", kind)
	}
}

// compressorByID returns the compressor recorded in a Data header.
func compressorByID(id byte) (Compressor, error) {
	switch id {
	case compressionIDNone:
		return noneCompressor{}, nil
	case compressionIDSnappy:
		return snappyCompressor{}, nil
	case compressionIDZstd:
		return newZstdCompressor()
	default:
		return nil, fmt.Errorf("sstable: unknown compression id %d", id)
	}
}

type noneCompressor struct{}

func (noneCompressor) Kind() types.CompressionKind { return types.CompressionNone }
func (noneCompressor) ID() byte                    { return compressionIDNone }
func (noneCompressor) Close() error                { return nil }

func (noneCompressor) Compress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (noneCompressor) Decompress(src []byte, rawLen int) ([]byte, error) {
	if len(src) != rawLen {
		return nil, fmt.Errorf("sstable: block length %d, expected %d", len(src), rawLen)
	}
	return src, nil
}

type snappyCompressor struct{}

func (snappyCompressor) Kind() types.CompressionKind { return types.CompressionSnappy }
func (snappyCompressor) ID() byte                    { return compressionIDSnappy }
func (snappyCompressor) Close() error                { return nil }

func (snappyCompressor) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCompressor) Decompress(src []byte, rawLen int) ([]byte, error) {
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("sstable: snappy decode failed: %w", err)
	}
	if len(out) != rawLen {
		return nil, fmt.Errorf("sstable: block decoded to %d bytes, expected %d", len(out), rawLen)
	}
	return out, nil
}

type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCompressor() (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("sstable: failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("sstable: failed to create zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (*zstdCompressor) Kind() types.CompressionKind { return types.CompressionZstd }
func (*zstdCompressor) ID() byte                    { return compressionIDZstd }

func (z *zstdCompressor) Compress(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, nil), nil
}

func (z *zstdCompressor) Decompress(src []byte, rawLen int) ([]byte, error) {
	out, err := z.dec.DecodeAll(src, make([]byte, 0, rawLen))
	if err != nil {
		return nil, fmt.Errorf("sstable: zstd decode failed: %w", err)
	}
	if len(out) != rawLen {
		return nil, fmt.Errorf("sstable: block decoded to %d bytes, expected %d", len(out), rawLen)
	}
	return out, nil
}

func (z *zstdCompressor) Close() error {
	z.dec.Close()
	return z.enc.Close()
}
