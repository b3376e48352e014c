package sstable

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/arkilian/csvbulkload/pkg/types"
)

// maxKeyLength is the largest serialized partition key a segment can hold.
const maxKeyLength = math.MaxUint16

var errNotConvertible = errors.New("value not convertible to column type")

// encodeValue serializes v for a column. A nil v is a null cell and encodes
// to nil. Strings are parsed according to the column type.
func encodeValue(t types.ColumnType, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if p, ok := v.(*string); ok {
		if p == nil {
			return nil, nil
		}
		v = *p
	}

	switch t {
	case types.TypeText, types.TypeVarchar:
		s, err := asText(v)
		if err != nil {
			return nil, err
		}
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("%w: invalid UTF-8", errNotConvertible)
		}
		return nonNil(s), nil

	case types.TypeASCII:
		s, err := asText(v)
		if err != nil {
			return nil, err
		}
		for i := 0; i < len(s); i++ {
			if s[i] >= utf8.RuneSelf {
				return nil, fmt.Errorf("%w: non-ASCII byte at %d", errNotConvertible, i)
			}
		}
		return nonNil(s), nil

	case types.TypeInt:
		n, err := asInt(v, 32)
		if err != nil {
			return nil, err
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(int32(n)))
		return b, nil

	case types.TypeBigint:
		n, err := asInt(v, 64)
		if err != nil {
			return nil, err
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(n))
		return b, nil

	case types.TypeBoolean:
		var bv bool
		switch x := v.(type) {
		case bool:
			bv = x
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a boolean", errNotConvertible, x)
			}
			bv = parsed
		default:
			return nil, fmt.Errorf("%w: %T for boolean", errNotConvertible, v)
		}
		if bv {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case types.TypeDouble:
		f, err := asFloat(v, 64)
		if err != nil {
			return nil, err
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, math.Float64bits(f))
		return b, nil

	case types.TypeFloat:
		f, err := asFloat(v, 32)
		if err != nil {
			return nil, err
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, math.Float32bits(float32(f)))
		return b, nil

	case types.TypeTimestamp:
		ms, err := asTimestamp(v)
		if err != nil {
			return nil, err
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(ms))
		return b, nil

	case types.TypeUUID:
		var id uuid.UUID
		switch x := v.(type) {
		case uuid.UUID:
			id = x
		case string:
			parsed, err := uuid.Parse(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errNotConvertible, err)
			}
			id = parsed
		default:
			return nil, fmt.Errorf("%w: %T for uuid", errNotConvertible, v)
		}
		b := make([]byte, 16)
		copy(b, id[:])
		return b, nil

	case types.TypeBlob:
		switch x := v.(type) {
		case []byte:
			return nonNil(string(x)), nil
		case string:
			h := strings.TrimPrefix(strings.TrimPrefix(x, "0x"), "0X")
			b, err := hex.DecodeString(h)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errNotConvertible, err)
			}
			return nonNil(string(b)), nil
		default:
			return nil, fmt.Errorf("%w: %T for blob", errNotConvertible, v)
		}
	}

	return nil, fmt.Errorf("%w: unknown column type %q", errNotConvertible, t)
}

// nonNil copies s into a non-nil slice so an empty value stays distinct
// from a null cell.
func nonNil(s string) []byte {
	return append(make([]byte, 0, len(s)), s...)
}

func asText(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return "", fmt.Errorf("%w: %T for text", errNotConvertible, v)
	}
}

func asInt(v any, bits int) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(x), 10, bits)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", errNotConvertible, x)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("%w: %T for integer", errNotConvertible, v)
	}
	if bits == 32 && (n < math.MinInt32 || n > math.MaxInt32) {
		return 0, fmt.Errorf("%w: %d overflows int", errNotConvertible, n)
	}
	return n, nil
}

func asFloat(v any, bits int) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), bits)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", errNotConvertible, x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T for floating point", errNotConvertible, v)
	}
}

// asTimestamp returns milliseconds since the Unix epoch. Strings may be
// integer milliseconds or RFC 3339.
func asTimestamp(v any) (int64, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UnixMilli(), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ms, nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UnixMilli(), nil
			}
		}
		return 0, fmt.Errorf("%w: %q is not a timestamp", errNotConvertible, x)
	default:
		return 0, fmt.Errorf("%w: %T for timestamp", errNotConvertible, v)
	}
}

// FormatValue renders a serialized cell for display. Null cells are not
// passed here.
func FormatValue(t types.ColumnType, b []byte) string {
	switch t {
	case types.TypeInt:
		if len(b) == 4 {
			return strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(b))), 10)
		}
	case types.TypeBigint:
		if len(b) == 8 {
			return strconv.FormatInt(int64(binary.BigEndian.Uint64(b)), 10)
		}
	case types.TypeBoolean:
		if len(b) == 1 {
			return strconv.FormatBool(b[0] != 0)
		}
	case types.TypeDouble:
		if len(b) == 8 {
			return strconv.FormatFloat(math.Float64frombits(binary.BigEndian.Uint64(b)), 'g', -1, 64)
		}
	case types.TypeFloat:
		if len(b) == 4 {
			return strconv.FormatFloat(float64(math.Float32frombits(binary.BigEndian.Uint32(b))), 'g', -1, 32)
		}
	case types.TypeTimestamp:
		if len(b) == 8 {
			return time.UnixMilli(int64(binary.BigEndian.Uint64(b))).UTC().Format(time.RFC3339Nano)
		}
	case types.TypeUUID:
		if id, err := uuid.FromBytes(b); err == nil {
			return id.String()
		}
	case types.TypeBlob:
		return "0x" + hex.EncodeToString(b)
	default:
		return string(b)
	}
	return "0x" + hex.EncodeToString(b)
}

// encodePartitionKey serializes the key components. A single component is
// stored as-is; composite keys use [u16 length][bytes][0x00] per component.
func encodePartitionKey(components [][]byte) []byte {
	if len(components) == 1 {
		return components[0]
	}
	size := 0
	for _, c := range components {
		size += 3 + len(c)
	}
	out := make([]byte, 0, size)
	for _, c := range components {
		out = binary.BigEndian.AppendUint16(out, uint16(len(c)))
		out = append(out, c...)
		out = append(out, 0)
	}
	return out
}

// CompositeKey builds the serialized partition key for a multi-column key
// from already-encoded component values.
func CompositeKey(components ...[]byte) []byte {
	return encodePartitionKey(components)
}
