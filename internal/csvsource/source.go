// Package csvsource streams records from a delimited text file. The source
// is lazy, finite and single-pass: each call to Next reads one line.
package csvsource

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	bulkerr "github.com/arkilian/csvbulkload/internal/errors"
	"github.com/arkilian/csvbulkload/pkg/types"
)

// Options configures a Source.
type Options struct {
	// Delimiter separates fields. Zero selects a comma.
	Delimiter rune

	// NullLiteral is the field text read as null.
	NullLiteral string

	// Fields is the required number of fields per data line. Zero disables
	// the check.
	Fields int

	// LazyQuotes tolerates quotes in unquoted fields.
	LazyQuotes bool
}

// DefaultOptions returns options for the visit file layout.
func DefaultOptions() Options {
	return Options{
		Delimiter: ',',
		Fields:    types.VisitColumnCount,
	}
}

// Source reads records from CSV input after discarding its header line.
type Source struct {
	reader *csv.Reader
	closer io.Closer
	opts   Options
	line   int
	header []string
	done   bool
}

// Open opens the file at path and consumes its header line. A missing or
// unreadable file is reported as an input-not-found error.
func Open(path string, opts Options) (*Source, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, bulkerr.NewInputNotFoundError(path, err)
	}
	if fi.IsDir() {
		return nil, bulkerr.NewInputNotFoundError(path, fmt.Errorf("%s is a directory", path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, bulkerr.NewInputNotFoundError(path, err)
	}

	src, err := New(f, opts)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// New wraps r and consumes its header line. The source takes ownership of r
// and closes it on Close.
func New(r io.ReadCloser, opts Options) (*Source, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}

	cr := csv.NewReader(bufio.NewReaderSize(r, 64*1024))
	cr.Comma = opts.Delimiter
	cr.LazyQuotes = opts.LazyQuotes
	cr.ReuseRecord = false
	// Field counts are checked per data line; the header is never validated.
	cr.FieldsPerRecord = -1

	s := &Source{reader: cr, closer: r, opts: opts}

	header, err := cr.Read()
	switch {
	case errors.Is(err, io.EOF):
		s.done = true
	case err != nil:
		_ = r.Close()
		return nil, bulkerr.NewRowParseError(1, fmt.Errorf("malformed header: %w", err))
	default:
		s.header = header
		s.line, _ = cr.FieldPos(0)
	}

	return s, nil
}

// Header returns the discarded header fields, or nil for empty input.
func (s *Source) Header() []string {
	return s.header
}

// Next returns the next record, or io.EOF when the input is exhausted.
// Malformed lines are returned as row-parse errors; the caller may keep
// reading after one.
func (s *Source) Next() (types.Record, error) {
	if s.done {
		return nil, io.EOF
	}

	fields, err := s.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.done = true
			return nil, io.EOF
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			s.line = pe.StartLine
			return nil, bulkerr.NewRowParseError(pe.StartLine, pe.Err)
		}
		s.done = true
		return nil, bulkerr.NewRowParseError(s.line+1, err)
	}

	s.line, _ = s.reader.FieldPos(0)

	if s.opts.Fields > 0 && len(fields) != s.opts.Fields {
		return nil, bulkerr.NewRowParseError(s.line,
			fmt.Errorf("%w: expected %d, got %d", types.ErrFieldCount, s.opts.Fields, len(fields)))
	}

	rec := make(types.Record, len(fields))
	for i := range fields {
		if fields[i] == s.opts.NullLiteral {
			continue
		}
		v := fields[i]
		rec[i] = &v
	}
	return rec, nil
}

// Line returns the input line number of the last record read.
func (s *Source) Line() int {
	return s.line
}

// Close releases the underlying input.
func (s *Source) Close() error {
	s.done = true
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
