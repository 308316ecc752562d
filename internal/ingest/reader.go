package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// DefaultMaxRecordSize is the default maximum size of a single record (1MB).
const DefaultMaxRecordSize = 1024 * 1024

// ErrInvalidRecord is returned for lines that are not a single JSON value.
var ErrInvalidRecord = errors.New("invalid JSON record")

// Reader reads newline-delimited JSON records.
type Reader struct {
	scanner       *bufio.Scanner
	maxRecordSize int
	line          int
}

// NewReader creates a new Reader for the given input stream.
func NewReader(in io.Reader) *Reader {
	return NewReaderWithMaxSize(in, DefaultMaxRecordSize)
}

// NewReaderWithMaxSize creates a new Reader with a custom max record size.
func NewReaderWithMaxSize(in io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxRecordSize
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxSize)), maxSize)

	return &Reader{
		scanner:       scanner,
		maxRecordSize: maxSize,
	}
}

// ReadRecord returns the next record. Blank lines are skipped. It returns
// io.EOF when the input is exhausted and an error wrapping ErrInvalidRecord
// for a malformed line, after which reading may continue.
func (r *Reader) ReadRecord() ([]byte, error) {
	for {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading input after line %d: %w", r.line, err)
			}
			return nil, io.EOF
		}
		r.line++

		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		// Copy since the scanner reuses its buffer
		rec := make([]byte, len(line))
		copy(rec, line)

		if !json.Valid(rec) {
			return nil, fmt.Errorf("%w on line %d", ErrInvalidRecord, r.line)
		}
		return rec, nil
	}
}

// Line returns the number of the line most recently read.
func (r *Reader) Line() int {
	return r.line
}
