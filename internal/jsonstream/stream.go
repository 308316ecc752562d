package jsonstream

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// OutputStream is an append-only byte sink that reports its write position.
type OutputStream interface {
	io.Writer

	// Position returns the number of bytes written so far.
	Position() int64

	Close() error
}

// flusher is implemented by buffered writers.
type flusher interface {
	Flush() error
}

// Stream counts the bytes written to an underlying writer.
type Stream struct {
	out    io.Writer
	closer io.Closer
	pos    int64
	closed bool
}

// NewStream returns a Stream writing to out. If out implements Flush() error
// it is flushed on Close; if it implements io.Closer it is closed too.
func NewStream(out io.Writer) *Stream {
	s := &Stream{out: out}
	if c, ok := out.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenFile creates or truncates path on fs and returns a buffered Stream
// over it.
func OpenFile(fs afero.Fs, path string) (*Stream, error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening output stream: %w", err)
	}
	return &Stream{
		out:    bufio.NewWriterSize(f, 32*1024),
		closer: f,
	}, nil
}

// Write implements io.Writer.
func (s *Stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	n, err := s.out.Write(p)
	s.pos += int64(n)
	return n, err
}

// Position returns the number of bytes written so far.
func (s *Stream) Position() int64 {
	return s.pos
}

// Flush flushes the underlying writer if it buffers.
func (s *Stream) Flush() error {
	if f, ok := s.out.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Close flushes and closes the underlying writer. Only the first call has
// any effect.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
