package jsonstream

import "errors"

var (
	// ErrNoContext is returned when an operation needs an open context and
	// the context stack is empty.
	ErrNoContext = errors.New("no current context")

	// ErrInvalidKey is returned when a nested context is opened inside an
	// object without a member key.
	ErrInvalidKey = errors.New("context key cannot be nil inside an object")

	// ErrWriterClosed is returned by every operation after Close.
	ErrWriterClosed = errors.New("stream writer is closed")

	// ErrRootContextExists is returned when a second root context is requested.
	ErrRootContextExists = errors.New("root context already exists")

	// ErrStreamNotAtStart is returned when a writer is given a stream that has
	// already been written to.
	ErrStreamNotAtStart = errors.New("output stream is not at offset 0")

	// ErrInvalidSpan is returned for spans that cannot address the document.
	ErrInvalidSpan = errors.New("invalid span")

	// ErrSpanLengthMismatch is returned when a patch would change the length
	// of the span it replaces.
	ErrSpanLengthMismatch = errors.New("patch length differs from span length")
)

// Error records a failed operation and the reason it failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "jsonstream: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
