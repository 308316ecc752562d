package jsonstream

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// Patcher rewrites spans of a written document in place through a second
// file handle. A patch never changes the document's length.
type Patcher struct {
	file afero.File
	path string
	opts options
}

// OpenPatcher opens path on fs for reading and writing at offsets.
func OpenPatcher(fs afero.Fs, path string, opts ...Option) (*Patcher, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	f, err := fs.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, &Error{Op: "open patcher", Err: err}
	}
	return &Patcher{file: f, path: path, opts: o}, nil
}

// Read returns the bytes currently stored in span.
func (p *Patcher) Read(span Span) ([]byte, error) {
	if err := p.checkSpan("read span", span); err != nil {
		return nil, err
	}

	buf := make([]byte, span.Len())
	n, err := p.file.ReadAt(buf, span.Offset())
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return nil, &Error{Op: "read span", Err: err}
	}
	return buf, nil
}

// Patch replaces the array item at span with the encoding of v.
func (p *Patcher) Patch(span Span, v any) error {
	data, err := p.opts.encoder(v)
	if err != nil {
		return &Error{Op: "patch", Err: fmt.Errorf("encoding value: %w", err)}
	}
	return p.PatchRaw(span, data)
}

// PatchEntry replaces the object member at span with "key": v.
func (p *Patcher) PatchEntry(span Span, key string, v any) error {
	encKey, err := p.opts.encoder(key)
	if err != nil {
		return &Error{Op: "patch entry", Err: fmt.Errorf("encoding key: %w", err)}
	}
	data, err := p.opts.encoder(v)
	if err != nil {
		return &Error{Op: "patch entry", Err: fmt.Errorf("encoding value: %w", err)}
	}

	entry := make([]byte, 0, len(encKey)+len(keySeparator)+len(data))
	entry = append(entry, encKey...)
	entry = append(entry, keySeparator...)
	entry = append(entry, data...)
	return p.PatchRaw(span, entry)
}

// PatchRaw writes pre-encoded data over span. data must be exactly as long
// as span; otherwise nothing is written.
func (p *Patcher) PatchRaw(span Span, data []byte) error {
	if err := p.checkSpan("patch", span); err != nil {
		return err
	}
	if int64(len(data)) != span.Len() {
		return &Error{
			Op:  "patch",
			Err: fmt.Errorf("%w: span %s holds %d bytes, got %d", ErrSpanLengthMismatch, span, span.Len(), len(data)),
		}
	}

	if _, err := p.file.WriteAt(data, span.Offset()); err != nil {
		return &Error{Op: "patch", Err: err}
	}
	return nil
}

// Close closes the patcher's file handle.
func (p *Patcher) Close() error {
	return p.file.Close()
}

func (p *Patcher) checkSpan(op string, span Span) error {
	if !span.Valid() {
		return &Error{Op: op, Err: fmt.Errorf("%w: %s", ErrInvalidSpan, span)}
	}
	info, err := p.file.Stat()
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	if span.End-1 > info.Size() {
		return &Error{Op: op, Err: fmt.Errorf("%w: %s beyond end of %s (%d bytes)", ErrInvalidSpan, span, p.path, info.Size())}
	}
	return nil
}
