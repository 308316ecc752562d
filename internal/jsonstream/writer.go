package jsonstream

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var (
	itemSeparator = []byte(", ")
	keySeparator  = []byte(": ")
)

// StreamWriter emits one JSON document to an OutputStream as items are
// supplied. A root object context is opened when the writer is created and
// stays open until Close.
type StreamWriter struct {
	out   OutputStream
	stack []Context
	opts  options
	buf   []byte

	// err is the first write error; the stream offsets are no longer
	// trustworthy once it is set.
	err    error
	closed bool
	held   bool
}

// New returns a StreamWriter that owns out and has written the opening
// delimiter of the root object. out must not have been written to.
func New(out OutputStream, opts ...Option) (*StreamWriter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if out.Position() != 0 {
		return nil, &Error{Op: "new", Err: ErrStreamNotAtStart}
	}

	w := &StreamWriter{
		out:   out,
		stack: make([]Context, 0, 8),
		opts:  o,
		buf:   make([]byte, 0, 256),
	}

	if err := w.write([]byte{Object.Open()}); err != nil {
		out.Close()
		return nil, &Error{Op: "new", Err: err}
	}
	w.push(Object)

	log.Debug().Str("name", o.name).Msg("Stream writer opened")
	return w, nil
}

// Create opens path on fs, truncating it, and returns a writer over it.
func Create(fs afero.Fs, path string, opts ...Option) (*StreamWriter, error) {
	s, err := OpenFile(fs, path)
	if err != nil {
		return nil, &Error{Op: "create", Err: err}
	}
	return New(s, append([]Option{WithName(path)}, opts...)...)
}

// CreateFile is Create on the operating system's filesystem.
func CreateFile(path string, opts ...Option) (*StreamWriter, error) {
	return Create(afero.NewOsFs(), path, opts...)
}

// CurrentContext returns a copy of the innermost open context.
func (w *StreamWriter) CurrentContext() (Context, error) {
	if w.closed {
		return Context{}, &Error{Op: "current context", Err: ErrWriterClosed}
	}
	top := w.top()
	if top == nil {
		return Context{}, &Error{Op: "current context", Err: ErrNoContext}
	}
	return *top, nil
}

// Depth returns the number of open contexts.
func (w *StreamWriter) Depth() int {
	return len(w.stack)
}

// Position returns the number of bytes written to the stream.
func (w *StreamWriter) Position() int64 {
	return w.out.Position()
}

// Closed reports whether Close has been called.
func (w *StreamWriter) Closed() bool {
	return w.closed
}

// Err returns the write error that made the writer unusable, if any.
func (w *StreamWriter) Err() error {
	return w.err
}

// OpenRootObjectContext rejects a second root. The root object is opened by
// New and a document has exactly one, so this fails with
// ErrRootContextExists, or ErrWriterClosed after Close, and writes nothing.
func (w *StreamWriter) OpenRootObjectContext() (Span, error) {
	if err := w.check("open root object"); err != nil {
		return Span{}, err
	}
	return Span{}, &Error{Op: "open root object", Err: ErrRootContextExists}
}

// OpenObjectContext opens a nested object inside the current context. key is
// required when the current context is an object and ignored inside an
// array. The returned span is empty and its Offset is the context's
// StartIndex.
func (w *StreamWriter) OpenObjectContext(key *string) (Span, error) {
	if err := w.check("open object"); err != nil {
		return Span{}, err
	}
	if len(w.stack) == 0 {
		return Span{}, &Error{Op: "open object", Err: ErrNoContext}
	}
	return w.openContext("open object", Object, key)
}

// OpenArrayContext opens a nested array inside the current context. key is
// required when the current context is an object and ignored inside an
// array. The returned span is empty and its Offset is the context's
// StartIndex.
func (w *StreamWriter) OpenArrayContext(key *string) (Span, error) {
	if err := w.check("open array"); err != nil {
		return Span{}, err
	}
	if len(w.stack) == 0 {
		return Span{}, &Error{Op: "open array", Err: ErrNoContext}
	}
	return w.openContext("open array", Array, key)
}

// openContext writes the separator, key and opening delimiter of a nested
// context and pushes it. Nothing is written if key validation fails.
func (w *StreamWriter) openContext(op string, kind Kind, key *string) (Span, error) {
	parent := w.top()

	buf := w.buf[:0]
	if parent.ItemsInserted > 0 {
		buf = append(buf, itemSeparator...)
	}
	if parent.Kind == Object {
		if key == nil {
			return Span{}, &Error{Op: op, Err: ErrInvalidKey}
		}
		encKey, err := w.opts.encoder(*key)
		if err != nil {
			return Span{}, &Error{Op: op, Err: fmt.Errorf("encoding key: %w", err)}
		}
		buf = append(buf, encKey...)
		buf = append(buf, keySeparator...)
	}
	buf = append(buf, kind.Open())
	w.buf = buf

	if err := w.write(buf); err != nil {
		return Span{}, &Error{Op: op, Err: err}
	}
	parent.ItemsInserted++

	return w.push(kind), nil
}

func (w *StreamWriter) push(kind Kind) Span {
	pos := w.out.Position()
	w.stack = append(w.stack, Context{
		Kind:       kind,
		StartIndex: pos,
		EndIndex:   pos,
	})
	w.opts.observer.ContextOpened(kind)
	return Span{Start: pos + 1, End: pos + 1}
}

// AppendArrayItem writes v into the current context, which must be an array,
// and returns the span of its encoding.
func (w *StreamWriter) AppendArrayItem(v any) (Span, error) {
	if err := w.check("append array item"); err != nil {
		return Span{}, err
	}
	if len(w.stack) == 0 {
		return Span{}, &Error{Op: "append array item", Err: ErrNoContext}
	}

	data, err := w.opts.encoder(v)
	if err != nil {
		return Span{}, &Error{Op: "append array item", Err: fmt.Errorf("encoding value: %w", err)}
	}
	return w.appendItem("append array item", data, Array)
}

// AppendObjectItem writes the member "key": v into the current context, which
// must be an object, and returns the span of the whole member.
func (w *StreamWriter) AppendObjectItem(key string, v any) (Span, error) {
	if err := w.check("append object item"); err != nil {
		return Span{}, err
	}
	if len(w.stack) == 0 {
		return Span{}, &Error{Op: "append object item", Err: ErrNoContext}
	}

	encKey, err := w.opts.encoder(key)
	if err != nil {
		return Span{}, &Error{Op: "append object item", Err: fmt.Errorf("encoding key: %w", err)}
	}
	data, err := w.opts.encoder(v)
	if err != nil {
		return Span{}, &Error{Op: "append object item", Err: fmt.Errorf("encoding value: %w", err)}
	}

	entry := make([]byte, 0, len(encKey)+len(keySeparator)+len(data))
	entry = append(entry, encKey...)
	entry = append(entry, keySeparator...)
	entry = append(entry, data...)
	return w.appendItem("append object item", entry, Object)
}

func (w *StreamWriter) appendItem(op string, entry []byte, kind Kind) (Span, error) {
	cur := w.top()

	buf := w.buf[:0]
	if cur.ItemsInserted > 0 {
		buf = append(buf, itemSeparator...)
	}
	start := w.out.Position() + int64(len(buf)) + 1
	buf = append(buf, entry...)
	w.buf = buf

	if err := w.write(buf); err != nil {
		return Span{}, &Error{Op: op, Err: err}
	}
	cur.ItemsInserted++
	w.opts.observer.ItemAppended(kind)

	return Span{Start: start, End: w.out.Position() + 1}, nil
}

// CloseCurrentContext writes the closing delimiter of the innermost context
// and pops it. It returns false if no context was open.
func (w *StreamWriter) CloseCurrentContext() (bool, error) {
	if err := w.check("close context"); err != nil {
		return false, err
	}
	return w.closeCurrentContext()
}

func (w *StreamWriter) closeCurrentContext() (bool, error) {
	n := len(w.stack)
	if n == 0 {
		return false, nil
	}

	ctx := w.stack[n-1]
	w.stack = w.stack[:n-1]
	if err := w.write([]byte{ctx.Kind.Close()}); err != nil {
		return false, &Error{Op: "close context", Err: err}
	}
	w.opts.observer.ContextClosed(ctx.Kind)
	return true, nil
}

// Close closes every open context innermost first, then closes the output
// stream. Operations after Close fail with ErrWriterClosed; calling Close
// again does nothing.
func (w *StreamWriter) Close() error {
	if w.closed {
		return nil
	}

	var errs []error
	if w.err != nil {
		errs = append(errs, w.err)
	}
	for w.err == nil && len(w.stack) > 0 {
		if _, err := w.closeCurrentContext(); err != nil {
			errs = append(errs, err)
		}
	}
	w.stack = nil

	if err := w.out.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing output stream: %w", err))
	}
	w.closed = true

	log.Debug().
		Str("name", w.opts.name).
		Int64("bytes", w.out.Position()).
		Msg("Stream writer closed")

	if len(errs) > 0 {
		return &Error{Op: "close", Err: errors.Join(errs...)}
	}
	return nil
}

func (w *StreamWriter) check(op string) error {
	if w.closed {
		return &Error{Op: op, Err: ErrWriterClosed}
	}
	if w.err != nil {
		return &Error{Op: op, Err: w.err}
	}
	return nil
}

func (w *StreamWriter) top() *Context {
	n := len(w.stack)
	if n == 0 {
		return nil
	}
	return &w.stack[n-1]
}

// write sends p to the stream and keeps the innermost context's EndIndex at
// the stream position.
func (w *StreamWriter) write(p []byte) error {
	n, err := w.out.Write(p)
	if n > 0 {
		w.opts.observer.BytesWritten(n)
	}
	if top := w.top(); top != nil {
		top.EndIndex = w.out.Position()
	}
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.err = err
	}
	return err
}
