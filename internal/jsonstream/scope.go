package jsonstream

import (
	"errors"

	"github.com/spf13/afero"
)

// Use holds w while fn runs and closes w when fn returns, fails or panics.
// The error from fn takes precedence over the error from Close; both are
// reported when both occur.
//
// Use panics if w is already held by another Use call.
func (w *StreamWriter) Use(fn func(*StreamWriter) error) (err error) {
	if w.held {
		panic("jsonstream: stream writer is already held")
	}
	w.held = true

	defer func() {
		w.held = false
		cerr := w.Close()
		switch {
		case err == nil:
			err = cerr
		case cerr != nil:
			err = errors.Join(err, cerr)
		}
	}()

	return fn(w)
}

// WithFile creates path on fs, runs fn with a writer over it and closes the
// writer on every exit path.
func WithFile(fs afero.Fs, path string, fn func(*StreamWriter) error, opts ...Option) error {
	w, err := Create(fs, path, opts...)
	if err != nil {
		return err
	}
	return w.Use(fn)
}
