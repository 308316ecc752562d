package jsonstream

// Observer receives write accounting from a StreamWriter.
type Observer interface {
	BytesWritten(n int)
	ItemAppended(kind Kind)
	ContextOpened(kind Kind)
	ContextClosed(kind Kind)
}

type nopObserver struct{}

func (nopObserver) BytesWritten(int) {}
func (nopObserver) ItemAppended(Kind) {}
func (nopObserver) ContextOpened(Kind) {}
func (nopObserver) ContextClosed(Kind) {}

// Option configures a StreamWriter or Patcher.
type Option func(*options)

type options struct {
	encoder  Encoder
	observer Observer
	name     string
}

func defaultOptions() options {
	return options{
		encoder:  Marshal,
		observer: nopObserver{},
		name:     "stream",
	}
}

// WithEncoder replaces the value encoder.
func WithEncoder(enc Encoder) Option {
	return func(o *options) {
		if enc != nil {
			o.encoder = enc
		}
	}
}

// WithObserver reports writes to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithName sets the name used in log messages.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}
