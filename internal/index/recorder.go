package index

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Metrics receives recorder accounting.
type Metrics interface {
	SpansIndexed(n int)
	SpansDropped(n int)
	IndexFlushed(d time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) SpansIndexed(int) {}
func (nopMetrics) SpansDropped(int) {}
func (nopMetrics) IndexFlushed(time.Duration, error) {}

// Recorder provides async buffered writing of spans to a Store.
type Recorder struct {
	store   *Store
	metrics Metrics

	// Buffer
	buffer    []*Span
	bufferMu  sync.Mutex
	bufferMax int

	// Flush settings
	flushInterval time.Duration
	flushTimeout  time.Duration
	flushChan     chan struct{}

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	// Serializes flushes so Flush returns after pending spans are stored.
	flushMu sync.Mutex

	written  int64
	dropped  int64
	flushes  int64
	metricMu sync.Mutex
}

// RecorderConfig holds configuration for the span recorder.
type RecorderConfig struct {
	BufferSize    int           // Max spans to buffer before Record flushes inline
	FlushInterval time.Duration // How often to flush
	FlushTimeout  time.Duration // Deadline for one batch insert
	Metrics       Metrics
}

// NewRecorder creates a new span recorder.
func NewRecorder(store *Store, cfg RecorderConfig) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Recorder{
		store:         store,
		metrics:       cfg.Metrics,
		buffer:        make([]*Span, 0, cfg.BufferSize),
		bufferMax:     cfg.BufferSize,
		flushInterval: cfg.FlushInterval,
		flushTimeout:  cfg.FlushTimeout,
		flushChan:     make(chan struct{}, 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins the background flush loop.
func (r *Recorder) Start() {
	r.started = true
	r.wg.Add(1)
	go r.flushLoop()
	log.Info().
		Int("buffer_size", r.bufferMax).
		Dur("flush_interval", r.flushInterval).
		Msg("Span recorder started")
}

// Record adds a span to the buffer. A full buffer is flushed synchronously
// before the span is accepted, so spans are only lost when a batch insert
// fails.
func (r *Recorder) Record(span *Span) {
	r.bufferMu.Lock()
	for len(r.buffer) >= r.bufferMax {
		r.bufferMu.Unlock()
		if err := r.flush(); err != nil {
			log.Warn().Err(err).Msg("Synchronous span flush failed")
		}
		r.bufferMu.Lock()
	}
	defer r.bufferMu.Unlock()

	r.buffer = append(r.buffer, span)

	if len(r.buffer) >= r.bufferMax/2 {
		select {
		case r.flushChan <- struct{}{}:
		default:
		}
	}
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			// Final flush on shutdown
			r.flush()
			return

		case <-ticker.C:
			r.flush()

		case <-r.flushChan:
			r.flush()
		}
	}
}

// flush writes buffered spans to the store.
func (r *Recorder) flush() error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.bufferMu.Lock()
	if len(r.buffer) == 0 {
		r.bufferMu.Unlock()
		return nil
	}

	// Swap buffer
	spans := r.buffer
	r.buffer = make([]*Span, 0, r.bufferMax)
	r.bufferMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.flushTimeout)
	defer cancel()

	start := time.Now()
	err := r.store.InsertBatch(ctx, spans)
	r.metrics.IndexFlushed(time.Since(start), err)

	if err != nil {
		log.Error().Err(err).Int("count", len(spans)).Msg("Failed to flush spans")
		r.metricMu.Lock()
		r.dropped += int64(len(spans))
		r.metricMu.Unlock()
		r.metrics.SpansDropped(len(spans))
		return err
	}

	r.metricMu.Lock()
	r.written += int64(len(spans))
	r.flushes++
	r.metricMu.Unlock()
	r.metrics.SpansIndexed(len(spans))

	log.Debug().Int("count", len(spans)).Msg("Flushed spans")
	return nil
}

// Flush forces an immediate flush of the buffer.
func (r *Recorder) Flush() error {
	return r.flush()
}

// Stop stops the flush loop and flushes remaining spans.
func (r *Recorder) Stop() {
	log.Info().Msg("Stopping span recorder...")
	r.cancel()
	if r.started {
		r.wg.Wait()
	} else {
		r.flush()
	}

	stats := r.Stats()
	log.Info().
		Int64("written", stats.Written).
		Int64("dropped", stats.Dropped).
		Int64("flushes", stats.Flushes).
		Msg("Span recorder stopped")
}

// RecorderStats contains recorder statistics.
type RecorderStats struct {
	Written    int64
	Dropped    int64
	Flushes    int64
	BufferSize int
}

// Stats returns current recorder statistics.
func (r *Recorder) Stats() RecorderStats {
	r.bufferMu.Lock()
	bufferSize := len(r.buffer)
	r.bufferMu.Unlock()

	r.metricMu.Lock()
	defer r.metricMu.Unlock()

	return RecorderStats{
		Written:    r.written,
		Dropped:    r.dropped,
		Flushes:    r.flushes,
		BufferSize: bufferSize,
	}
}
