package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/agentfacts/jsonstream/internal/filter"
	"github.com/agentfacts/jsonstream/internal/index"
	"github.com/agentfacts/jsonstream/internal/jsonstream"
)

// DefaultRecordsKey names the array that holds the ingested records.
const DefaultRecordsKey = "records"

// SpanRecorder receives the spans of written items.
type SpanRecorder interface {
	Record(span *index.Span)
}

// Metrics receives pipeline accounting.
type Metrics interface {
	RecordIngested()
	RecordSkipped(reason string)
	RecordFiltered()
	FilterEvaluated(include bool, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordIngested() {}
func (nopMetrics) RecordSkipped(string) {}
func (nopMetrics) RecordFiltered() {}
func (nopMetrics) FilterEvaluated(bool, time.Duration) {}

// PipelineConfig holds configuration for a pipeline run.
type PipelineConfig struct {
	// DocumentID is generated when empty.
	DocumentID    string
	Source        string
	RecordsKey    string
	MaxRecordSize int

	// StopOnInvalid aborts the run at the first malformed record instead of
	// skipping it.
	StopOnInvalid bool
}

// Summary describes a finished run.
type Summary struct {
	DocumentID string        `json:"document_id"`
	Records    int           `json:"records"`
	Skipped    int           `json:"skipped"`
	Filtered   int           `json:"filtered"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
	Canceled   bool          `json:"canceled,omitempty"`
}

// Pipeline copies NDJSON records into a JSON document and indexes the span
// of every item it writes.
type Pipeline struct {
	cfg      PipelineConfig
	filter   *filter.Engine
	recorder SpanRecorder
	metrics  Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFilter evaluates every record against engine before it is written.
func WithFilter(engine *filter.Engine) Option {
	return func(p *Pipeline) {
		p.filter = engine
	}
}

// WithRecorder sends the span of every written item to rec.
func WithRecorder(rec SpanRecorder) Option {
	return func(p *Pipeline) {
		p.recorder = rec
	}
}

// WithMetrics reports record accounting to m.
func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// NewPipeline creates a new pipeline.
func NewPipeline(cfg PipelineConfig, opts ...Option) *Pipeline {
	if cfg.RecordsKey == "" {
		cfg.RecordsKey = DefaultRecordsKey
	}
	if cfg.Source == "" {
		cfg.Source = "stdin"
	}
	if cfg.MaxRecordSize <= 0 {
		cfg.MaxRecordSize = DefaultMaxRecordSize
	}

	p := &Pipeline{
		cfg:     cfg,
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run holds the state of one Run call.
type run struct {
	p       *Pipeline
	w       *jsonstream.StreamWriter
	summary *Summary
}

// Run reads records from in and writes
//
//	{"document_id": ..., "created_at": ..., "source": ..., "records": [...], "record_count": n, "skipped": m}
//
// into w. The records array and trailer are written even when reading stops
// early, so closing w always yields a complete document. Run does not close w.
func (p *Pipeline) Run(ctx context.Context, in io.Reader, w *jsonstream.StreamWriter) (*Summary, error) {
	start := time.Now()

	docID := p.cfg.DocumentID
	if docID == "" {
		docID = index.NewDocumentID()
	}
	r := &run{p: p, w: w, summary: &Summary{DocumentID: docID}}

	log.Info().
		Str("document_id", docID).
		Str("source", p.cfg.Source).
		Msg("Ingest started")

	if err := r.member("document_id", docID); err != nil {
		return r.summary, err
	}
	if err := r.member("created_at", start.UTC().Format(time.RFC3339Nano)); err != nil {
		return r.summary, err
	}
	if err := r.member("source", p.cfg.Source); err != nil {
		return r.summary, err
	}

	if _, err := w.OpenArrayContext(jsonstream.Key(p.cfg.RecordsKey)); err != nil {
		return r.summary, err
	}
	readErr := r.copyRecords(ctx, NewReaderWithMaxSize(in, p.cfg.MaxRecordSize))
	if _, err := w.CloseCurrentContext(); err != nil {
		return r.summary, errors.Join(readErr, err)
	}

	if err := r.member("record_count", r.summary.Records); err != nil {
		return r.summary, errors.Join(readErr, err)
	}
	if err := r.member("skipped", r.summary.Skipped); err != nil {
		return r.summary, errors.Join(readErr, err)
	}

	r.summary.Bytes = w.Position()
	r.summary.Duration = time.Since(start)

	log.Info().
		Str("document_id", docID).
		Int("records", r.summary.Records).
		Int("skipped", r.summary.Skipped).
		Int("filtered", r.summary.Filtered).
		Int64("bytes", r.summary.Bytes).
		Dur("duration", r.summary.Duration).
		Bool("canceled", r.summary.Canceled).
		Msg("Ingest finished")

	return r.summary, readErr
}

func (r *run) copyRecords(ctx context.Context, reader *Reader) error {
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			r.summary.Canceled = true
			return err
		}

		rec, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, ErrInvalidRecord) {
			r.summary.Skipped++
			r.p.metrics.RecordSkipped("invalid")
			if r.p.cfg.StopOnInvalid {
				return err
			}
			log.Warn().Err(err).Msg("Skipping record")
			continue
		}
		if err != nil {
			return err
		}

		include, err := r.include(ctx, rec, i)
		if err != nil {
			return err
		}
		if !include {
			r.summary.Filtered++
			r.p.metrics.RecordFiltered()
			continue
		}

		span, err := r.w.AppendArrayItem(json.RawMessage(rec))
		if err != nil {
			return err
		}
		r.indexSpan(fmt.Sprintf("%s[%d]", r.p.cfg.RecordsKey, r.summary.Records), "", span)
		r.summary.Records++
		r.p.metrics.RecordIngested()
	}
}

func (r *run) include(ctx context.Context, rec []byte, i int) (bool, error) {
	if r.p.filter == nil || !r.p.filter.Enabled() {
		return true, nil
	}

	var value interface{}
	if err := json.Unmarshal(rec, &value); err != nil {
		return false, fmt.Errorf("decoding record %d: %w", i, err)
	}

	ok, result, err := r.p.filter.ShouldInclude(ctx, &filter.Input{
		Record: value,
		Index:  i,
		Source: r.p.cfg.Source,
	})
	if err != nil {
		return false, err
	}
	r.p.metrics.FilterEvaluated(result.Decision.Include, result.EvalTime)
	if !result.Decision.Include {
		log.Debug().
			Int("index", i).
			Str("reason", result.Decision.Reason).
			Bool("written", ok).
			Msg("Record excluded by filter")
	}
	return ok, nil
}

func (r *run) member(key string, v any) error {
	span, err := r.w.AppendObjectItem(key, v)
	if err != nil {
		return err
	}
	r.indexSpan(key, key, span)
	return nil
}

func (r *run) indexSpan(path, key string, span jsonstream.Span) {
	if r.p.recorder == nil {
		return
	}
	r.p.recorder.Record(index.NewMemberSpan(r.summary.DocumentID, path, key, span.Start, span.End))
}
