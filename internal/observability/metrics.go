package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agentfacts/jsonstream/internal/jsonstream"
)

// Metrics holds all Prometheus metrics for document writing and indexing.
type Metrics struct {
	// Writer metrics
	BytesTotal     prometheus.Counter
	ItemsAppended  *prometheus.CounterVec
	ContextsOpened *prometheus.CounterVec
	ContextsClosed *prometheus.CounterVec

	// Ingest metrics
	RecordsIngested prometheus.Counter
	RecordsSkipped  *prometheus.CounterVec
	RecordsFiltered prometheus.Counter

	// Filter metrics
	FilterDecisions  *prometheus.CounterVec
	FilterEvaluation prometheus.Histogram

	// Index metrics
	SpansIndexedTotal prometheus.Counter
	SpansDroppedTotal prometheus.Counter
	IndexFlushes      *prometheus.CounterVec
	IndexFlushDur     prometheus.Histogram
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "jsonstream"
	}
	factory := promauto.With(reg)

	return &Metrics{
		BytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_written_total",
				Help:      "Total bytes written to output documents",
			},
		),
		ItemsAppended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_appended_total",
				Help:      "Total items appended by enclosing context kind",
			},
			[]string{"kind"},
		),
		ContextsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "contexts_opened_total",
				Help:      "Total contexts opened by kind",
			},
			[]string{"kind"},
		),
		ContextsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "contexts_closed_total",
				Help:      "Total contexts closed by kind",
			},
			[]string{"kind"},
		),

		RecordsIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_ingested_total",
				Help:      "Total input records written to documents",
			},
		),
		RecordsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_skipped_total",
				Help:      "Total input records skipped by reason",
			},
			[]string{"reason"},
		),
		RecordsFiltered: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_filtered_total",
				Help:      "Total input records excluded by the filter policy",
			},
		),

		FilterDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_decisions_total",
				Help:      "Total filter decisions by result",
			},
			[]string{"decision"},
		),
		FilterEvaluation: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "filter_evaluation_seconds",
				Help:      "Filter policy evaluation duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
			},
		),

		SpansIndexedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spans_indexed_total",
				Help:      "Total spans written to the index",
			},
		),
		SpansDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spans_dropped_total",
				Help:      "Total spans lost to failed index flushes",
			},
		),
		IndexFlushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_flushes_total",
				Help:      "Total index batch flushes by status",
			},
			[]string{"status"},
		),
		IndexFlushDur: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "index_flush_duration_seconds",
				Help:      "Index batch flush duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
	}
}

// Writer accounting, satisfies jsonstream.Observer.

func (m *Metrics) BytesWritten(n int) {
	m.BytesTotal.Add(float64(n))
}

func (m *Metrics) ItemAppended(kind jsonstream.Kind) {
	m.ItemsAppended.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ContextOpened(kind jsonstream.Kind) {
	m.ContextsOpened.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ContextClosed(kind jsonstream.Kind) {
	m.ContextsClosed.WithLabelValues(kind.String()).Inc()
}

// Ingest accounting.

func (m *Metrics) RecordIngested() {
	m.RecordsIngested.Inc()
}

func (m *Metrics) RecordSkipped(reason string) {
	m.RecordsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordFiltered() {
	m.RecordsFiltered.Inc()
}

// FilterEvaluated records a filter decision.
func (m *Metrics) FilterEvaluated(include bool, d time.Duration) {
	decision := "exclude"
	if include {
		decision = "include"
	}
	m.FilterDecisions.WithLabelValues(decision).Inc()
	m.FilterEvaluation.Observe(d.Seconds())
}

// Index accounting.

func (m *Metrics) SpansIndexed(n int) {
	m.SpansIndexedTotal.Add(float64(n))
}

func (m *Metrics) SpansDropped(n int) {
	m.SpansDroppedTotal.Add(float64(n))
}

func (m *Metrics) IndexFlushed(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.IndexFlushes.WithLabelValues(status).Inc()
	m.IndexFlushDur.Observe(d.Seconds())
}
