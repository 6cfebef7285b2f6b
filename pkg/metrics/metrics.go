// Package metrics defines the Prometheus collectors of the index engine and
// its ingest worker, and serves them for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	MutationsTotal      *prometheus.CounterVec
	MutationDuration    *prometheus.HistogramVec
	QueriesTotal        *prometheus.CounterVec
	QueryLatency        *prometheus.HistogramVec
	FindResultsCount    prometheus.Histogram
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	DocsIndexedTotal    prometheus.Counter
	IndexDocuments      prometheus.Gauge
	IndexTerms          prometheus.Gauge
	IndexGeneration     prometheus.Gauge
	SnapshotsTotal      *prometheus.CounterVec
	IngestEventsTotal   *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg means
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfinder_mutations_total",
				Help: "Index mutations by operation and status (ok, noop, invalid, error).",
			},
			[]string{"op", "status"},
		),
		MutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docfinder_mutation_duration_seconds",
				Help:    "Index mutation latency in seconds, including the mirror write.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
			},
			[]string{"op"},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfinder_queries_total",
				Help: "Index reads by operation and result (hit, zero_result, not_found, error).",
			},
			[]string{"op", "result"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docfinder_query_latency_seconds",
				Help:    "Index read latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"op"},
		),
		FindResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docfinder_find_results_count",
				Help:    "Number of documents matched per find.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docfinder_cache_hits_total",
				Help: "Total find results served from the cache.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docfinder_cache_misses_total",
				Help: "Total find results computed after a cache miss.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docfinder_docs_indexed_total",
				Help: "Total documents added or replaced.",
			},
		),
		IndexDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "docfinder_index_documents",
				Help: "Number of documents in the index.",
			},
		),
		IndexTerms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "docfinder_index_terms",
				Help: "Number of distinct terms in the index.",
			},
		),
		IndexGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "docfinder_index_generation",
				Help: "Current index generation.",
			},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfinder_snapshots_total",
				Help: "Snapshot writes by sink and status.",
			},
			[]string{"sink", "status"},
		),
		IngestEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docfinder_ingest_events_total",
				Help: "Ingest events handled by type and status.",
			},
			[]string{"type", "status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docfinder_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.MutationsTotal,
		m.MutationDuration,
		m.QueriesTotal,
		m.QueryLatency,
		m.FindResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocsIndexedTotal,
		m.IndexDocuments,
		m.IndexTerms,
		m.IndexGeneration,
		m.SnapshotsTotal,
		m.IngestEventsTotal,
		m.CircuitBreakerState,
	)
	return m
}

// Handler returns the scrape handler for gatherer. A nil gatherer means the
// default registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
