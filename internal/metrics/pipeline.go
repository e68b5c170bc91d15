package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingest pipeline, search fan-out and semantic cache metrics.
// Labels carry the record type, never the location-scoped namespace.
var (
	IngestRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsearch",
			Name:      "ingest_records_total",
			Help:      "Ingested records by outcome",
		},
		[]string{"type", "outcome"}, // "upserted" / "failed"
	)

	IngestBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsearch",
			Name:      "ingest_batches_total",
			Help:      "Upsert batches flushed by status",
		},
		[]string{"type", "status"},
	)

	IngestUpsertDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "catalogsearch",
			Name:      "ingest_upsert_duration_seconds",
			Help:      "Duration of a single batched upsert",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"type"},
	)

	IngestActiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "catalogsearch",
			Name:      "ingest_active_jobs",
			Help:      "Batch ingest jobs currently running",
		},
	)

	SearchQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "catalogsearch",
			Name:      "search_namespace_query_duration_seconds",
			Help:      "Per-namespace vector query duration by record type",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"type", "status"},
	)

	SemanticCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsearch",
			Name:      "semantic_cache_lookups_total",
			Help:      "Semantic cache lookups by result",
		},
		[]string{"driver", "result"}, // "hit" / "miss" / "error"
	)
)

var serviceMetricsRegistered sync.Once

// RegisterServiceMetrics registers pipeline, search and cache metrics. Safe to call more than once.
func RegisterServiceMetrics() {
	serviceMetricsRegistered.Do(func() {
		prometheus.MustRegister(
			IngestRecordsTotal,
			IngestBatchesTotal,
			IngestUpsertDuration,
			IngestActiveJobs,
			SearchQueryDuration,
			SemanticCacheTotal,
		)
	})
}
