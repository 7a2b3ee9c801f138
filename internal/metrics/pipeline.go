package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Ingestion and reconciliation metrics.
var (
	IngestDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_documents_total",
			Help:      "Documents ingested, by outcome",
		},
		[]string{"status"},
	)

	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "End-to-end ingestion duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	ChunkWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_write_failures_total",
			Help:      "Chunks skipped during ingestion, by failing stage",
		},
		[]string{"stage"}, // "vector" / "row"
	)

	VectorDeleteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_delete_failures_total",
			Help:      "Vector entries that could not be deleted",
		},
	)

	ReconcileOrphansDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_orphans_deleted_total",
			Help:      "Orphaned vector entries removed by the reconciler",
		},
	)
)

var registerOnce sync.Once

// Register adds every docrag collector to the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestDuration,
			httpRequestsTotal,
			httpInFlight,
			httpResponseBytes,
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTokensTotal,
			EmbeddingErrorsTotal,
			EmbeddingTruncatedTotal,
			EmbeddingCacheTotal,
			IngestDocumentsTotal,
			IngestDuration,
			ChunkWriteFailuresTotal,
			VectorDeleteFailuresTotal,
			ReconcileOrphansDeletedTotal,
		)
	})
}
