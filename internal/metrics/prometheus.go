package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docuquery_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"strategy"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuquery_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuquery_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"tier"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuquery_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"tier"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docuquery_breaker_state",
			Help: "Circuit breaker state per dependency (0=closed, 1=half-open, 2=open)",
		},
		[]string{"dependency"},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuquery_documents_processed_total",
			Help: "Total documents processed by ingestion outcome",
		},
		[]string{"status"},
	)

	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docuquery_chunks_indexed_total",
			Help: "Total chunks upserted into the vector store",
		},
	)

	EmbeddingCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docuquery_embedding_provider_calls_total",
			Help: "Total calls to the embedding provider",
		},
		[]string{"status"},
	)

	VectorResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docuquery_vector_results_count",
			Help:    "Number of vector results per retrieval",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	TasksQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docuquery_ingestion_tasks_queued",
			Help: "Background ingestion tasks waiting for a worker",
		},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(DocumentsProcessed)
	prometheus.MustRegister(ChunksIndexed)
	prometheus.MustRegister(EmbeddingCalls)
	prometheus.MustRegister(VectorResultsCount)
	prometheus.MustRegister(TasksQueued)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
