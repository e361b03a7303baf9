package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wintrouble_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"channel"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wintrouble_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wintrouble_confidence_score",
			Help:    "Answer confidence scores (0-100)",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		},
	)

	EscalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wintrouble_escalations_total",
			Help: "Answers flagged for human review when recorded",
		},
	)

	ReactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wintrouble_reactions_total",
			Help: "Reaction events applied to query records",
		},
		[]string{"kind", "polarity"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wintrouble_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wintrouble_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wintrouble_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	IngestionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wintrouble_ingestion_attempts_total",
			Help: "Ingestion outcomes per document",
		},
		[]string{"status"},
	)

	ChunksWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wintrouble_chunks_written_total",
			Help: "Total chunks written to the vector index",
		},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wintrouble_ingestion_duration_seconds",
			Help:    "Per-document ingestion duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			ConfidenceScore,
			EscalationsTotal,
			ReactionsTotal,
			LLMTokensUsed,
			CacheHits,
			CacheMisses,
			IngestionAttempts,
			ChunksWritten,
			IngestionDuration,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
