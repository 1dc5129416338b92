package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	IngestCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "documents_ingested_total", Help: "Documents accepted for processing"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "documents_rate_limit_rejects_total", Help: "Ingest requests rejected by the rate limiter"})
	CompletedCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "documents_completed_total", Help: "Documents scored successfully"})
	FailedCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "documents_failed_total", Help: "Documents whose pipeline failed"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_inflight", Help: "Pipelines currently running"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "queue_depth", Help: "Documents waiting for a worker"})
	StageDuration    = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_seconds",
		Help:    "Time spent in each pipeline stage",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"stage"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			IngestCounter,
			RateLimitRejects,
			CompletedCounter,
			FailedCounter,
			InFlightGauge,
			QueueDepthGauge,
			StageDuration,
		)
	})
	return promhttp.Handler()
}
