package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecomputeRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "growthd_recompute_runs_total",
			Help: "Total daily-state recompute runs",
		},
		[]string{"trigger", "status"},
	)

	RecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "growthd_recompute_duration_seconds",
			Help:    "Wall time per recompute window",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProjectionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "growthd_projection_runs_total",
			Help: "Total forward projection runs",
		},
		[]string{"status"},
	)

	JobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "growthd_jobs_enqueued_total",
			Help: "Recompute jobs accepted onto the queue",
		},
	)

	JobsDeduped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "growthd_jobs_deduped_total",
			Help: "Recompute jobs suppressed by the TTL dedup marker",
		},
	)

	JobsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "growthd_jobs_dropped_total",
			Help: "Recompute jobs dropped on a full queue",
		},
	)

	JobsRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "growthd_jobs_retries_total",
			Help: "Job attempts beyond the first",
		},
	)

	TelemetryRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "growthd_telemetry_rows_total",
			Help: "Sensor readings ingested per source",
		},
		[]string{"source"},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "growthd_api_requests_total",
			Help: "API requests by route pattern and status",
		},
		[]string{"route", "status"},
	)
)
