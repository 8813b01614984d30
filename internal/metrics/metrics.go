package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invoice_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Task lifecycle
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invoice_tasks_submitted_total",
			Help: "Total number of accepted tasks",
		},
	)

	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_tasks_finished_total",
			Help: "Tasks reaching a terminal status",
		},
		[]string{"status"},
	)

	TasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "invoice_tasks_active",
			Help: "Tasks not yet terminal",
		},
	)

	// Per-file pipeline
	FilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_files_processed_total",
			Help: "Source files settled, by outcome",
		},
		[]string{"outcome"}, // succeeded, failed, skipped
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invoice_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 25, 50, 100},
		},
		[]string{"stage"}, // decode, ocr, nlp, aggregate
	)

	CapabilityRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_capability_retries_total",
			Help: "Retries of transient OCR/NLP failures",
		},
		[]string{"op"},
	)

	PagesDecoded = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invoice_pages_per_file",
			Help:    "Decoded pages per source file",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100},
		},
	)

	AnomaliesFlagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_anomaly_flags_total",
			Help: "Anomaly flags raised, by check",
		},
		[]string{"check"},
	)

	// Upload metrics
	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invoice_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "invoice_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)
)

// ObserveStage records the elapsed time of a pipeline stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
