package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "climate",
			Subsystem: "predict",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "climate",
			Subsystem: "predict",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Inference
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "climate",
			Subsystem: "predict",
			Name:      "predictions_total",
			Help:      "Dispatched predictions by model and outcome",
		},
		[]string{"model", "input_kind", "status"},
	)

	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "climate",
			Subsystem: "predict",
			Name:      "inference_duration_seconds",
			Help:      "Duration of a single predictor invocation",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"model"},
	)

	ModelsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "climate",
			Subsystem: "predict",
			Name:      "models_loaded",
			Help:      "Number of models loaded at startup",
		},
	)
)
