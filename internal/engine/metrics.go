package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndgate_dispatch_total",
		Help: "Total number of calls by operation and execution path",
	}, []string{"op", "path"})

	validationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndgate_validation_errors_total",
		Help: "Total number of rejected sampling requests",
	}, []string{"distribution"})

	backendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndgate_backend_errors_total",
		Help: "Total number of errors returned by a backend",
	}, []string{"op", "path"})

	executeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ndgate_execute_duration_seconds",
		Help:    "Time spent executing a call in a backend",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "path"})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ndgate_accelerator_breaker_state",
		Help: "Accelerator circuit breaker state (0 closed, 1 open, 2 half-open)",
	})
)
