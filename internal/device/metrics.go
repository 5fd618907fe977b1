package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sharedAllocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndgate_shared_allocations_total",
		Help: "Total number of shared-memory array allocations",
	}, []string{"device"})

	sharedWraps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndgate_shared_zero_copy_wraps_total",
		Help: "Total number of host buffers exposed to the device without copying",
	}, []string{"device"})

	sharedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ndgate_shared_allocated_bytes",
		Help: "Bytes currently accounted to shared-memory arrays",
	}, []string{"device"})
)
