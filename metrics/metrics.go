package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UnitsProducedTotal tracks the total number of artifacts produced and enqueued.
var UnitsProducedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "synthbuffer_units_produced_total",
		Help: "Total artifacts produced and enqueued",
	},
	[]string{"namespace"},
)

// ProductionErrorsTotal tracks failed units of work by kind (recoverable, fatal, panic).
var ProductionErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "synthbuffer_production_errors_total",
		Help: "Total failed units of work",
	},
	[]string{"namespace", "kind"},
)

// QueueOperationsTotal tracks queue operations by kind.
var QueueOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "synthbuffer_queue_operations_total",
		Help: "Total queue operations",
	},
	[]string{"namespace", "op"},
)

// VariantAttemptsTotal tracks variant generation attempts by strategy.
var VariantAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "synthbuffer_variant_attempts_total",
		Help: "Total variant generation attempts",
	},
	[]string{"namespace", "strategy"},
)

// DuplicateVariantsTotal tracks candidates rejected as near-duplicates of their base.
var DuplicateVariantsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "synthbuffer_duplicate_variants_total",
		Help: "Total variant candidates rejected as duplicates",
	},
	[]string{"namespace", "strategy"},
)

// QueueLength tracks the current number of ready artifacts.
var QueueLength = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "synthbuffer_queue_length",
		Help: "Current number of ready artifacts in the buffer",
	},
	[]string{"namespace"},
)

// ActiveWorkers tracks the shared active-worker counter.
var ActiveWorkers = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "synthbuffer_active_workers",
		Help: "Current number of workers producing",
	},
	[]string{"namespace"},
)

// TargetBufferSize tracks the configured buffer target.
var TargetBufferSize = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "synthbuffer_target_buffer_size",
		Help: "Configured buffer target",
	},
	[]string{"namespace"},
)

// WorkerState tracks worker state (value 1 for current state, 0 otherwise).
var WorkerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "synthbuffer_worker_state",
		Help: "Worker state (1 for current state, 0 otherwise)",
	},
	[]string{"namespace", "worker_id", "state"},
)

// ProductionDuration tracks the latency of one unit of work.
var ProductionDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "synthbuffer_production_duration_seconds",
		Help:    "Time spent producing and enqueuing one artifact",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	},
	[]string{"namespace"},
)

// LockWaitDuration tracks time spent waiting for the counter lock.
var LockWaitDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "synthbuffer_lock_wait_duration_seconds",
		Help:    "Time spent waiting for the active-worker counter lock",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"namespace"},
)
