package metrics

import "github.com/getpup/synthbuffer"

// Collector wraps metrics and provides helper methods with pre-filled labels.
type Collector struct {
	namespace string
}

// NewCollector creates a new Collector for the given buffer namespace.
func NewCollector(namespace string) *Collector {
	return &Collector{namespace: namespace}
}

// Namespace returns the namespace label value.
func (c *Collector) Namespace() string {
	return c.namespace
}

// IncUnitsProduced increments the produced units counter.
func (c *Collector) IncUnitsProduced() {
	UnitsProducedTotal.WithLabelValues(c.namespace).Inc()
}

// IncProductionErrors increments the production errors counter for an error kind.
func (c *Collector) IncProductionErrors(kind string) {
	ProductionErrorsTotal.WithLabelValues(c.namespace, kind).Inc()
}

// IncQueueOperation increments the queue operations counter.
func (c *Collector) IncQueueOperation(op string) {
	QueueOperationsTotal.WithLabelValues(c.namespace, op).Inc()
}

// IncVariantAttempts increments the variant attempts counter for a strategy.
func (c *Collector) IncVariantAttempts(strategy string) {
	VariantAttemptsTotal.WithLabelValues(c.namespace, strategy).Inc()
}

// IncDuplicateVariants increments the duplicate variants counter for a strategy.
func (c *Collector) IncDuplicateVariants(strategy string) {
	DuplicateVariantsTotal.WithLabelValues(c.namespace, strategy).Inc()
}

// SetQueueLength sets the queue length gauge.
func (c *Collector) SetQueueLength(n int) {
	QueueLength.WithLabelValues(c.namespace).Set(float64(n))
}

// SetActiveWorkers sets the active workers gauge.
func (c *Collector) SetActiveWorkers(count int) {
	ActiveWorkers.WithLabelValues(c.namespace).Set(float64(count))
}

// SetTargetBufferSize sets the target buffer size gauge.
func (c *Collector) SetTargetBufferSize(n int) {
	TargetBufferSize.WithLabelValues(c.namespace).Set(float64(n))
}

// SetWorkerState sets the worker state gauge. Sets value to 1 for the given state, 0 for others.
func (c *Collector) SetWorkerState(workerID string, state synthbuffer.WorkerState) {
	for _, s := range synthbuffer.AllWorkerStates {
		if s == state {
			WorkerState.WithLabelValues(c.namespace, workerID, string(s)).Set(1)
		} else {
			WorkerState.WithLabelValues(c.namespace, workerID, string(s)).Set(0)
		}
	}
}

// ObserveProductionDuration records a production duration observation.
func (c *Collector) ObserveProductionDuration(seconds float64) {
	ProductionDuration.WithLabelValues(c.namespace).Observe(seconds)
}

// ObserveLockWait records a lock wait observation.
func (c *Collector) ObserveLockWait(seconds float64) {
	LockWaitDuration.WithLabelValues(c.namespace).Observe(seconds)
}
