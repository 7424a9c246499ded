package metrics

import (
	"testing"

	"github.com/getpup/synthbuffer"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewCollector_CreatesCollectorWithNamespace(t *testing.T) {
	collector := NewCollector("test-namespace")

	assert.NotNil(t, collector)
	assert.Equal(t, "test-namespace", collector.Namespace())
}

func TestCollector_IncUnitsProduced(t *testing.T) {
	collector := NewCollector("test-ns-coll-1")

	before := testutil.ToFloat64(UnitsProducedTotal.WithLabelValues("test-ns-coll-1"))
	collector.IncUnitsProduced()
	after := testutil.ToFloat64(UnitsProducedTotal.WithLabelValues("test-ns-coll-1"))

	assert.Equal(t, before+1, after)
}

func TestCollector_IncProductionErrors(t *testing.T) {
	collector := NewCollector("test-ns-coll-2")

	collector.IncProductionErrors("panic")

	assert.Equal(t, float64(1), testutil.ToFloat64(ProductionErrorsTotal.WithLabelValues("test-ns-coll-2", "panic")))
}

func TestCollector_IncQueueOperation(t *testing.T) {
	collector := NewCollector("test-ns-coll-3")

	collector.IncQueueOperation("enqueue")
	collector.IncQueueOperation("enqueue")
	collector.IncQueueOperation("dequeue")

	assert.Equal(t, float64(2), testutil.ToFloat64(QueueOperationsTotal.WithLabelValues("test-ns-coll-3", "enqueue")))
	assert.Equal(t, float64(1), testutil.ToFloat64(QueueOperationsTotal.WithLabelValues("test-ns-coll-3", "dequeue")))
}

func TestCollector_VariantCounters(t *testing.T) {
	collector := NewCollector("test-ns-coll-4")

	collector.IncVariantAttempts("rewrite_request")
	collector.IncVariantAttempts("rewrite_request")
	collector.IncDuplicateVariants("rewrite_request")

	assert.Equal(t, float64(2), testutil.ToFloat64(VariantAttemptsTotal.WithLabelValues("test-ns-coll-4", "rewrite_request")))
	assert.Equal(t, float64(1), testutil.ToFloat64(DuplicateVariantsTotal.WithLabelValues("test-ns-coll-4", "rewrite_request")))
}

func TestCollector_Gauges(t *testing.T) {
	collector := NewCollector("test-ns-coll-5")

	collector.SetQueueLength(12)
	collector.SetActiveWorkers(3)
	collector.SetTargetBufferSize(256)

	assert.Equal(t, float64(12), testutil.ToFloat64(QueueLength.WithLabelValues("test-ns-coll-5")))
	assert.Equal(t, float64(3), testutil.ToFloat64(ActiveWorkers.WithLabelValues("test-ns-coll-5")))
	assert.Equal(t, float64(256), testutil.ToFloat64(TargetBufferSize.WithLabelValues("test-ns-coll-5")))
}

func TestCollector_SetWorkerState(t *testing.T) {
	collector := NewCollector("test-ns-coll-6")

	collector.SetWorkerState("worker-1", synthbuffer.WorkerStateWorking)

	workingValue := testutil.ToFloat64(WorkerState.WithLabelValues("test-ns-coll-6", "worker-1", "working"))
	sleepingValue := testutil.ToFloat64(WorkerState.WithLabelValues("test-ns-coll-6", "worker-1", "sleeping"))

	assert.Equal(t, float64(1), workingValue)
	assert.Equal(t, float64(0), sleepingValue)

	collector.SetWorkerState("worker-1", synthbuffer.WorkerStateSleeping)

	assert.Equal(t, float64(0), testutil.ToFloat64(WorkerState.WithLabelValues("test-ns-coll-6", "worker-1", "working")))
	assert.Equal(t, float64(1), testutil.ToFloat64(WorkerState.WithLabelValues("test-ns-coll-6", "worker-1", "sleeping")))
}

func TestCollector_Observations(t *testing.T) {
	collector := NewCollector("test-ns-coll-7")

	collector.ObserveProductionDuration(2.5)
	collector.ObserveLockWait(0.002)

	assert.Greater(t, testutil.CollectAndCount(ProductionDuration), 0)
	assert.Greater(t, testutil.CollectAndCount(LockWaitDuration), 0)
}
