package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/counter"
	"github.com/getpup/synthbuffer/queue"
	"github.com/getpup/synthbuffer/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"
)

func boolPtr(b bool) *bool {
	return &b
}

type fixture struct {
	store   *memory.Store
	queue   *queue.Queue
	counter *counter.Counter
}

func newFixture() fixture {
	s := memory.New()
	return fixture{
		store:   s,
		queue:   queue.New(queue.Config{Store: s, Namespace: "test"}),
		counter: counter.New(counter.Config{Store: s, Namespace: "test", LockTimeout: 5 * time.Second}),
	}
}

func (f fixture) config(produce synthbuffer.ProduceFunc) Config {
	return Config{
		Queue:            f.queue,
		Counter:          f.counter,
		Produce:          produce,
		NumWorkers:       3,
		TargetBufferSize: 5,
		SleepInterval:    10 * time.Millisecond,
		ShutdownTimeout:  2 * time.Second,
		Namespace:        "test",
		MetricsEnabled:   boolPtr(false),
	}
}

func quickProduce(ctx context.Context) (synthbuffer.Artifact, error) {
	return synthbuffer.Artifact{
		Model:  "test-model",
		Blocks: []synthbuffer.ContentBlock{{Name: "prompt", Content: "hello"}},
	}, nil
}

func runPool(t *testing.T, p *Pool) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(ctx)
	}()
	t.Cleanup(cancel)
	return cancel, errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
		return nil
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	p := New(Config{MetricsEnabled: boolPtr(false)})

	assert.Equal(t, 25, p.config.NumWorkers)
	assert.Equal(t, 256, p.TargetBufferSize())
	assert.Equal(t, 3*time.Second, p.config.SleepInterval)
	assert.Equal(t, 10*time.Second, p.config.ShutdownTimeout)
	assert.Equal(t, "synthetic", p.config.Namespace)
	assert.Nil(t, p.collector)
	assert.Len(t, p.States(), 25)
}

func TestNew_MetricsEnabledByDefault(t *testing.T) {
	p := New(Config{Namespace: "metrics-default"})

	require.NotNil(t, p.collector)
	assert.Equal(t, "metrics-default", p.collector.Namespace())
}

func TestRun_RequiresDependencies(t *testing.T) {
	p := New(Config{MetricsEnabled: boolPtr(false)})

	err := p.Run(context.Background())
	assert.Error(t, err)
}

func TestRun_FillsBufferToTarget(t *testing.T) {
	f := newFixture()
	p := New(f.config(quickProduce))
	ctx := context.Background()

	cancel, errCh := runPool(t, p)

	assert.Eventually(t, func() bool {
		n, err := f.queue.Len(ctx)
		return err == nil && n == 5
	}, 3*time.Second, 10*time.Millisecond)

	// The buffer is full, so it must not grow past the target.
	time.Sleep(100 * time.Millisecond)
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	cancel()
	require.NoError(t, waitRun(t, errCh))

	active, err := f.counter.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, active)

	for _, s := range p.States() {
		assert.Equal(t, synthbuffer.WorkerStateStopped, s)
	}
}

func TestRun_OnlyClaimsMissingWork(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Target 5 with 3 ready items: exactly 2 units are missing.
	for i := 0; i < 3; i++ {
		_, err := f.queue.Enqueue(ctx, synthbuffer.Artifact{Model: "seed"})
		require.NoError(t, err)
	}

	release := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32
	produce := func(ctx context.Context) (synthbuffer.Artifact, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		defer inFlight.Add(-1)

		select {
		case <-release:
		case <-ctx.Done():
			return synthbuffer.Artifact{}, ctx.Err()
		}
		return quickProduce(ctx)
	}

	cfg := f.config(produce)
	cfg.NumWorkers = 4
	p := New(cfg)
	cancel, errCh := runPool(t, p)

	assert.Eventually(t, func() bool {
		return inFlight.Load() == 2
	}, 3*time.Second, 5*time.Millisecond)

	// The other two workers keep sleeping.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), maxInFlight.Load())

	active, err := f.counter.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	close(release)

	assert.Eventually(t, func() bool {
		n, err := f.queue.Len(ctx)
		return err == nil && n == 5
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, int32(2), maxInFlight.Load())

	cancel()
	require.NoError(t, waitRun(t, errCh))
}

func TestClaim_AccountsForActiveWorkers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := New(f.config(quickProduce))

	// Queue 2, active 1, target 5: two claims succeed, the third does not.
	for i := 0; i < 2; i++ {
		_, err := f.queue.Enqueue(ctx, synthbuffer.Artifact{Model: "seed"})
		require.NoError(t, err)
	}
	_, err := f.counter.AdjustBy(ctx, 1)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		claimed, err := p.claim(ctx)
		require.NoError(t, err)
		assert.True(t, claimed)
	}

	claimed, err := p.claim(ctx)
	require.NoError(t, err)
	assert.False(t, claimed)

	active, err := f.counter.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, active)
}

func TestRun_FatalErrorStopsPool(t *testing.T) {
	f := newFixture()
	authErr := errors.New("invalid api key")
	p := New(f.config(func(ctx context.Context) (synthbuffer.Artifact, error) {
		return synthbuffer.Artifact{}, synthbuffer.Fatal(authErr)
	}))

	_, errCh := runPool(t, p)
	err := waitRun(t, errCh)

	require.Error(t, err)
	assert.True(t, synthbuffer.IsFatal(err))
	assert.ErrorIs(t, err, authErr)

	active, err := f.counter.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, active, "counter is reset on exit")
}

func TestRun_RecoverableErrorsAreRetried(t *testing.T) {
	f := newFixture()
	var calls atomic.Int32
	p := New(f.config(func(ctx context.Context) (synthbuffer.Artifact, error) {
		if calls.Add(1) <= 3 {
			return synthbuffer.Artifact{}, errors.New("rate limited")
		}
		return quickProduce(ctx)
	}))
	ctx := context.Background()

	cancel, errCh := runPool(t, p)

	assert.Eventually(t, func() bool {
		n, err := f.queue.Len(ctx)
		return err == nil && n == 5
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitRun(t, errCh))
	assert.GreaterOrEqual(t, calls.Load(), int32(8))
}

func TestRun_PanicIsRecovered(t *testing.T) {
	f := newFixture()
	var calls atomic.Int32
	p := New(f.config(func(ctx context.Context) (synthbuffer.Artifact, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return quickProduce(ctx)
	}))
	ctx := context.Background()

	cancel, errCh := runPool(t, p)

	assert.Eventually(t, func() bool {
		n, err := f.queue.Len(ctx)
		return err == nil && n == 5
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitRun(t, errCh))

	active, err := f.counter.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, active)
}

func TestWork_ReleasesSlotOnPanic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := New(f.config(func(ctx context.Context) (synthbuffer.Artifact, error) {
		panic("boom")
	}))

	_, err := f.counter.AdjustBy(ctx, 1)
	require.NoError(t, err)

	err = p.work(ctx, "0")
	assert.ErrorIs(t, err, ErrProducerPanic)

	active, err := f.counter.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, active)
}

type failingQueue struct {
	*queue.Queue
}

func (failingQueue) Enqueue(ctx context.Context, artifact synthbuffer.Artifact) (int, error) {
	return 0, synthbuffer.Unavailable("failed to enqueue", errors.New("connection refused"))
}

func TestWork_ReleasesSlotOnEnqueueFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cfg := f.config(quickProduce)
	cfg.Queue = failingQueue{f.queue}
	p := New(cfg)

	_, err := f.counter.AdjustBy(ctx, 1)
	require.NoError(t, err)

	err = p.work(ctx, "0")
	assert.ErrorIs(t, err, synthbuffer.ErrStoreUnavailable)
	assert.False(t, synthbuffer.IsFatal(err))

	active, err := f.counter.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, active)
}

func TestWork_ReleasesSlotOnCancellation(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	p := New(f.config(func(ctx context.Context) (synthbuffer.Artifact, error) {
		<-ctx.Done()
		return synthbuffer.Artifact{}, ctx.Err()
	}))

	_, err := f.counter.AdjustBy(context.Background(), 1)
	require.NoError(t, err)

	cancel()
	err = p.work(ctx, "0")
	assert.ErrorIs(t, err, context.Canceled)

	active, err := f.counter.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, active)
}

func TestStop_IsIdempotent(t *testing.T) {
	f := newFixture()
	p := New(f.config(quickProduce))

	_, errCh := runPool(t, p)

	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.running
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	require.NoError(t, waitRun(t, errCh))
}

func TestStop_BeforeRunIsRemembered(t *testing.T) {
	f := newFixture()
	var calls atomic.Int32
	p := New(f.config(func(ctx context.Context) (synthbuffer.Artifact, error) {
		calls.Add(1)
		return quickProduce(ctx)
	}))

	require.NoError(t, p.Stop(), "stop before run does not block")

	_, errCh := runPool(t, p)
	require.NoError(t, waitRun(t, errCh))

	assert.Equal(t, int32(0), calls.Load(), "no work after an earlier stop")
	n, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRun_StopImmediatelyLeavesCounterAtZero(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture()
		p := New(f.config(func(ctx context.Context) (synthbuffer.Artifact, error) {
			<-ctx.Done()
			return synthbuffer.Artifact{}, ctx.Err()
		}))

		errCh := make(chan error, 1)
		go func() {
			errCh <- p.Run(context.Background())
		}()
		require.NoError(t, p.Stop())

		require.NoError(t, waitRun(t, errCh))

		active, err := f.counter.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, active)
		for _, state := range p.States() {
			assert.NotEqual(t, synthbuffer.WorkerStateWorking, state)
		}
	}
}

func TestRun_OnlyOnce(t *testing.T) {
	f := newFixture()
	p := New(f.config(quickProduce))

	_, errCh := runPool(t, p)
	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.running
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())
	require.NoError(t, waitRun(t, errCh))

	assert.ErrorIs(t, p.Run(context.Background()), ErrPoolFinished)
}

func TestRun_AlreadyRunning(t *testing.T) {
	f := newFixture()
	p := New(f.config(quickProduce))

	cancel, errCh := runPool(t, p)
	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.running
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, p.Run(context.Background()), ErrAlreadyRunning)

	cancel()
	require.NoError(t, waitRun(t, errCh))
}

func TestSetTargetBufferSize_RaisesProduction(t *testing.T) {
	f := newFixture()
	p := New(f.config(quickProduce))
	ctx := context.Background()

	cancel, errCh := runPool(t, p)

	assert.Eventually(t, func() bool {
		n, err := f.queue.Len(ctx)
		return err == nil && n == 5
	}, 3*time.Second, 10*time.Millisecond)

	p.SetTargetBufferSize(8)
	assert.Equal(t, 8, p.TargetBufferSize())

	assert.Eventually(t, func() bool {
		n, err := f.queue.Len(ctx)
		return err == nil && n == 8
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, waitRun(t, errCh))
}

func TestWork_RecordsSpan(t *testing.T) {
	f := newFixture()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	cfg := f.config(quickProduce)
	cfg.Tracer = provider.Tracer("test")
	p := New(cfg)

	require.NoError(t, p.work(context.Background(), "7"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pool.produce", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "7", attrs["worker.id"])
	assert.Equal(t, "1", attrs["queue.length"])
}

func TestWorkTodo_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		target := rapid.IntRange(0, 512).Draw(rt, "target")
		queueLen := rapid.IntRange(0, 512).Draw(rt, "queueLen")
		active := rapid.IntRange(0, 64).Draw(rt, "active")

		todo := synthbuffer.WorkTodo(target, queueLen, active)
		if todo < 0 {
			rt.Fatalf("negative work: %d", todo)
		}
		if queueLen+active+todo < target {
			rt.Fatalf("work %d does not reach target %d from %d+%d", todo, target, queueLen, active)
		}
		if todo > 0 && queueLen+active+todo != target {
			rt.Fatalf("work %d overshoots target %d", todo, target)
		}
		if synthbuffer.WorkTodo(target, queueLen+1, active) > todo {
			rt.Fatalf("more ready items must never mean more work")
		}
	})
}
