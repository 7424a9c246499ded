package pool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/metrics"
	"github.com/getpup/synthbuffer/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning indicates Run was called on a pool that is already running.
	ErrAlreadyRunning = errors.New("pool already running")

	// ErrPoolFinished indicates Run was called on a pool whose run has ended.
	// A Pool runs once; create a new one to restart.
	ErrPoolFinished = errors.New("pool already finished")

	// ErrProducerPanic indicates the produce function panicked. It is recoverable.
	ErrProducerPanic = errors.New("producer panicked")

	// ErrShutdownTimeout indicates workers did not exit within the shutdown timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// Queue is the part of the durable queue the pool needs.
type Queue interface {
	Enqueue(ctx context.Context, artifact synthbuffer.Artifact) (int, error)
	Len(ctx context.Context) (int, error)
}

// Counter is the part of the active-worker counter the pool needs.
type Counter interface {
	AdjustBy(ctx context.Context, delta int) (int, error)
	AdjustIf(ctx context.Context, delta int, allow func(current int) (bool, error)) (int, bool, error)
	Reset(ctx context.Context) (int, error)
}

// Config holds configuration for the worker pool.
type Config struct {
	// Queue receives produced artifacts (required).
	Queue Queue

	// Counter tracks workers currently producing, across processes (required).
	Counter Counter

	// Produce generates one artifact (required).
	Produce synthbuffer.ProduceFunc

	// NumWorkers is the number of concurrent worker loops (default: 25).
	NumWorkers int

	// TargetBufferSize is the number of ready artifacts to maintain (default: 256).
	TargetBufferSize int

	// SleepInterval is how long a worker sleeps when there is no work, and
	// after a failed unit of work (default: 3s).
	SleepInterval time.Duration

	// ShutdownTimeout bounds Stop and the final counter reset (default: 10s).
	ShutdownTimeout time.Duration

	// Namespace labels logs and metrics (default: "synthetic").
	Namespace string

	// Logger is for observability (optional).
	Logger es.Logger

	// Tracer creates a span per unit of work (optional).
	Tracer trace.Tracer

	// MetricsEnabled enables Prometheus metrics collection (default: true).
	// Set to false explicitly to disable metrics.
	MetricsEnabled *bool
}

// Pool runs a fixed set of workers that keep the queue filled to the target
// size. Before producing, a worker claims a slot on the shared counter; the
// claim only succeeds while target - queue length - active workers > 0, so
// concurrent workers in any process never overshoot the target.
type Pool struct {
	config    Config
	target    atomic.Int64
	collector *metrics.Collector
	tracer    trace.Tracer

	mu      sync.Mutex
	states  []synthbuffer.WorkerState
	started bool
	running bool
	stopped bool

	// stop is closed by the first Stop, done by Run on exit.
	stop chan struct{}
	done chan struct{}
}

// New creates a new Pool with the given configuration.
// Applies default values for all int/duration fields if zero.
func New(cfg Config) *Pool {
	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = 25
	}
	if cfg.TargetBufferSize == 0 {
		cfg.TargetBufferSize = 256
	}
	if cfg.SleepInterval == 0 {
		cfg.SleepInterval = 3 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "synthetic"
	}

	var collector *metrics.Collector
	metricsEnabled := true
	if cfg.MetricsEnabled != nil {
		metricsEnabled = *cfg.MetricsEnabled
	}
	if metricsEnabled {
		collector = metrics.NewCollector(cfg.Namespace)
		collector.SetTargetBufferSize(cfg.TargetBufferSize)
	}

	states := make([]synthbuffer.WorkerState, cfg.NumWorkers)
	for i := range states {
		states[i] = synthbuffer.WorkerStateIdle
	}

	p := &Pool{
		config:    cfg,
		collector: collector,
		tracer:    tracing.TracerOrNoop(cfg.Tracer),
		states:    states,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	p.target.Store(int64(cfg.TargetBufferSize))
	return p
}

// TargetBufferSize returns the current buffer target.
func (p *Pool) TargetBufferSize() int {
	return int(p.target.Load())
}

// SetTargetBufferSize changes the buffer target. Running workers pick up the
// new value on their next backlog computation.
func (p *Pool) SetTargetBufferSize(n int) {
	if n < 0 {
		n = 0
	}
	p.target.Store(int64(n))
	if p.collector != nil {
		p.collector.SetTargetBufferSize(n)
	}
	if p.config.Logger != nil {
		p.config.Logger.Info(context.Background(), "target buffer size updated", "target", n)
	}
}

// States returns a snapshot of every worker's state, indexed by worker id.
func (p *Pool) States() []synthbuffer.WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]synthbuffer.WorkerState, len(p.states))
	copy(out, p.states)
	return out
}

// Run resets the shared counter, starts the workers and blocks until they
// all exit. It returns nil when ctx is cancelled or Stop is called, and the
// first fatal error otherwise (after stopping the remaining workers).
// On exit the counter is reset again, bounded by ShutdownTimeout.
// If Stop was called before Run, Run returns nil without starting workers.
func (p *Pool) Run(ctx context.Context) error {
	if p.config.Queue == nil || p.config.Counter == nil || p.config.Produce == nil {
		return errors.New("pool requires Queue, Counter and Produce")
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	if p.started {
		p.mu.Unlock()
		return ErrPoolFinished
	}
	p.started = true
	p.running = true
	stopped := p.stopped
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(p.done)
	}()

	if stopped {
		if p.config.Logger != nil {
			p.config.Logger.Info(ctx, "worker pool stopped before start", "namespace", p.config.Namespace)
		}
		return nil
	}

	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	var runErr error
	if _, err := p.config.Counter.Reset(runCtx); err != nil {
		if runCtx.Err() == nil {
			return fmt.Errorf("failed to reset active worker counter: %w", err)
		}
	} else {
		if p.config.Logger != nil {
			p.config.Logger.Info(ctx, "worker pool starting",
				"namespace", p.config.Namespace,
				"workers", p.config.NumWorkers,
				"target", p.TargetBufferSize())
		}

		g, gctx := errgroup.WithContext(runCtx)
		for i := 0; i < p.config.NumWorkers; i++ {
			id := i
			g.Go(func() error {
				return p.worker(gctx, id)
			})
		}
		runErr = g.Wait()
	}

	resetCtx, cancelReset := context.WithTimeout(context.WithoutCancel(ctx), p.config.ShutdownTimeout)
	defer cancelReset()
	if _, err := p.config.Counter.Reset(resetCtx); err != nil && p.config.Logger != nil {
		p.config.Logger.Error(ctx, "failed to reset active worker counter on exit", "error", err)
	}

	if p.config.Logger != nil {
		p.config.Logger.Info(ctx, "worker pool stopped", "namespace", p.config.Namespace, "error", runErr)
	}

	return runErr
}

// Stop cancels the workers and waits for Run to return, at most ShutdownTimeout.
// It is safe to call more than once. A Stop that lands before Run is
// remembered, so a Run started afterwards returns immediately.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stop)
	}
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// worker loops Idle -> ComputingBacklog -> Working|Sleeping until ctx ends.
// It only returns an error for fatal failures.
func (p *Pool) worker(ctx context.Context, id int) error {
	workerID := strconv.Itoa(id)
	defer p.setState(id, synthbuffer.WorkerStateStopped)

	for {
		if ctx.Err() != nil {
			return nil
		}
		p.setState(id, synthbuffer.WorkerStateIdle)

		p.setState(id, synthbuffer.WorkerStateComputingBacklog)
		claimed, err := p.claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.countError("store")
			if p.config.Logger != nil {
				p.config.Logger.Error(ctx, "failed to compute backlog", "workerID", id, "error", err)
			}
			p.setState(id, synthbuffer.WorkerStateSleeping)
			if !p.sleep(ctx) {
				return nil
			}
			continue
		}

		if !claimed {
			p.setState(id, synthbuffer.WorkerStateSleeping)
			if !p.sleep(ctx) {
				return nil
			}
			continue
		}

		p.setState(id, synthbuffer.WorkerStateWorking)
		if err := p.work(ctx, workerID); err != nil {
			if synthbuffer.IsFatal(err) {
				if p.config.Logger != nil {
					p.config.Logger.Error(ctx, "fatal error, stopping pool", "workerID", id, "error", err)
				}
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			if p.config.Logger != nil {
				p.config.Logger.Error(ctx, "unit of work failed", "workerID", id, "operation", "produce", "error", err)
			}
			p.setState(id, synthbuffer.WorkerStateSleeping)
			if !p.sleep(ctx) {
				return nil
			}
		}
	}
}

// claim increments the shared counter if, under its lock, the buffer still
// needs work. Reading the queue length inside the lock makes the backlog
// check and the increment one step.
func (p *Pool) claim(ctx context.Context) (bool, error) {
	_, applied, err := p.config.Counter.AdjustIf(ctx, 1, func(active int) (bool, error) {
		queueLen, err := p.config.Queue.Len(ctx)
		if err != nil {
			return false, err
		}
		if p.collector != nil {
			p.collector.SetQueueLength(queueLen)
		}
		return synthbuffer.WorkTodo(p.TargetBufferSize(), queueLen, active) > 0, nil
	})
	return applied, err
}

// work produces and enqueues one artifact. The claimed counter slot is
// released on every path, including panics and cancellation.
func (p *Pool) work(ctx context.Context, workerID string) (err error) {
	ctx, span := p.tracer.Start(ctx, tracing.SpanProduce, trace.WithAttributes(
		attribute.String(tracing.AttrWorkerID, workerID),
		attribute.String(tracing.AttrNamespace, p.config.Namespace),
	))
	defer span.End()

	start := time.Now()

	defer func() {
		if _, decErr := p.config.Counter.AdjustBy(context.WithoutCancel(ctx), -1); decErr != nil && p.config.Logger != nil {
			p.config.Logger.Error(ctx, "failed to release active worker slot", "workerID", workerID, "error", decErr)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProducerPanic, r)
			p.countError("panic")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	artifact, err := p.config.Produce(ctx)
	if err != nil {
		if synthbuffer.IsFatal(err) {
			p.countError("fatal")
		} else {
			p.countError("recoverable")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to produce: %w", err)
	}

	// A produced artifact is worth keeping even if shutdown started meanwhile.
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.ShutdownTimeout)
	defer cancel()

	n, err := p.config.Queue.Enqueue(enqueueCtx, artifact)
	if err != nil {
		p.countError("store")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to enqueue: %w", err)
	}

	span.SetAttributes(
		attribute.String(tracing.AttrArtifactID, artifact.ID),
		attribute.Int(tracing.AttrQueueLength, n),
	)

	if p.collector != nil {
		p.collector.IncUnitsProduced()
		p.collector.ObserveProductionDuration(time.Since(start).Seconds())
		p.collector.SetQueueLength(n)
	}
	if p.config.Logger != nil {
		p.config.Logger.Debug(ctx, "artifact produced", "workerID", workerID, "queueLength", n, "duration", time.Since(start))
	}

	return nil
}

// sleep waits SleepInterval. Returns false if ctx ended first.
func (p *Pool) sleep(ctx context.Context) bool {
	timer := time.NewTimer(p.config.SleepInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p *Pool) setState(id int, state synthbuffer.WorkerState) {
	p.mu.Lock()
	p.states[id] = state
	p.mu.Unlock()

	if p.collector != nil {
		p.collector.SetWorkerState(strconv.Itoa(id), state)
	}
}

func (p *Pool) countError(kind string) {
	if p.collector != nil {
		p.collector.IncProductionErrors(kind)
	}
}
