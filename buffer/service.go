package buffer

import (
	"context"
	"errors"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/consumer"
	"github.com/getpup/synthbuffer/counter"
	"github.com/getpup/synthbuffer/metrics"
	"github.com/getpup/synthbuffer/monitor"
	"github.com/getpup/synthbuffer/pipeline"
	"github.com/getpup/synthbuffer/pool"
	"github.com/getpup/synthbuffer/queue"
	"github.com/getpup/synthbuffer/store"
	"github.com/getpup/synthbuffer/variant"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for the buffer Service.
type Config struct {
	// Store is the shared store for the queue, history and counter (required).
	Store store.SharedStore

	// Produce generates one base artifact (required).
	Produce synthbuffer.ProduceFunc

	// Variant enables variant generation for every base artifact when set.
	// Its Collector, Logger and Tracer are filled in from this Config if empty.
	Variant *variant.Config

	// Namespace prefixes every store key and labels metrics (default: "synthetic").
	Namespace string

	// Mode selects history retention (default: dev).
	Mode synthbuffer.Mode

	// HistoryTTL is the history lifetime in prod mode (default: 4h).
	HistoryTTL time.Duration

	// LockTimeout bounds counter lock waits (default: 60s).
	LockTimeout time.Duration

	// NumWorkers is the number of worker loops (default: 25).
	NumWorkers int

	// TargetBufferSize is the number of ready artifacts to maintain (default: 256).
	TargetBufferSize int

	// SleepInterval is the idle sleep of a worker (default: 3s).
	SleepInterval time.Duration

	// ShutdownTimeout bounds the pool's shutdown (default: 10s).
	ShutdownTimeout time.Duration

	// MonitorInterval is the time between buffer samples (default: 5s).
	MonitorInterval time.Duration

	// PollInterval is the consumer's polling interval for Take (default: 3s).
	PollInterval time.Duration

	// Purger sweeps expired records on every monitor tick (optional).
	// If nil and Store implements monitor.Purger, the store is used.
	Purger monitor.Purger

	// Logger is for observability (optional).
	Logger es.Logger

	// Tracer creates spans for production and variant generation (optional).
	Tracer trace.Tracer

	// MetricsEnabled enables Prometheus metrics collection (default: true).
	// Set to false explicitly to disable metrics.
	MetricsEnabled *bool
}

// Service keeps a shared buffer of generated artifacts topped up and serves
// them to consumers. Any number of Services in any number of processes may
// share one store and namespace.
type Service struct {
	config    Config
	queue     *queue.Queue
	counter   *counter.Counter
	pool      *pool.Pool
	monitor   *monitor.Monitor
	reader    *consumer.Reader
	collector *metrics.Collector
}

// New creates a new Service with the given configuration.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("buffer requires a Store")
	}
	if cfg.Produce == nil {
		return nil, errors.New("buffer requires a Produce function")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = queue.DefaultNamespace
	}

	// Create metrics collector if enabled (default: true)
	var collector *metrics.Collector
	metricsEnabled := true
	if cfg.MetricsEnabled != nil {
		metricsEnabled = *cfg.MetricsEnabled
	}
	if metricsEnabled {
		collector = metrics.NewCollector(cfg.Namespace)
	}

	q := queue.New(queue.Config{
		Store:      cfg.Store,
		Namespace:  cfg.Namespace,
		Mode:       cfg.Mode,
		HistoryTTL: cfg.HistoryTTL,
		Logger:     cfg.Logger,
		Collector:  collector,
	})

	c := counter.New(counter.Config{
		Store:       cfg.Store,
		Namespace:   cfg.Namespace,
		LockTimeout: cfg.LockTimeout,
		Logger:      cfg.Logger,
		Collector:   collector,
	})

	produce := cfg.Produce
	if cfg.Variant != nil {
		vcfg := *cfg.Variant
		if vcfg.Collector == nil {
			vcfg.Collector = collector
		}
		if vcfg.Logger == nil {
			vcfg.Logger = cfg.Logger
		}
		if vcfg.Tracer == nil {
			vcfg.Tracer = cfg.Tracer
		}
		produce = pipeline.New(pipeline.Config{
			Produce:  cfg.Produce,
			Variants: variant.New(vcfg),
			Records:  q,
			Logger:   cfg.Logger,
			Tracer:   cfg.Tracer,
		}).Produce
	}

	metricsFlag := metricsEnabled
	p := pool.New(pool.Config{
		Queue:            q,
		Counter:          c,
		Produce:          produce,
		NumWorkers:       cfg.NumWorkers,
		TargetBufferSize: cfg.TargetBufferSize,
		SleepInterval:    cfg.SleepInterval,
		ShutdownTimeout:  cfg.ShutdownTimeout,
		Namespace:        cfg.Namespace,
		Logger:           cfg.Logger,
		Tracer:           cfg.Tracer,
		MetricsEnabled:   &metricsFlag,
	})

	purger := cfg.Purger
	if purger == nil {
		purger, _ = cfg.Store.(monitor.Purger)
	}

	m := monitor.New(monitor.Config{
		Queue:     q,
		Counter:   c,
		Purger:    purger,
		Interval:  cfg.MonitorInterval,
		Collector: collector,
		Logger:    cfg.Logger,
	})

	r := consumer.New(consumer.Config{
		Queue:        q,
		PollInterval: cfg.PollInterval,
		Logger:       cfg.Logger,
	})

	return &Service{
		config:    cfg,
		queue:     q,
		counter:   c,
		pool:      p,
		monitor:   m,
		reader:    r,
		collector: collector,
	}, nil
}

// Run starts the worker pool and the monitor and blocks until the pool stops.
// Returns the first fatal production error, or nil on orderly shutdown.
func (s *Service) Run(ctx context.Context) error {
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()

	g, gctx := errgroup.WithContext(monitorCtx)

	g.Go(func() error {
		return s.monitor.Run(gctx)
	})

	g.Go(func() error {
		defer stopMonitor()
		return s.pool.Run(gctx)
	})

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "buffer started", "namespace", s.config.Namespace, "target", s.pool.TargetBufferSize())
	}

	err := g.Wait()

	if s.config.Logger != nil {
		if err != nil {
			s.config.Logger.Error(ctx, "buffer stopped", "namespace", s.config.Namespace, "error", err)
		} else {
			s.config.Logger.Info(ctx, "buffer stopped", "namespace", s.config.Namespace)
		}
	}

	return err
}

// Stop stops the worker pool. Run returns once the workers have exited.
func (s *Service) Stop() error {
	return s.pool.Stop()
}

// SetTargetBufferSize changes the buffer target while running.
func (s *Service) SetTargetBufferSize(n int) {
	s.pool.SetTargetBufferSize(n)
}

// TargetBufferSize returns the current buffer target.
func (s *Service) TargetBufferSize() int {
	return s.pool.TargetBufferSize()
}

// States returns a snapshot of the worker states.
func (s *Service) States() []synthbuffer.WorkerState {
	return s.pool.States()
}

// Sample reads the buffer gauges once.
func (s *Service) Sample(ctx context.Context) (monitor.Sample, error) {
	return s.monitor.Sample(ctx)
}

// Reader returns the consumer side of the buffer.
func (s *Service) Reader() *consumer.Reader {
	return s.reader
}

// Queue returns the durable queue.
func (s *Service) Queue() *queue.Queue {
	return s.queue
}

// Counter returns the active worker counter.
func (s *Service) Counter() *counter.Counter {
	return s.counter
}
