package monitor

import (
	"context"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/synthbuffer/metrics"
)

// Queue reports the buffer depth.
type Queue interface {
	Len(ctx context.Context) (int, error)
}

// Counter reports the number of workers currently producing.
type Counter interface {
	Get(ctx context.Context) (int, error)
}

// Purger is implemented by stores that need expired records swept explicitly.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Config holds configuration for the Monitor.
type Config struct {
	// Queue is sampled for its length (required).
	Queue Queue

	// Counter is sampled for the active worker count (required).
	Counter Counter

	// Purger sweeps expired records on every tick (optional).
	Purger Purger

	// Interval is the time between samples (default: 5s).
	Interval time.Duration

	// Collector receives the sampled gauges (optional).
	Collector *metrics.Collector

	// Logger is for observability (optional).
	Logger es.Logger
}

// Sample is one reading of the buffer.
type Sample struct {
	QueueLength   int
	ActiveWorkers int
	Purged        int
}

// Monitor periodically samples the shared buffer into gauges.
type Monitor struct {
	config Config
}

// New creates a new Monitor with the given configuration.
// Applies default values for Interval if not set.
func New(cfg Config) *Monitor {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}

	return &Monitor{
		config: cfg,
	}
}

// Run samples at the configured interval until the context is cancelled.
// Failed samples are logged and the loop continues.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sample(ctx); err != nil {
				if m.config.Logger != nil {
					m.config.Logger.Error(ctx, "buffer sample failed", "error", err)
				}
			}
		}
	}
}

// Sample reads the queue length and active worker count once, publishes
// them, and sweeps expired records if a Purger is configured.
// Gauges are only updated for readings that succeeded.
func (m *Monitor) Sample(ctx context.Context) (Sample, error) {
	var s Sample

	n, err := m.config.Queue.Len(ctx)
	if err != nil {
		return s, err
	}
	s.QueueLength = n

	active, err := m.config.Counter.Get(ctx)
	if err != nil {
		return s, err
	}
	s.ActiveWorkers = active

	if m.config.Collector != nil {
		m.config.Collector.SetQueueLength(s.QueueLength)
		m.config.Collector.SetActiveWorkers(s.ActiveWorkers)
	}

	if m.config.Purger != nil {
		purged, err := m.config.Purger.PurgeExpired(ctx)
		if err != nil {
			return s, err
		}
		s.Purged = purged
	}

	if m.config.Logger != nil {
		m.config.Logger.Debug(ctx, "buffer sampled", "queueLength", s.QueueLength, "active", s.ActiveWorkers, "purged", s.Purged)
	}

	return s, nil
}
