package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/metrics"
	"github.com/getpup/synthbuffer/store"
)

// DefaultLockTimeout bounds both the wait for the counter lock and the lock lease.
const DefaultLockTimeout = 60 * time.Second

// Config holds configuration for the active-worker counter.
type Config struct {
	// Store is the shared store holding the counter (required).
	Store store.SharedStore

	// Namespace prefixes the counter key (default: "synthetic").
	Namespace string

	// LockTimeout bounds the lock wait and lease (default: 60s).
	LockTimeout time.Duration

	// Logger is for observability (optional).
	Logger es.Logger

	// Collector records lock wait and active worker metrics (optional).
	Collector *metrics.Collector
}

// Counter is a non-negative integer in the shared store counting workers
// currently producing. Every mutation is a read-modify-write under a named
// lock, so increments and decrements from any process never lose updates.
type Counter struct {
	config Config
}

// New creates a new Counter with the given configuration.
// Applies default values for Namespace and LockTimeout if not set.
func New(cfg Config) *Counter {
	if cfg.Namespace == "" {
		cfg.Namespace = "synthetic"
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}

	return &Counter{config: cfg}
}

// Key returns the store key of the counter value.
func (c *Counter) Key() string {
	return c.config.Namespace + ":num_workers_active"
}

// LockName returns the name of the lock guarding the counter.
func (c *Counter) LockName() string {
	return c.Key() + ":lock"
}

// Get returns the current value. A missing key reads as 0.
func (c *Counter) Get(ctx context.Context) (int, error) {
	return c.read(ctx)
}

// AdjustBy adds delta to the counter under the lock, clamping at 0.
// Returns the stored value.
func (c *Counter) AdjustBy(ctx context.Context, delta int) (int, error) {
	value, _, err := c.AdjustIf(ctx, delta, nil)
	return value, err
}

// AdjustIf is AdjustBy guarded by a predicate evaluated under the lock.
// allow receives the current value; when it returns false the counter is left
// untouched and applied is false. A nil allow always applies the delta.
// An error from allow aborts the adjustment and is returned as is.
func (c *Counter) AdjustIf(ctx context.Context, delta int, allow func(current int) (bool, error)) (value int, applied bool, err error) {
	start := time.Now()
	lock, err := c.config.Store.AcquireLock(ctx, c.LockName(), c.config.LockTimeout)
	if err != nil {
		return 0, false, fmt.Errorf("failed to lock counter: %w", err)
	}
	if c.config.Collector != nil {
		c.config.Collector.ObserveLockWait(time.Since(start).Seconds())
	}

	defer func() {
		// Release must run even if ctx was cancelled while holding the lock.
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && c.config.Logger != nil {
			c.config.Logger.Error(ctx, "failed to release counter lock", "lock", c.LockName(), "error", releaseErr)
		}
	}()

	current, err := c.read(ctx)
	if err != nil {
		return 0, false, err
	}

	if allow != nil {
		ok, err := allow(current)
		if err != nil {
			return current, false, err
		}
		if !ok {
			return current, false, nil
		}
	}

	next := max(current+delta, 0)
	if err := c.config.Store.Set(ctx, c.Key(), strconv.Itoa(next), 0); err != nil {
		return current, false, synthbuffer.Unavailable("failed to write counter", err)
	}

	if c.config.Collector != nil {
		c.config.Collector.SetActiveWorkers(next)
	}
	if c.config.Logger != nil {
		c.config.Logger.Debug(ctx, "active worker counter adjusted", "delta", delta, "value", next)
	}

	return next, true, nil
}

// Reset brings the counter back to 0. It is tolerant of an already-zero counter.
func (c *Counter) Reset(ctx context.Context) (int, error) {
	current, err := c.Get(ctx)
	if err != nil {
		return 0, err
	}
	return c.AdjustBy(ctx, -current)
}

func (c *Counter) read(ctx context.Context) (int, error) {
	raw, ok, err := c.config.Store.Get(ctx, c.Key())
	if err != nil {
		return 0, synthbuffer.Unavailable("failed to read counter", err)
	}
	if !ok {
		return 0, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid counter value %q: %w", raw, err)
	}
	return n, nil
}
