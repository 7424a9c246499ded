// Package app assembles the synthbuffer binary's components from a config.Config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/buffer"
	"github.com/getpup/synthbuffer/config"
	"github.com/getpup/synthbuffer/internal/logging"
	"github.com/getpup/synthbuffer/store"
	"github.com/getpup/synthbuffer/store/memory"
	"github.com/getpup/synthbuffer/store/postgres"
	"github.com/getpup/synthbuffer/store/redis"
	"github.com/getpup/synthbuffer/tracing"
	"github.com/getpup/synthbuffer/variant"
)

// App holds the process-wide resources built from the configuration.
type App struct {
	Config  config.Config
	Logger  *logging.Logger
	Store   store.SharedStore
	Tracing *tracing.Provider

	closeStore func() error
}

// Open creates the logger, connects the store and sets up tracing.
// Logs are written to w.
func Open(ctx context.Context, cfg config.Config, w io.Writer) (*App, error) {
	logger := logging.New(w, logging.ParseLevel(cfg.Log.Level), logging.Format(strings.ToLower(cfg.Log.Format))).
		With("namespace", cfg.Namespace, "env", string(cfg.Mode))

	s, closeStore, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	provider, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	logger.Debug(ctx, "app opened", "store", cfg.Store.Backend, "tracing", provider.Enabled())

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      s,
		Tracing:    provider,
		closeStore: closeStore,
	}, nil
}

// OpenStore connects the configured backend and checks it is reachable.
// The returned function closes the connection.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.SharedStore, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), func() error { return nil }, nil

	case config.BackendRedis, "":
		client := redis.NewClient(cfg.Redis)
		s := redis.New(client)
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr(), err)
		}
		return s, client.Close, nil

	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, synthbuffer.Unavailable("failed to connect to postgres", err)
		}
		tables := postgres.TableConfig{
			ListsTable:  cfg.Postgres.ListsTable,
			ValuesTable: cfg.Postgres.ValuesTable,
			LocksTable:  cfg.Postgres.LocksTable,
		}
		defaults := postgres.DefaultTableConfig()
		if tables.ListsTable == "" {
			tables.ListsTable = defaults.ListsTable
		}
		if tables.ValuesTable == "" {
			tables.ValuesTable = defaults.ValuesTable
		}
		if tables.LocksTable == "" {
			tables.LocksTable = defaults.LocksTable
		}
		return postgres.NewWithConfig(db, tables), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// NewService builds the buffer service for produce. A nil generate disables
// variant generation.
func (a *App) NewService(produce synthbuffer.ProduceFunc, generate variant.GenerateFunc) (*buffer.Service, error) {
	cfg := a.Config
	metricsEnabled := cfg.Metrics.Enabled

	var variantCfg *variant.Config
	if generate != nil && cfg.Variant.Count > 0 {
		strategies, err := cfg.Variant.ParseStrategies()
		if err != nil {
			return nil, err
		}
		variantCfg = &variant.Config{
			Generate:    generate,
			Count:       cfg.Variant.Count,
			Strategies:  strategies,
			Threshold:   cfg.Variant.Threshold,
			MaxAttempts: cfg.Variant.MaxAttempts,
		}
	}

	return buffer.New(buffer.Config{
		Store:            a.Store,
		Produce:          produce,
		Variant:          variantCfg,
		Namespace:        cfg.Namespace,
		Mode:             cfg.Mode,
		HistoryTTL:       cfg.Queue.HistoryTTL,
		LockTimeout:      cfg.Counter.LockTimeout,
		NumWorkers:       cfg.Pool.NumWorkers,
		TargetBufferSize: cfg.Pool.TargetBufferSize,
		SleepInterval:    cfg.Pool.SleepInterval,
		ShutdownTimeout:  cfg.Pool.ShutdownTimeout,
		MonitorInterval:  cfg.Monitor.Interval,
		Logger:           a.Logger,
		Tracer:           a.Tracing.Tracer(),
		MetricsEnabled:   &metricsEnabled,
	})
}

// Close flushes traces and closes the store connection.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.Tracing.Shutdown(ctx), a.closeStore())
}
