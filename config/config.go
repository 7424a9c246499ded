// Package config loads synthbuffer settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/store/redis"
	"github.com/getpup/synthbuffer/tracing"
	"github.com/getpup/synthbuffer/variant"
)

// Store backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the complete runtime configuration.
type Config struct {
	Namespace string           `mapstructure:"namespace" yaml:"namespace"`
	Mode      synthbuffer.Mode `mapstructure:"env_name" yaml:"env_name"`
	Store     StoreConfig      `mapstructure:"store" yaml:"store"`
	Pool      PoolConfig       `mapstructure:"pool" yaml:"pool"`
	Queue     QueueConfig      `mapstructure:"queue" yaml:"queue"`
	Counter   CounterConfig    `mapstructure:"counter" yaml:"counter"`
	Variant   VariantConfig    `mapstructure:"variant" yaml:"variant"`
	Monitor   MonitorConfig    `mapstructure:"monitor" yaml:"monitor"`
	Log       LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Tracing   tracing.Config   `mapstructure:"tracing" yaml:"tracing"`
}

// StoreConfig selects and configures the shared store backend.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend" yaml:"backend"` // redis (default), postgres or memory
	Redis    redis.Options  `mapstructure:"redis" yaml:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn"`
	ListsTable  string `mapstructure:"lists_table" yaml:"lists_table"`
	ValuesTable string `mapstructure:"values_table" yaml:"values_table"`
	LocksTable  string `mapstructure:"locks_table" yaml:"locks_table"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	NumWorkers       int           `mapstructure:"num_workers"`
	TargetBufferSize int           `mapstructure:"target_buffer_size"`
	SleepInterval    time.Duration `mapstructure:"sleep_interval"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

// QueueConfig configures history retention.
type QueueConfig struct {
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

// CounterConfig configures the active worker counter.
type CounterConfig struct {
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// VariantConfig configures variant generation.
type VariantConfig struct {
	Count       int      `mapstructure:"count" yaml:"count"`
	Threshold   float64  `mapstructure:"threshold" yaml:"threshold"`
	MaxAttempts int      `mapstructure:"max_attempts" yaml:"max_attempts"`
	Strategies  []string `mapstructure:"strategies" yaml:"strategies"`
}

// MonitorConfig configures the buffer sampler.
type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig configures the binary's logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info (default), warn or error
	Format string `mapstructure:"format" yaml:"format"` // text (default) or json
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Namespace: "synthetic",
		Mode:      synthbuffer.ModeDev,
		Store: StoreConfig{
			Backend: BackendRedis,
			Redis:   redis.Options{Host: "localhost", Port: 6379},
			Postgres: PostgresConfig{
				ListsTable:  "synthbuffer_lists",
				ValuesTable: "synthbuffer_values",
				LocksTable:  "synthbuffer_locks",
			},
		},
		Pool: PoolConfig{
			NumWorkers:       25,
			TargetBufferSize: 256,
			SleepInterval:    3 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Queue:   QueueConfig{HistoryTTL: 4 * time.Hour},
		Counter: CounterConfig{LockTimeout: 60 * time.Second},
		Variant: VariantConfig{
			Count:       3,
			Threshold:   0.99,
			MaxAttempts: 2,
			Strategies:  strategyNames(variant.DefaultStrategies()),
		},
		Monitor: MonitorConfig{Interval: 5 * time.Second},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
		Tracing: tracing.DefaultConfig(),
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	var errs []error

	if c.Namespace == "" {
		errs = append(errs, errors.New("namespace is required"))
	}
	if c.Mode != synthbuffer.ModeDev && c.Mode != synthbuffer.ModeProd {
		errs = append(errs, fmt.Errorf("env_name must be \"dev\" or \"prod\", got %q", c.Mode))
	}

	switch c.Store.Backend {
	case BackendRedis, BackendMemory:
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be %q, %q or %q, got %q",
			BackendRedis, BackendPostgres, BackendMemory, c.Store.Backend))
	}

	if c.Pool.NumWorkers < 1 {
		errs = append(errs, fmt.Errorf("pool.num_workers must be at least 1, got %d", c.Pool.NumWorkers))
	}
	if c.Pool.TargetBufferSize < 0 {
		errs = append(errs, fmt.Errorf("pool.target_buffer_size must not be negative, got %d", c.Pool.TargetBufferSize))
	}
	if c.Pool.SleepInterval <= 0 {
		errs = append(errs, errors.New("pool.sleep_interval must be positive"))
	}
	if c.Counter.LockTimeout <= 0 {
		errs = append(errs, errors.New("counter.lock_timeout must be positive"))
	}

	if c.Variant.Count < 0 {
		errs = append(errs, fmt.Errorf("variant.count must not be negative, got %d", c.Variant.Count))
	}
	if c.Variant.Threshold <= 0 || c.Variant.Threshold > 1 {
		errs = append(errs, fmt.Errorf("variant.threshold must be in (0, 1], got %g", c.Variant.Threshold))
	}
	if c.Variant.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("variant.max_attempts must be at least 1, got %d", c.Variant.MaxAttempts))
	}
	if _, err := c.Variant.ParseStrategies(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// ParseStrategies converts the configured strategy names.
func (v VariantConfig) ParseStrategies() ([]variant.Strategy, error) {
	out := make([]variant.Strategy, 0, len(v.Strategies))
	for _, name := range v.Strategies {
		s, err := variant.ParseStrategy(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func strategyNames(strategies []variant.Strategy) []string {
	out := make([]string, len(strategies))
	for i, s := range strategies {
		out[i] = string(s)
	}
	return out
}
