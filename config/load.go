package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SYNTHBUFFER_POOL_NUM_WORKERS.
const EnvPrefix = "SYNTHBUFFER"

// Loader reads configuration from an optional YAML file with environment overrides.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a Loader for the file at path. An empty path loads
// defaults and environment overrides only.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Connection variables shared with other services, checked after the prefixed name.
	_ = v.BindEnv("store.redis.host", EnvPrefix+"_STORE_REDIS_HOST", "REDIS_HOST")
	_ = v.BindEnv("store.redis.port", EnvPrefix+"_STORE_REDIS_PORT", "REDIS_PORT")
	_ = v.BindEnv("store.redis.username", EnvPrefix+"_STORE_REDIS_USERNAME", "REDIS_USERNAME")
	_ = v.BindEnv("store.redis.password", EnvPrefix+"_STORE_REDIS_PASSWORD", "REDIS_PASSWORD")
	_ = v.BindEnv("store.postgres.dsn", EnvPrefix+"_STORE_POSTGRES_DSN", "DATABASE_URL")

	if path != "" {
		v.SetConfigFile(path)
	}

	return &Loader{v: v, path: path}
}

// Viper exposes the underlying viper instance so callers can bind command-line flags.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads the file (if any), applies overrides and validates the result.
func (l *Loader) Load() (Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", l.path, err)
		}
	}
	return l.decode()
}

// Watch calls onChange with the reloaded configuration every time the file
// changes. Invalid configurations are passed along with their error so the
// caller can keep the previous one. Requires a file path.
func (l *Loader) Watch(onChange func(Config, error)) error {
	if l.path == "" {
		return errors.New("config watch requires a config file")
	}

	l.v.OnConfigChange(func(fsnotify.Event) {
		onChange(l.decode())
	})
	l.v.WatchConfig()
	return nil
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads the configuration at path. See Loader.
func Load(path string) (Config, error) {
	return NewLoader(path).Load()
}

// WriteDefault writes the default configuration as YAML, creating parent directories.
func WriteDefault(path string) error {
	data, err := Defaults().YAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("namespace", d.Namespace)
	v.SetDefault("env_name", string(d.Mode))

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.redis.host", d.Store.Redis.Host)
	v.SetDefault("store.redis.port", d.Store.Redis.Port)
	v.SetDefault("store.redis.username", d.Store.Redis.Username)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.postgres.dsn", d.Store.Postgres.DSN)
	v.SetDefault("store.postgres.lists_table", d.Store.Postgres.ListsTable)
	v.SetDefault("store.postgres.values_table", d.Store.Postgres.ValuesTable)
	v.SetDefault("store.postgres.locks_table", d.Store.Postgres.LocksTable)

	v.SetDefault("pool.num_workers", d.Pool.NumWorkers)
	v.SetDefault("pool.target_buffer_size", d.Pool.TargetBufferSize)
	v.SetDefault("pool.sleep_interval", d.Pool.SleepInterval)
	v.SetDefault("pool.shutdown_timeout", d.Pool.ShutdownTimeout)

	v.SetDefault("queue.history_ttl", d.Queue.HistoryTTL)
	v.SetDefault("counter.lock_timeout", d.Counter.LockTimeout)

	v.SetDefault("variant.count", d.Variant.Count)
	v.SetDefault("variant.threshold", d.Variant.Threshold)
	v.SetDefault("variant.max_attempts", d.Variant.MaxAttempts)
	v.SetDefault("variant.strategies", d.Variant.Strategies)

	v.SetDefault("monitor.interval", d.Monitor.Interval)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}
