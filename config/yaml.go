package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// YAML encodes the configuration with durations in their string form ("3s", "4h0m0s").
func (c Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(c); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()
	return buf.Bytes(), nil
}

// MarshalYAML implements yaml.Marshaler.
func (p PoolConfig) MarshalYAML() (interface{}, error) {
	return struct {
		NumWorkers       int    `yaml:"num_workers"`
		TargetBufferSize int    `yaml:"target_buffer_size"`
		SleepInterval    string `yaml:"sleep_interval"`
		ShutdownTimeout  string `yaml:"shutdown_timeout"`
	}{p.NumWorkers, p.TargetBufferSize, p.SleepInterval.String(), p.ShutdownTimeout.String()}, nil
}

// MarshalYAML implements yaml.Marshaler.
func (q QueueConfig) MarshalYAML() (interface{}, error) {
	return map[string]string{"history_ttl": q.HistoryTTL.String()}, nil
}

// MarshalYAML implements yaml.Marshaler.
func (c CounterConfig) MarshalYAML() (interface{}, error) {
	return map[string]string{"lock_timeout": c.LockTimeout.String()}, nil
}

// MarshalYAML implements yaml.Marshaler.
func (m MonitorConfig) MarshalYAML() (interface{}, error) {
	return map[string]string{"interval": m.Interval.String()}, nil
}
