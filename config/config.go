// Package config provides configuration loading and hot reload for semgate.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete semgate configuration file.
type Config struct {
	NATS    NATSConfig    `yaml:"nats"`
	Metrics MetricsConfig `yaml:"metrics"`
	// Autonomy is the autonomy-scheduler component config, passed through
	// as JSON.
	Autonomy map[string]any `yaml:"autonomy"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL, comma separated for a cluster
	URL string `yaml:"url"`
	// Name is the client connection name
	Name string `yaml:"name"`
	// ConnectTimeout bounds the wait for the first connection
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Addr is the listen address of the /metrics endpoint
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			Name:           "semgate",
			ConnectTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.NATS.ConnectTimeout <= 0 {
		return fmt.Errorf("nats.connect_timeout must be positive")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	if _, err := c.AutonomyJSON(); err != nil {
		return err
	}
	return nil
}

// AutonomyJSON returns the autonomy section as component config JSON. An
// absent section yields an empty object so the component defaults apply.
func (c *Config) AutonomyJSON() (json.RawMessage, error) {
	if len(c.Autonomy) == 0 {
		return json.RawMessage(`{}`), nil
	}
	data, err := json.Marshal(c.Autonomy)
	if err != nil {
		return nil, fmt.Errorf("autonomy section is not valid JSON: %w", err)
	}
	return data, nil
}

// Parse reads YAML over the defaults after expanding ${VAR} references
// against the environment.
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
