// Package config loads the broker process configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wheelhouse-dev/wheelhouse/pkg/server"
)

// Default configuration values exported for documentation and validation.
const (
	DefaultListen           = "127.0.0.1:4724"
	DefaultLogLevel         = "info"
	DefaultLogFlushInterval = 250 * time.Millisecond
)

// Config is the complete wheelhouse process configuration.
type Config struct {
	// Listen is the gateway bind address.
	Listen string `yaml:"listen"`

	// NATSURL switches the event bus from in-memory to NATS when set.
	NATSURL string `yaml:"nats_url"`

	// LogLevel controls the ambient structured logger (debug/info/warn/error).
	LogLevel string `yaml:"log_level"`

	// LogFlushInterval is the server-log batch tick.
	LogFlushInterval time.Duration `yaml:"log_flush_interval"`

	// Server configures the embedded automation server.
	Server server.Config `yaml:"server"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Listen:           DefaultListen,
		LogLevel:         DefaultLogLevel,
		LogFlushInterval: DefaultLogFlushInterval,
		Server:           server.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.LogFlushInterval < 0 {
		return fmt.Errorf("log_flush_interval must be zero or positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
