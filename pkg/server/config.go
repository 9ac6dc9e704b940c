package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
)

// Default configuration values exported for documentation and validation.
const (
	DefaultAddress      = "0.0.0.0"
	DefaultPort         = 4723
	DefaultLogLevel     = "info"
	DefaultReadyTimeout = 20 * time.Second
	DefaultReadyPattern = "listener started"
)

// Config controls how the embedded automation server is launched.
type Config struct {
	// ServerPath is the server executable to launch.
	ServerPath string `yaml:"server_path"`

	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
	LogLevel string `yaml:"log_level"`

	// SessionOverride lets a new remote session replace an existing one
	// on the embedded server.
	SessionOverride bool `yaml:"session_override"`
	RelaxedSecurity bool `yaml:"relaxed_security"`

	// DefaultCapabilities are merged into every session the embedded
	// server creates. An empty map is dropped during normalization so it
	// never shows up in args or diagnostics.
	DefaultCapabilities automation.Capabilities `yaml:"default_capabilities,omitempty"`

	// ReadyTimeout bounds how long Start waits for the ready line.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`

	// ReadyPattern is the substring of server output that marks the
	// server as listening.
	ReadyPattern string `yaml:"ready_pattern"`
}

// DefaultConfig returns the stock embedded-server configuration.
func DefaultConfig() Config {
	return Config{
		ServerPath:   "appium",
		Address:      DefaultAddress,
		Port:         DefaultPort,
		LogLevel:     DefaultLogLevel,
		ReadyTimeout: DefaultReadyTimeout,
		ReadyPattern: DefaultReadyPattern,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.ServerPath) != "" {
		defaults.ServerPath = c.ServerPath
	}
	if strings.TrimSpace(c.Address) != "" {
		defaults.Address = c.Address
	}
	if c.Port != 0 {
		defaults.Port = c.Port
	}
	if strings.TrimSpace(c.BasePath) != "" {
		defaults.BasePath = c.BasePath
	}
	if strings.TrimSpace(c.LogLevel) != "" {
		defaults.LogLevel = c.LogLevel
	}
	defaults.SessionOverride = c.SessionOverride
	defaults.RelaxedSecurity = c.RelaxedSecurity
	if len(c.DefaultCapabilities) > 0 {
		defaults.DefaultCapabilities = c.DefaultCapabilities
	}
	if c.ReadyTimeout != 0 {
		defaults.ReadyTimeout = c.ReadyTimeout
	}
	if strings.TrimSpace(c.ReadyPattern) != "" {
		defaults.ReadyPattern = c.ReadyPattern
	}
	return defaults
}

// normalized merges defaults and strips degenerate fields. An empty
// default-capabilities map is removed entirely rather than carried around
// as "{}".
func (c Config) normalized() Config {
	merged := c.withDefaults()
	if len(merged.DefaultCapabilities) == 0 {
		merged.DefaultCapabilities = nil
	}
	return merged
}

// Validate checks whether the config is launchable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ServerPath) == "" {
		return errors.New("server_path is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.ReadyTimeout < 0 {
		return errors.New("ready_timeout must be zero or positive")
	}
	return nil
}

// Args builds the command-line arguments for the server binary.
func (c Config) Args() []string {
	args := []string{
		"--address", c.Address,
		"--port", fmt.Sprintf("%d", c.Port),
		"--log-level", c.LogLevel,
	}
	if c.BasePath != "" {
		args = append(args, "--base-path", c.BasePath)
	}
	if c.SessionOverride {
		args = append(args, "--session-override")
	}
	if c.RelaxedSecurity {
		args = append(args, "--relaxed-security")
	}
	if len(c.DefaultCapabilities) > 0 {
		args = append(args, "--default-capabilities", capabilitiesJSON(c.DefaultCapabilities))
	}
	return args
}
