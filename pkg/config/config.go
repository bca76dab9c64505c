// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poltergeist/buildvision/pkg/types"
)

// CurrentVersion is the only configuration schema version understood
const CurrentVersion = "1.0"

var (
	// ErrUnsupportedVersion is returned for an unknown schema version
	ErrUnsupportedVersion = errors.New("unsupported config version")
	// ErrInvalidConfig wraps every validation failure
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the buildvision configuration file
type Config struct {
	Version       string             `json:"version" yaml:"version"`
	Logging       LoggingConfig      `json:"logging" yaml:"logging"`
	BuildLogger   BuildLoggerConfig  `json:"buildLogger" yaml:"buildLogger"`
	Heartbeat     HeartbeatConfig    `json:"heartbeat" yaml:"heartbeat"`
	Notifications NotificationConfig `json:"notifications" yaml:"notifications"`
	History       HistoryConfig      `json:"history" yaml:"history"`
	State         StateConfig        `json:"state" yaml:"state"`
	Metrics       MetricsConfig      `json:"metrics" yaml:"metrics"`
	NATS          NATSConfig         `json:"nats" yaml:"nats"`
	Inbox         InboxConfig        `json:"inbox" yaml:"inbox"`
}

// LoggingConfig controls the process log
type LoggingConfig struct {
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
	Level string `json:"level" yaml:"level"`
}

// BuildLoggerConfig controls which engine log messages become diagnostics
type BuildLoggerConfig struct {
	Verbosity string `json:"verbosity" yaml:"verbosity"`
}

// HeartbeatConfig sets the progress tick cadence, in milliseconds
type HeartbeatConfig struct {
	QuantumMs int `json:"quantumMs" yaml:"quantumMs"`
	Quanta    int `json:"quanta" yaml:"quanta"`
}

// NotificationConfig controls desktop notifications
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty"`
}

// HistoryConfig locates the session history database
type HistoryConfig struct {
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`
	Limit int    `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// StateConfig locates the last-session snapshot
type StateConfig struct {
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// NATSConfig enables event forwarding when URL is set
type NATSConfig struct {
	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
}

// InboxConfig is the directory `serve` watches for engine scripts
type InboxConfig struct {
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// HeartbeatQuantum returns the quantum as a duration
func (c *Config) HeartbeatQuantum() time.Duration {
	return time.Duration(c.Heartbeat.QuantumMs) * time.Millisecond
}

// Verbosity returns the parsed build logger verbosity, quiet when unset
func (c *Config) Verbosity() types.Verbosity {
	v, err := types.ParseVerbosity(c.BuildLogger.Verbosity)
	if err != nil {
		return types.VerbosityQuiet
	}
	return v
}

// NotificationsEnabled reports whether notifications are on; default on
func (c *Config) NotificationsEnabled() bool {
	return c.Notifications.Enabled == nil || *c.Notifications.Enabled
}

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// Default returns the configuration used when no file is given
func Default() *Config {
	enabled := true
	return &Config{
		Version: CurrentVersion,
		Logging: LoggingConfig{Level: "info"},
		BuildLogger: BuildLoggerConfig{
			Verbosity: types.VerbosityQuiet.String(),
		},
		Heartbeat: HeartbeatConfig{
			QuantumMs: 50,
			Quanta:    5,
		},
		Notifications: NotificationConfig{Enabled: &enabled},
		History:       HistoryConfig{Path: ".buildvision/history.db", Limit: 20},
		State:         StateConfig{Dir: ".buildvision"},
		NATS:          NATSConfig{Subject: "buildvision.events"},
	}
}

// LoadConfig loads configuration from a JSON or YAML file. Missing
// sections take their default values.
func (m *Manager) LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return m.Parse(data)
}

// Parse decodes and validates configuration bytes
func (m *Manager) Parse(data []byte) (*Config, error) {
	cfg := Default()

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config as JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config as YAML: %w", err)
	}

	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *Config) error {
	if cfg.Version != CurrentVersion {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, cfg.Version)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, cfg.Logging.Level)
	}

	if cfg.BuildLogger.Verbosity != "" {
		if _, err := types.ParseVerbosity(cfg.BuildLogger.Verbosity); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if cfg.Heartbeat.QuantumMs < 0 || cfg.Heartbeat.Quanta < 0 {
		return fmt.Errorf("%w: heartbeat values must not be negative", ErrInvalidConfig)
	}

	if cfg.NATS.URL != "" && cfg.NATS.Subject == "" {
		return fmt.Errorf("%w: nats subject is required when a url is set", ErrInvalidConfig)
	}

	if cfg.History.Limit < 0 {
		return fmt.Errorf("%w: history limit must not be negative", ErrInvalidConfig)
	}
	return nil
}
