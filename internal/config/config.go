// Package config provides eddi's configuration: struct tags + env-var
// overlay + TOML file overlay + validation, generalizing the teacher's own
// pkg/config loader/schema pattern (see DESIGN.md).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is eddi's full runtime configuration: the union of every knob a
// server, broker, or client needs across spec.md §4.6–§4.8.
type Config struct {
	// Filesystem layout
	KeyDir     string `toml:"key_dir"`     // per-nickname ed25519 identity material (internal/identity)
	StateDir   string `toml:"state_dir"`   // StateStore's sqlite database directory
	SocketDir  string `toml:"socket_dir"`  // UDS socket files live under SocketDir/<name>.sock
	SocketName string `toml:"socket_name"` // socket file basename for this instance

	// Queue (spec.md §4.3 MessageQueue)
	QueueTTL     time.Duration `toml:"queue_ttl"`
	QueueMaxSize int           `toml:"queue_max_size"`

	// Handshake / access tokens (spec.md §4.4, §4.7)
	TokenTTL        time.Duration `toml:"token_ttl"`
	RendezvousWindow int          `toml:"rendezvous_window_minutes"`

	// Ephemeral broker (spec.md §4.6 "new_broker")
	EphemeralTimeout time.Duration `toml:"ephemeral_timeout"`

	// Cancellation & timeouts (spec.md §5)
	BootstrapTimeout    time.Duration `toml:"bootstrap_timeout"`
	ReachabilityTimeout time.Duration `toml:"reachability_timeout"`
	ConnectTimeout      time.Duration `toml:"connect_timeout"`

	// Logging
	LogLevel string `toml:"log_level"`
}

// DefaultConfig returns a Config with spec.md's stated defaults (§4.3,
// §4.4, §5), mirroring the teacher's DefaultConfig constructor shape.
func DefaultConfig() *Config {
	return &Config{
		KeyDir:     "./eddi-data/keys",
		StateDir:   "./eddi-data/state",
		SocketDir:  "./eddi-data/sockets",
		SocketName: "eddi.sock",

		QueueTTL:     5 * time.Minute,
		QueueMaxSize: 1000,

		TokenTTL:         time.Hour,
		RendezvousWindow: 2,

		EphemeralTimeout: 10 * time.Minute,

		BootstrapTimeout:    60 * time.Second,
		ReachabilityTimeout: 60 * time.Second,
		ConnectTimeout:      10 * time.Second,

		LogLevel: "info",
	}
}

// Validate checks that the configuration is internally consistent,
// following the teacher's Validate pattern.
func (c *Config) Validate() error {
	if c.KeyDir == "" {
		return fmt.Errorf("KeyDir is required")
	}
	if c.StateDir == "" {
		return fmt.Errorf("StateDir is required")
	}
	if c.SocketDir == "" {
		return fmt.Errorf("SocketDir is required")
	}
	if c.SocketName == "" {
		return fmt.Errorf("SocketName is required")
	}
	if c.QueueTTL <= 0 {
		return fmt.Errorf("QueueTTL must be positive")
	}
	if c.QueueMaxSize < 1 {
		return fmt.Errorf("QueueMaxSize must be at least 1")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TokenTTL must be positive")
	}
	if c.RendezvousWindow < 1 {
		return fmt.Errorf("RendezvousWindow must be at least 1 minute")
	}
	if c.EphemeralTimeout <= 0 {
		return fmt.Errorf("EphemeralTimeout must be positive")
	}
	if c.BootstrapTimeout <= 0 {
		return fmt.Errorf("BootstrapTimeout must be positive")
	}
	if c.ReachabilityTimeout <= 0 {
		return fmt.Errorf("ReachabilityTimeout must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("ConnectTimeout must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid LogLevel: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a deep copy of the configuration (Config has no reference
// fields today, but Clone is kept so callers never assume shared state —
// mirrors the teacher's own Clone on a struct that, at the time, also had
// no slices left after trimming).
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// LoadFromFile overlays TOML-formatted configuration from path onto cfg.
// Unset fields in the file leave cfg's existing values untouched since
// go-toml/v2 only writes fields present in the document.
func LoadFromFile(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg.Validate()
}

// SaveToFile writes cfg as TOML to path, for operators who want to capture
// a running configuration (mirrors the teacher's SaveToFile).
func SaveToFile(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
