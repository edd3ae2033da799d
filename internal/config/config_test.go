package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
	if cfg.QueueTTL != 5*time.Minute {
		t.Errorf("QueueTTL = %v, want 5m", cfg.QueueTTL)
	}
	if cfg.TokenTTL != time.Hour {
		t.Errorf("TokenTTL = %v, want 1h", cfg.TokenTTL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty KeyDir", func(c *Config) { c.KeyDir = "" }},
		{"empty StateDir", func(c *Config) { c.StateDir = "" }},
		{"zero QueueTTL", func(c *Config) { c.QueueTTL = 0 }},
		{"zero QueueMaxSize", func(c *Config) { c.QueueMaxSize = 0 }},
		{"zero TokenTTL", func(c *Config) { c.TokenTTL = 0 }},
		{"zero RendezvousWindow", func(c *Config) { c.RendezvousWindow = 0 }},
		{"bad LogLevel", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.LogLevel = "debug"

	if cfg.LogLevel == "debug" {
		t.Fatal("mutating the clone should not affect the original")
	}
}

func TestLoadFromFileOverlaysTOML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/eddi.toml"
	doc := `log_level = "debug"
queue_ttl = "10m"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("failed to write test config file: %v", err)
	}

	cfg := DefaultConfig()
	if err := LoadFromFile(path, cfg); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.QueueTTL != 10*time.Minute {
		t.Errorf("QueueTTL = %v, want 10m", cfg.QueueTTL)
	}
	// Untouched fields keep their defaults.
	if cfg.TokenTTL != time.Hour {
		t.Errorf("TokenTTL should be untouched, got %v", cfg.TokenTTL)
	}
}
