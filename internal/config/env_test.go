package config

import (
	"testing"
	"time"
)

func TestLoadFromEnvOverlaysSetVars(t *testing.T) {
	t.Setenv("EDDI_LOG_LEVEL", "warn")
	t.Setenv("EDDI_QUEUE_TTL", "30s")
	t.Setenv("EDDI_QUEUE_MAX_SIZE", "50")

	cfg := DefaultConfig()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.QueueTTL != 30*time.Second {
		t.Errorf("QueueTTL = %v, want 30s", cfg.QueueTTL)
	}
	if cfg.QueueMaxSize != 50 {
		t.Errorf("QueueMaxSize = %d, want 50", cfg.QueueMaxSize)
	}
}

func TestLoadFromEnvLeavesUnsetFieldsAlone(t *testing.T) {
	cfg := DefaultConfig()
	original := *cfg

	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if *cfg != original {
		t.Fatal("expected no changes when no EDDI_* variables are set")
	}
}

func TestLoadFromEnvRejectsInvalidDuration(t *testing.T) {
	t.Setenv("EDDI_TOKEN_TTL", "not-a-duration")

	cfg := DefaultConfig()
	if err := LoadFromEnv(cfg); err == nil {
		t.Fatal("expected an error for an invalid duration")
	}
}
