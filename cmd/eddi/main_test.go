package main

import (
	"errors"
	"testing"

	"github.com/opd-ai/eddi/internal/config"
	"github.com/opd-ai/eddi/internal/errs"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"configuration error exits 2", errs.ConfigurationError("bad config", nil), 2},
		{"bootstrap error exits 2", errs.BootstrapError("bootstrap failed", nil), 2},
		{"protocol error exits 1", errs.ProtocolError("malformed message", nil), 1},
		{"plain error exits 1", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewLoggerParsesConfiguredLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = "debug"
	if log := newLogger(cfg); log == nil {
		t.Fatal("newLogger returned nil")
	}
}
