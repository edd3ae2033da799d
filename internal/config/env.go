package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// envPrefix namespaces every environment variable eddi reads, following the
// teacher's own convention of a single recognizable prefix for overrides.
const envPrefix = "EDDI_"

// LoadFromEnv overlays recognized EDDI_* environment variables onto cfg.
// Unset variables leave cfg's existing values untouched, so callers
// typically call this after DefaultConfig() and before LoadFromFile so a
// config file can still win, or after LoadFromFile so the environment wins
// — order is the caller's choice, matching the teacher's layered approach.
func LoadFromEnv(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if v, ok := lookupEnv("KEY_DIR"); ok {
		cfg.KeyDir = v
	}
	if v, ok := lookupEnv("STATE_DIR"); ok {
		cfg.StateDir = v
	}
	if v, ok := lookupEnv("SOCKET_DIR"); ok {
		cfg.SocketDir = v
	}
	if v, ok := lookupEnv("SOCKET_NAME"); ok {
		cfg.SocketName = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}

	if err := overlayDuration("QUEUE_TTL", &cfg.QueueTTL); err != nil {
		return err
	}
	if err := overlayInt("QUEUE_MAX_SIZE", &cfg.QueueMaxSize); err != nil {
		return err
	}
	if err := overlayDuration("TOKEN_TTL", &cfg.TokenTTL); err != nil {
		return err
	}
	if err := overlayInt("RENDEZVOUS_WINDOW_MINUTES", &cfg.RendezvousWindow); err != nil {
		return err
	}
	if err := overlayDuration("EPHEMERAL_TIMEOUT", &cfg.EphemeralTimeout); err != nil {
		return err
	}
	if err := overlayDuration("BOOTSTRAP_TIMEOUT", &cfg.BootstrapTimeout); err != nil {
		return err
	}
	if err := overlayDuration("REACHABILITY_TIMEOUT", &cfg.ReachabilityTimeout); err != nil {
		return err
	}
	if err := overlayDuration("CONNECT_TIMEOUT", &cfg.ConnectTimeout); err != nil {
		return err
	}

	return cfg.Validate()
}

func lookupEnv(suffix string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func overlayDuration(suffix string, dst *time.Duration) error {
	v, ok := lookupEnv(suffix)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, suffix, err)
	}
	*dst = d
	return nil
}

func overlayInt(suffix string, dst *int) error {
	v, ok := lookupEnv(suffix)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, suffix, err)
	}
	*dst = n
	return nil
}
