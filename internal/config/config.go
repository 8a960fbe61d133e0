// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transport mode names accepted by TRANSPORT.
const (
	TransportPoll = "poll"
	TransportPush = "push"
)

// Config holds all client configuration.
type Config struct {
	APIBaseURL     string        // REST base URL of the remote service
	RealtimeURL    string        // WebSocket URL of the realtime endpoint
	Transport      string        // "poll" or "push"
	DBPath         string        // SQLite file backing the session store
	PollInterval   time.Duration // poll transport tick period
	RequestTimeout time.Duration // per-request HTTP timeout
	TypingTimeout  time.Duration // safety-net window clearing the typing indicator
	Reconnect      ReconnectConfig
}

// ReconnectConfig controls push-transport reconnection backoff.
type ReconnectConfig struct {
	Enabled     bool
	InitialWait time.Duration
	MaxWait     time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:8080"),
		RealtimeURL:    getEnv("REALTIME_URL", "ws://localhost:8080/realtime"),
		Transport:      strings.ToLower(getEnv("TRANSPORT", TransportPoll)),
		DBPath:         getEnv("DB_PATH", "./data/relaychat.db"),
		PollInterval:   getEnvDuration("POLL_INTERVAL", time.Second),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		TypingTimeout:  getEnvDuration("TYPING_TIMEOUT", 15*time.Second),
		Reconnect: ReconnectConfig{
			Enabled:     getEnvBool("RECONNECT_ENABLED", true),
			InitialWait: getEnvDuration("RECONNECT_INITIAL_WAIT", time.Second),
			MaxWait:     getEnvDuration("RECONNECT_MAX_WAIT", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL cannot be empty")
	}
	if c.Transport != TransportPoll && c.Transport != TransportPush {
		return fmt.Errorf("TRANSPORT must be %q or %q, got %q", TransportPoll, TransportPush, c.Transport)
	}
	if c.Transport == TransportPush && c.RealtimeURL == "" {
		return fmt.Errorf("REALTIME_URL cannot be empty when TRANSPORT=push")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("TYPING_TIMEOUT must be > 0")
	}
	if c.Reconnect.Enabled && c.Reconnect.InitialWait <= 0 {
		return fmt.Errorf("RECONNECT_INITIAL_WAIT must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	// Accept both Go duration syntax ("1500ms") and bare seconds ("2").
	if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
		return d
	}
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
