// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required bridge credentials, use ValidateBridgeReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Gateway bridge
	BridgeURL string // websocket URL of the platform adapter
	BotKey    string // the bot's own user key, for presence self-filtering

	// Recording
	RecordChannel      string  // voice channel users are pulled into
	MinDurationSeconds float64 // below this a recording is rejected
	DataDir            string

	// Entitlement service (optional; static default policy when empty)
	EntitlementURL          string
	EntitlementTokenURL     string
	EntitlementClientID     string
	EntitlementClientSecret string

	// Database (optional; history disabled when empty)
	DBDsn string

	// Telemetry
	JournalPath string
}

// Load reads environment variables and applies defaults. It doesn't fail when
// optional services are unconfigured; missing optional variables disable
// features (entitlement lookups, history store).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.BridgeURL = os.Getenv("BRIDGE_URL")
	if cfg.BridgeURL == "" {
		cfg.BridgeURL = "ws://localhost:7733/gateway"
	}
	cfg.BotKey = os.Getenv("BOT_USER_KEY")

	cfg.RecordChannel = os.Getenv("RECORD_CHANNEL")
	if cfg.RecordChannel == "" {
		cfg.RecordChannel = "Voice-Cord"
	}

	cfg.MinDurationSeconds = 0.01
	if v := os.Getenv("MIN_DURATION_SECONDS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid MIN_DURATION_SECONDS: %q", v)
		}
		cfg.MinDurationSeconds = f
	}

	cfg.DataDir = os.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	cfg.EntitlementURL = os.Getenv("ENTITLEMENT_URL")
	cfg.EntitlementTokenURL = os.Getenv("ENTITLEMENT_TOKEN_URL")
	cfg.EntitlementClientID = os.Getenv("ENTITLEMENT_CLIENT_ID")
	cfg.EntitlementClientSecret = os.Getenv("ENTITLEMENT_CLIENT_SECRET")

	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.JournalPath = os.Getenv("JOURNAL_PATH")
	if cfg.JournalPath == "" {
		cfg.JournalPath = "telemetry/info.txt"
	}

	return cfg, nil
}

// ValidateBridgeReady checks required fields for connecting to the platform adapter.
func (c *Config) ValidateBridgeReady() error {
	if c.BridgeURL == "" || c.BotKey == "" {
		return fmt.Errorf("missing bridge env: require BRIDGE_URL, BOT_USER_KEY")
	}
	return nil
}

// EnvDuration parses an env var as a duration with a default, ignoring bad values.
func EnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
