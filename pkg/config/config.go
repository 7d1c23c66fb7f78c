package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Connection ConnectionConfig `json:"connection"`
	Moderation ModerationConfig `json:"moderation"`
	Session    SessionConfig    `json:"session"`
	Analytics  AnalyticsConfig  `json:"analytics"`
	Log        LogConfig        `json:"log"`
}

type ServerConfig struct {
	APIBase string `env:"PARLEY_SERVER_API_BASE" json:"api_base"`
	WSURL   string `env:"PARLEY_SERVER_WS_URL"   json:"ws_url"`
}

type ConnectionConfig struct {
	ReconnectBaseMs      int `env:"PARLEY_CONNECTION_RECONNECT_BASE_MS"      json:"reconnect_base_ms"`
	MaxReconnectAttempts int `env:"PARLEY_CONNECTION_MAX_RECONNECT_ATTEMPTS" json:"max_reconnect_attempts"`
}

type ModerationConfig struct {
	Path                   string   `env:"PARLEY_MODERATION_PATH"            json:"path"`
	MaxAttempts            int      `env:"PARLEY_MODERATION_MAX_ATTEMPTS"    json:"max_attempts"`
	RetryBaseMs            int      `env:"PARLEY_MODERATION_RETRY_BASE_MS"   json:"retry_base_ms"`
	ExtraEmergencyKeywords []string `env:"PARLEY_MODERATION_EXTRA_EMERGENCY" json:"extra_emergency_keywords,omitempty"`
	TimeoutSeconds         int      `env:"PARLEY_MODERATION_TIMEOUT_SECONDS" json:"timeout_seconds"`
}

type SessionConfig struct {
	PollIntervalSeconds   int `env:"PARLEY_SESSION_POLL_INTERVAL_SECONDS"   json:"poll_interval_seconds"`
	TypingDebounceSeconds int `env:"PARLEY_SESSION_TYPING_DEBOUNCE_SECONDS" json:"typing_debounce_seconds"`
	BadgeResetSeconds     int `env:"PARLEY_SESSION_BADGE_RESET_SECONDS"     json:"badge_reset_seconds"`
}

type AnalyticsConfig struct {
	Capacity       int    `env:"PARLEY_ANALYTICS_CAPACITY"        json:"capacity"`
	SinkPath       string `env:"PARLEY_ANALYTICS_SINK_PATH"       json:"sink_path"`
	ReportSchedule string `env:"PARLEY_ANALYTICS_REPORT_SCHEDULE" json:"report_schedule"`
}

type LogConfig struct {
	Level string `env:"PARLEY_LOG_LEVEL" json:"level"`
	File  string `env:"PARLEY_LOG_FILE"  json:"file,omitempty"`
}

// DefaultConfig returns the built-in defaults. The 2-second session timings
// are the product's polling/debounce/badge cadence.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			APIBase: "https://api.parley.dev",
			WSURL:   "wss://api.parley.dev/ws",
		},
		Connection: ConnectionConfig{
			ReconnectBaseMs:      1000,
			MaxReconnectAttempts: 5,
		},
		Moderation: ModerationConfig{
			Path:           "/moderation/check",
			MaxAttempts:    3,
			RetryBaseMs:    1000,
			TimeoutSeconds: 10,
		},
		Session: SessionConfig{
			PollIntervalSeconds:   2,
			TypingDebounceSeconds: 2,
			BadgeResetSeconds:     2,
		},
		Analytics: AnalyticsConfig{
			Capacity:       1000,
			SinkPath:       "/analytics/moderation",
			ReportSchedule: "0 * * * *",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the standard config location (~/.parley/config.json).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".parley", "config.json")
}

// LoadConfig reads the config file at path, applies env overrides, and
// validates. A missing file yields the defaults (still env-overridable).
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the fields the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Server.APIBase == "" {
		return fmt.Errorf("server.api_base is required")
	}
	if c.Server.WSURL == "" {
		return fmt.Errorf("server.ws_url is required")
	}
	if c.Moderation.MaxAttempts < 1 {
		return fmt.Errorf("moderation.max_attempts must be at least 1")
	}
	if c.Connection.MaxReconnectAttempts < 1 {
		return fmt.Errorf("connection.max_reconnect_attempts must be at least 1")
	}
	if c.Analytics.Capacity < 1 {
		return fmt.Errorf("analytics.capacity must be at least 1")
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Session.PollIntervalSeconds) * time.Second
}

func (c *Config) TypingDebounce() time.Duration {
	return time.Duration(c.Session.TypingDebounceSeconds) * time.Second
}

func (c *Config) BadgeReset() time.Duration {
	return time.Duration(c.Session.BadgeResetSeconds) * time.Second
}

func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.Connection.ReconnectBaseMs) * time.Millisecond
}

func (c *Config) ModerationRetryBase() time.Duration {
	return time.Duration(c.Moderation.RetryBaseMs) * time.Millisecond
}

func (c *Config) ModerationTimeout() time.Duration {
	return time.Duration(c.Moderation.TimeoutSeconds) * time.Second
}
