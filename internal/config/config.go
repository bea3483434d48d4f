// Package config provides process configuration loaded from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds desktop-bridge process configuration. What the application
// is (windows, allowlist, updater) lives in the app config file instead.
type Config struct {
	// COMMS: NATS used by out-of-process windows and the event mirror.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"desktop-bridge"`
	// EmbedNATS starts an in-process NATS server on COMMS_URL's port instead
	// of connecting to an external one.
	EmbedNATS bool `envconfig:"EMBED_NATS" default:"false"`

	SubjectPrefix      string `envconfig:"BRIDGE_SUBJECT_PREFIX" default:"bridge"`
	EventMirrorSubject string `envconfig:"EVENT_MIRROR_SUBJECT"`

	// RequestTimeout bounds each command handler.
	RequestTimeout time.Duration `envconfig:"BRIDGE_REQUEST_TIMEOUT" default:"25s"`

	AppConfigFile string `envconfig:"APP_CONFIG_FILE"`

	// Database: empty DATABASE_URL disables the invocation journal.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// HTTP: health, readiness, journal and the WebSocket endpoint.
	HTTPAddr           string        `envconfig:"BRIDGE_HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`
	// WSOrigins lists cross-origin hosts allowed on the WebSocket endpoint.
	WSOrigins []string `envconfig:"WS_ALLOWED_ORIGINS"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListenAddr returns BRIDGE_HTTP_ADDR, or all interfaces on HTTP_PORT.
func (c *Config) ListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// JournalEnabled reports whether invocations are written to Postgres.
func (c *Config) JournalEnabled() bool {
	return c.DatabaseURL != ""
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidateForServe checks required config when running the bridge.
func (c *Config) ValidateForServe() error {
	if c.SubjectPrefix == "" || strings.ContainsAny(c.SubjectPrefix, " *>") {
		return fmt.Errorf("%s - BRIDGE_SUBJECT_PREFIX %q is not a valid subject prefix", logPrefix, c.SubjectPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - BRIDGE_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.HTTPAddr == "" && (c.HTTPPort <= 0 || c.HTTPPort > 65535) {
		return fmt.Errorf("%s - HTTP_PORT %d out of range", logPrefix, c.HTTPPort)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
