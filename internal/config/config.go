// Package config manages the flag broker daemon's configuration using
// koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete flagbroker daemon configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Metrics MetricsConfig `koanf:"metrics"`
	Admin   AdminConfig   `koanf:"admin"`
	Log     LogConfig     `koanf:"log"`
}

// ServerConfig holds the game server's listen address and the scheduler
// tunables from spec.md §6.
type ServerConfig struct {
	// Addr is the TCP listen address for game clients (e.g., ":4000").
	Addr string `koanf:"addr"`

	// GMax is the number of concurrent session slots (G_MAX).
	GMax int `koanf:"g_max"`

	// MaxCmdLen is the MAX_CMD_LEN tunable. It is validated but not
	// passed to the command validator, which always applies
	// policy.MaxCommandLen (250 bytes).
	MaxCmdLen int `koanf:"max_cmd_len"`

	// MaxFlagRetries is the number of consecutive provisioning failures
	// a seat may accumulate before it is dropped (MAX_FLAG_RETRIES).
	MaxFlagRetries int `koanf:"max_flag_retries"`

	// AcceptIdleSleep bounds how long the accept loop yields when no
	// connection is pending, to avoid a busy spin (ACCEPT_IDLE_SLEEP).
	AcceptIdleSleep time.Duration `koanf:"accept_idle_sleep"`

	// HandlerTimer bounds how long a seat handler's readiness select may
	// wait before re-checking session state (HANDLER_TIMER).
	HandlerTimer time.Duration `koanf:"handler_timer"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// AdminConfig holds the JSON admin/status endpoint configuration.
type AdminConfig struct {
	// Addr is the HTTP listen address for the admin endpoint (e.g., ":9101").
	Addr string `koanf:"addr"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with the tunable defaults from
// spec.md §6: G_MAX=10, MAX_CMD_LEN=250, MAX_FLAG_RETRIES=5,
// ACCEPT_IDLE_SLEEP=100ms, HANDLER_TIMER=1s.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":4000",
			GMax:            10,
			MaxCmdLen:       250,
			MaxFlagRetries:  5,
			AcceptIdleSleep: 100 * time.Millisecond,
			HandlerTimer:    1 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Admin: AdminConfig{
			Addr: ":9101",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for flagbroker configuration.
// Variables are named FLAGBROKER_<section>_<key>, e.g., FLAGBROKER_SERVER_ADDR.
const envPrefix = "FLAGBROKER_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (FLAGBROKER_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	FLAGBROKER_SERVER_ADDR   -> server.addr
//	FLAGBROKER_SERVER_G_MAX  -> server.g_max
//	FLAGBROKER_METRICS_ADDR  -> metrics.addr
//	FLAGBROKER_METRICS_PATH  -> metrics.path
//	FLAGBROKER_ADMIN_ADDR    -> admin.addr
//	FLAGBROKER_LOG_LEVEL     -> log.level
//	FLAGBROKER_LOG_FORMAT    -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	// FLAGBROKER_SERVER_ADDR -> server.addr (strip prefix, lowercase, first _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms FLAGBROKER_SERVER_ADDR -> server.addr.
// Strips the FLAGBROKER_ prefix, lowercases, and replaces the first _
// (the section separator) with ., so FLAGBROKER_SERVER_G_MAX maps to
// server.g_max.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"server.addr":              defaults.Server.Addr,
		"server.g_max":             defaults.Server.GMax,
		"server.max_cmd_len":       defaults.Server.MaxCmdLen,
		"server.max_flag_retries":  defaults.Server.MaxFlagRetries,
		"server.accept_idle_sleep": defaults.Server.AcceptIdleSleep.String(),
		"server.handler_timer":     defaults.Server.HandlerTimer.String(),
		"metrics.addr":             defaults.Metrics.Addr,
		"metrics.path":             defaults.Metrics.Path,
		"admin.addr":               defaults.Admin.Addr,
		"log.level":                defaults.Log.Level,
		"log.format":               defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyServerAddr indicates the game server listen address is empty.
	ErrEmptyServerAddr = errors.New("server.addr must not be empty")

	// ErrInvalidGMax indicates the session slot count is not positive.
	ErrInvalidGMax = errors.New("server.g_max must be >= 1")

	// ErrInvalidMaxCmdLen indicates the max command length is not positive.
	ErrInvalidMaxCmdLen = errors.New("server.max_cmd_len must be >= 1")

	// ErrInvalidMaxFlagRetries indicates the retry limit is not positive.
	ErrInvalidMaxFlagRetries = errors.New("server.max_flag_retries must be >= 1")

	// ErrInvalidAcceptIdleSleep indicates the accept idle sleep is not positive.
	ErrInvalidAcceptIdleSleep = errors.New("server.accept_idle_sleep must be > 0")

	// ErrInvalidHandlerTimer indicates the handler timer is not positive.
	ErrInvalidHandlerTimer = errors.New("server.handler_timer must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return ErrEmptyServerAddr
	}

	if cfg.Server.GMax < 1 {
		return ErrInvalidGMax
	}

	if cfg.Server.MaxCmdLen < 1 {
		return ErrInvalidMaxCmdLen
	}

	if cfg.Server.MaxFlagRetries < 1 {
		return ErrInvalidMaxFlagRetries
	}

	if cfg.Server.AcceptIdleSleep <= 0 {
		return ErrInvalidAcceptIdleSleep
	}

	if cfg.Server.HandlerTimer <= 0 {
		return ErrInvalidHandlerTimer
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
