package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lattice-ctf/flagbroker/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Server.Addr != ":4000" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":4000")
	}

	if cfg.Server.GMax != 10 {
		t.Errorf("Server.GMax = %d, want %d", cfg.Server.GMax, 10)
	}

	if cfg.Server.MaxCmdLen != 250 {
		t.Errorf("Server.MaxCmdLen = %d, want %d", cfg.Server.MaxCmdLen, 250)
	}

	if cfg.Server.MaxFlagRetries != 5 {
		t.Errorf("Server.MaxFlagRetries = %d, want %d", cfg.Server.MaxFlagRetries, 5)
	}

	if cfg.Server.AcceptIdleSleep != 100*time.Millisecond {
		t.Errorf("Server.AcceptIdleSleep = %v, want %v", cfg.Server.AcceptIdleSleep, 100*time.Millisecond)
	}

	if cfg.Server.HandlerTimer != 1*time.Second {
		t.Errorf("Server.HandlerTimer = %v, want %v", cfg.Server.HandlerTimer, 1*time.Second)
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Admin.Addr != ":9101" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":9101")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
server:
  addr: ":6000"
  g_max: 20
  max_cmd_len: 300
  max_flag_retries: 3
  accept_idle_sleep: "50ms"
  handler_timer: "2s"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
admin:
  addr: ":9201"
log:
  level: "debug"
  format: "text"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Server.Addr != ":6000" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":6000")
	}

	if cfg.Server.GMax != 20 {
		t.Errorf("Server.GMax = %d, want %d", cfg.Server.GMax, 20)
	}

	if cfg.Server.MaxCmdLen != 300 {
		t.Errorf("Server.MaxCmdLen = %d, want %d", cfg.Server.MaxCmdLen, 300)
	}

	if cfg.Server.MaxFlagRetries != 3 {
		t.Errorf("Server.MaxFlagRetries = %d, want %d", cfg.Server.MaxFlagRetries, 3)
	}

	if cfg.Server.AcceptIdleSleep != 50*time.Millisecond {
		t.Errorf("Server.AcceptIdleSleep = %v, want %v", cfg.Server.AcceptIdleSleep, 50*time.Millisecond)
	}

	if cfg.Server.HandlerTimer != 2*time.Second {
		t.Errorf("Server.HandlerTimer = %v, want %v", cfg.Server.HandlerTimer, 2*time.Second)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Admin.Addr != ":9201" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":9201")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override server.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
server:
  addr: ":5555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Server.Addr != ":5555" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":5555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Server.GMax != 10 {
		t.Errorf("Server.GMax = %d, want default %d", cfg.Server.GMax, 10)
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Admin.Addr != ":9101" {
		t.Errorf("Admin.Addr = %q, want default %q", cfg.Admin.Addr, ":9101")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Server.HandlerTimer != 1*time.Second {
		t.Errorf("Server.HandlerTimer = %v, want default %v", cfg.Server.HandlerTimer, 1*time.Second)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty server addr",
			modify: func(cfg *config.Config) {
				cfg.Server.Addr = ""
			},
			wantErr: config.ErrEmptyServerAddr,
		},
		{
			name: "zero g_max",
			modify: func(cfg *config.Config) {
				cfg.Server.GMax = 0
			},
			wantErr: config.ErrInvalidGMax,
		},
		{
			name: "negative g_max",
			modify: func(cfg *config.Config) {
				cfg.Server.GMax = -1
			},
			wantErr: config.ErrInvalidGMax,
		},
		{
			name: "zero max_cmd_len",
			modify: func(cfg *config.Config) {
				cfg.Server.MaxCmdLen = 0
			},
			wantErr: config.ErrInvalidMaxCmdLen,
		},
		{
			name: "zero max_flag_retries",
			modify: func(cfg *config.Config) {
				cfg.Server.MaxFlagRetries = 0
			},
			wantErr: config.ErrInvalidMaxFlagRetries,
		},
		{
			name: "zero accept_idle_sleep",
			modify: func(cfg *config.Config) {
				cfg.Server.AcceptIdleSleep = 0
			},
			wantErr: config.ErrInvalidAcceptIdleSleep,
		},
		{
			name: "negative accept_idle_sleep",
			modify: func(cfg *config.Config) {
				cfg.Server.AcceptIdleSleep = -1 * time.Millisecond
			},
			wantErr: config.ErrInvalidAcceptIdleSleep,
		},
		{
			name: "zero handler_timer",
			modify: func(cfg *config.Config) {
				cfg.Server.HandlerTimer = 0
			},
			wantErr: config.ErrInvalidHandlerTimer,
		},
		{
			name: "negative handler_timer",
			modify: func(cfg *config.Config) {
				cfg.Server.HandlerTimer = -1 * time.Second
			},
			wantErr: config.ErrInvalidHandlerTimer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
server:
  addr: ":4000"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("FLAGBROKER_SERVER_ADDR", ":6000")
	t.Setenv("FLAGBROKER_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Server.Addr != ":6000" {
		t.Errorf("Server.Addr = %q, want %q (from env)", cfg.Server.Addr, ":6000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
server:
  addr: ":4000"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("FLAGBROKER_METRICS_ADDR", ":9200")
	t.Setenv("FLAGBROKER_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "flagbroker.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
