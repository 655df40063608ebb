// Flagbroker daemon -- pairs clients into sessions, provisions a secret
// flag token per seat, and brokers shell-command traffic between the
// pair until one side submits the other's flag.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-ctf/flagbroker/internal/admin"
	"github.com/lattice-ctf/flagbroker/internal/config"
	"github.com/lattice-ctf/flagbroker/internal/game"
	"github.com/lattice-ctf/flagbroker/internal/metrics"
	"github.com/lattice-ctf/flagbroker/internal/netio"
	appversion "github.com/lattice-ctf/flagbroker/internal/version"
)

// shutdownTimeout bounds how long the HTTP servers may take to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// drainPollInterval bounds how often the shutdown coordinator polls the
// manager's live-handler count while draining.
const drainPollInterval = 50 * time.Millisecond

// drainMaxWait bounds how long the coordinator waits for every handler
// to exit before giving up and closing the listener anyway.
const drainMaxWait = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("flagbroker starting",
		slog.String("version", appversion.Version),
		slog.String("server_addr", cfg.Server.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.Int("g_max", cfg.Server.GMax),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	mgr := game.NewManager(logger, cfg.Server.GMax,
		game.WithMetrics(collector),
		game.WithMaxFlagRetries(cfg.Server.MaxFlagRetries),
		game.WithHandlerTimer(cfg.Server.HandlerTimer),
	)

	ln, err := netio.Listen(cfg.Server.Addr, netio.WithPollInterval(cfg.Server.AcceptIdleSleep))
	if err != nil {
		logger.Error("failed to bind game listener", slog.String("error", err.Error()))
		return 1
	}

	if err := runServers(cfg, mgr, ln, reg, logger); err != nil {
		logger.Error("flagbroker exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("flagbroker stopped")
	return 0
}

// runServers wires the game scheduler, metrics server, and admin server
// together under one signal-aware errgroup context, grounded on the
// teacher's runServers/gracefulShutdown pattern.
func runServers(
	cfg *config.Config,
	mgr *game.Manager,
	ln *netio.Listener,
	reg *prometheus.Registry,
	logger *slog.Logger,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	adminSrv := admin.New(cfg.Admin.Addr, mgr, logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGHUP,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("game server listening", slog.String("addr", ln.Addr().String()))
		return mgr.Serve(gCtx, ln)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(ctx, mgr, ln, logger, metricsSrv, adminSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// systemd integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured watchdog interval. It exits immediately if no watchdog is
// configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// Graceful shutdown — reaper drain + HTTP server shutdown
// -------------------------------------------------------------------------

// gracefulShutdown marks the manager as shutting down (refusing new
// connections and signalling every handler via ctx cancellation), waits
// for live handlers to drain to zero (the shutdown coordinator's bounded
// poll from spec.md §4.6), reaps any session slots that emptied during
// the drain, then closes the listener and shuts down the HTTP servers.
func gracefulShutdown(
	ctx context.Context,
	mgr *game.Manager,
	ln *netio.Listener,
	logger *slog.Logger,
	servers ...interface{ Shutdown(context.Context) error },
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	mgr.Shutdown()

	deadline := time.Now().Add(drainMaxWait)
	for mgr.LiveHandlers() > 0 && time.Now().Before(deadline) {
		time.Sleep(drainPollInterval)
		mgr.Reap()
	}
	mgr.Reap()

	if remaining := mgr.LiveHandlers(); remaining > 0 {
		logger.Warn("shutdown drain timed out with live handlers remaining",
			slog.Int64("live_handlers", remaining),
		)
	}

	if err := ln.Close(); err != nil {
		logger.Warn("failed to close game listener", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Server setup
// -------------------------------------------------------------------------

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
