package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/henrytanbeaver/reapbid/config"
	"github.com/henrytanbeaver/reapbid/internal/adapters/notify"
	"github.com/henrytanbeaver/reapbid/internal/adapters/storage"
	"github.com/henrytanbeaver/reapbid/internal/autopilot"
	"github.com/henrytanbeaver/reapbid/internal/engine"
	"github.com/henrytanbeaver/reapbid/internal/server"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one autopilot tick and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full per-game table each tick (default: compact 1-line)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("reapbid starting",
		"config", *configPath,
		"tick", cfg.TickInterval(),
		"retention", cfg.Retention(),
		"once", *once,
	)

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	feed := server.NewFeed()
	go feed.Run(ctx)

	events := storage.NewEventLog(store, feed.Publish)
	runCleanup(ctx, events, cfg.Retention())
	go cleanupLoop(ctx, events, cfg.Retention())

	eng := engine.New(store, events)
	notifier := notify.NewConsole(*table)

	sched := autopilot.New(autopilot.Config{
		TickInterval: cfg.TickInterval(),
		Once:         *once,
	}, store, eng, notifier)

	srv := server.New(server.Config{
		AdminToken: cfg.Server.AdminToken,
		RatePerSec: cfg.Server.RatePerSec,
		RateBurst:  cfg.Server.RateBurst,
	}, store, events, events, feed)

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}
	if !*once {
		go func() {
			slog.Info("admin server listening", "addr", cfg.Server.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin server exited", "err", err)
			}
		}()
	}

	if err := sched.Run(ctx); err != nil {
		slog.Error("autopilot exited with error", "err", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("admin server shutdown", "err", err)
	}

	slog.Info("reapbid stopped cleanly")
}

// runCleanup aplica la retención del monitor una vez. Un fallo no es fatal.
func runCleanup(ctx context.Context, events *storage.EventLog, retention time.Duration) {
	n, err := events.Cleanup(ctx, time.Now().Add(-retention))
	if err != nil {
		slog.Warn("event cleanup failed", "err", err)
		return
	}
	if n > 0 {
		slog.Info("event cleanup complete", "removed", n)
	}
}

// cleanupLoop repite la limpieza a diario.
func cleanupLoop(ctx context.Context, events *storage.EventLog, retention time.Duration) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCleanup(ctx, events, retention)
		}
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
