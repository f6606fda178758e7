// Elastic DCA Engine — the decision server behind a dual-sided grid bot.
// The trading terminal posts a heartbeat every second and receives exactly
// one action back (WAIT, BUY, SELL, or CLOSE_ALL); this process never talks
// to a broker itself.
//
// Architecture:
//
//	main.go             — entry point: loads config, wires everything, waits for SIGINT/SIGTERM
//	engine/engine.go    — single-writer event loop over ticks, settings, control commands
//	engine/decide.go    — per-heartbeat pipeline: identity, exec reconcile, closing, TP, expansion
//	engine/hedge.go     — loss-threshold lock + counter-volume injection on the opposite side
//	engine/control.go   — operator switches, cyclic mode, emergency close
//	ident/ident.go      — position comment codec "{side}_{hash}_idx{n}"
//	state/              — settings + runtime aggregate, validation, deep clone for readers
//	store/store.go      — atomic JSON snapshot persistence (survives restarts)
//	journal/journal.go  — SQLite audit trail of emitted actions and closed sessions
//	notify/notify.go    — fire-and-forget webhook alerts
//	api/                — HTTP endpoints for the terminal and the dashboard, plus /ws push
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"elastic-dca/internal/api"
	"elastic-dca/internal/config"
	"elastic-dca/internal/engine"
	"elastic-dca/internal/journal"
	"elastic-dca/internal/notify"
	"elastic-dca/internal/store"
)

func main() {
	// .env is optional; real deployments set DCA_* in the environment
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("DCA_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	st, err := store.New(cfg.Store.DataDir, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	loaded, loadWarning, err := st.Load()
	if err != nil {
		logger.Error("failed to load state", "error", err)
		os.Exit(1)
	}

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			logger.Error("failed to open journal", "error", err)
			os.Exit(1)
		}
		defer jnl.Close()
	}

	notifier := notify.New(cfg.Notify.WebhookURL, cfg.Notify.Timeout, cfg.Notify.RatePerMinute, logger)

	eng := engine.New(engine.Config{
		Symbol:      cfg.Engine.Symbol,
		GracePeriod: cfg.Engine.GracePeriod,
		HistorySize: cfg.Engine.HistorySize,
	}, loaded, st, jnl, notifier, logger, loadWarning)

	ctx, cancel := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(engineDone)
	}()

	apiServer := api.NewServer(cfg.Server.Port, eng, eng.Events(), logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			cancel()
		}
	}()

	logger.Info("elastic dca engine started",
		"addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
		"symbol", cfg.Engine.Symbol,
		"journal", cfg.Journal.Enabled,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	cancel()
	<-engineDone
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
