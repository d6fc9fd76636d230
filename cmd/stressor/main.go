// Contract stress-test engine.
// Submits repeated contract calls against an EVM node and tracks their
// confirmation, exposing control and status over an HTTP API.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gateway-fm/stressor/internal/config"
	"github.com/gateway-fm/stressor/internal/executor"
	"github.com/gateway-fm/stressor/internal/gateway"
	"github.com/gateway-fm/stressor/internal/metrics"
	"github.com/gateway-fm/stressor/internal/storage"
	"github.com/gateway-fm/stressor/internal/transport"
	"github.com/gateway-fm/stressor/pkg/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("initialized storage", "path", cfg.DatabasePath)

	gwCfg := gateway.DefaultClientConfig(cfg.RPCURL)
	gwCfg.WSURL = cfg.WSURL
	gwCfg.GasLimit = cfg.GasLimit
	gwCfg.Logger = logger
	gw := gateway.NewHTTPClient(gwCfg)

	m := metrics.New(nil)

	engine := executor.New(executor.Config{
		Gateway:               gw,
		Accounts:              cfg.Accounts,
		Networks:              cfg.Networks,
		PollInterval:          cfg.PollInterval(),
		ConfirmationThreshold: cfg.ConfirmationThreshold,
		TxBufferSize:          cfg.TxBufferSize,
		ErrorBufferSize:       cfg.ErrorBufferSize,
		ResultBufferSize:      cfg.ResultBufferSize,
		Metrics:               m,
		Logger:                logger,
	})

	// Persist finished executions with their recent transactions.
	engine.OnComplete(func(exec types.TestExecution) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := store.SaveExecution(ctx, exec); err != nil {
			logger.Error("failed to persist execution", "executionID", exec.ID, "error", err)
			return
		}
		if err := store.BulkInsertTransactions(ctx, engine.RecentTransactions()); err != nil {
			logger.Error("failed to persist transactions", "executionID", exec.ID, "error", err)
		}
	})

	server := transport.NewServer(engine, store, logger)
	defer server.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		engine.Stop()
		os.Exit(0)
	}()

	logger.Info("starting HTTP server", "addr", cfg.ListenAddr, "network", cfg.Network)
	if err := http.ListenAndServe(cfg.ListenAddr, server.Handler()); err != nil {
		logger.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
