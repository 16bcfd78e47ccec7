package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"poolgov/config"
	"poolgov/core/custody"
	"poolgov/core/state"
	"poolgov/native/votes"
	"poolgov/observability/logging"
	"poolgov/observability/metrics"
	"poolgov/rpc"
	"poolgov/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("GOV_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var logSink io.Writer
	if strings.TrimSpace(cfg.LogFile) != "" {
		logSink = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	logger := logging.Setup("govd", env, logSink)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		logger.Error("Invalid engine configuration", slog.Any("error", err))
		os.Exit(1)
	}

	tokens := custody.NewTokenLedger(engineCfg.Pool)
	nfts := custody.NewNFTRegistry(engineCfg.Pool)
	oracle := custody.NewStaticOracle()

	engine := votes.NewEngine(engineCfg, tokens, nfts, oracle)
	nfts.SetReceiver(engine)
	engine.SetEmitter(metrics.NewEmitter(nil))

	store := state.NewManager(db)
	restored, err := store.LoadEngine(engine)
	if err != nil {
		logger.Error("Failed to restore engine state", slog.Any("error", err))
		os.Exit(1)
	}
	if restored {
		logger.Info("Restored engine snapshot",
			slog.Int("activeStakers", engine.ActiveStakers()),
			slog.String("totalPower", engine.TotalPower().String()))
	}
	metrics.Votes().SetPool(engine.TotalPower(), engine.ActiveStakers())

	server := rpc.NewServer(engine, store, logger)

	api := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("API server listening", slog.String("address", cfg.ListenAddress))
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("Metrics server listening", slog.String("address", cfg.MetricsAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Error("Server failed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error("API shutdown", slog.Any("error", err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics shutdown", slog.Any("error", err))
	}

	if err := store.SaveEngine(engine); err != nil {
		logger.Error("Final snapshot failed", slog.Any("error", err))
	}
	logger.Info("Shutdown complete")
}
