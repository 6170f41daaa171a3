package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dropout-risk/internal/cfg"
	"dropout-risk/internal/common"
	"dropout-risk/internal/features"
	"dropout-risk/internal/metrics"
	"dropout-risk/internal/ml"
	"dropout-risk/internal/schema"
	"dropout-risk/internal/storage"
	"dropout-risk/internal/web"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	var logFile io.Writer
	if c.LogFile != "" {
		lf := newLogFile(c.LogFile)
		defer lf.Close()
		logFile = lf
	}
	setupLogging(c.LogLevel, c.LogFormat, os.Stderr, logFile)

	// Artifacts must load before anything listens.
	artifacts, err := ml.Load(c.ModelPath, c.ScalerPath, c.MetadataPath, schema.Columns)
	if err != nil {
		log.Fatal().Err(err).
			Str("model_path", c.ModelPath).
			Str("scaler_path", c.ScalerPath).
			Msg("artifact load failed")
	}

	m := metrics.New()
	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	srv, err := newServer(c, artifacts, m, prometheus.DefaultGatherer, store)
	if err != nil {
		log.Fatal().Err(err).Msg("server setup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	waitForShutdown(ctx, srv, errCh)
}

// setupLogging configures the global zerolog logger. When file is non-nil it
// also receives every event as JSON, whatever the console format.
func setupLogging(level, format string, out, file io.Writer) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	w := out
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: out}
	}
	if file != nil {
		w = zerolog.MultiLevelWriter(w, file)
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// newLogFile returns a size-rotated log file.
func newLogFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// initializeStorage opens the prediction history if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	if err := os.MkdirAll(c.DataPath, 0o755); err != nil {
		log.Warn().Err(err).Msg("cannot create data directory, continuing without history")
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without history")
		return nil
	}
	if c.HistoryRetain > 0 {
		removed, err := store.Prune(c.HistoryRetain)
		if err != nil {
			log.Warn().Err(err).Msg("failed to prune prediction history")
		} else if removed > 0 {
			log.Info().Int("removed", removed).Int("retain", c.HistoryRetain).Msg("pruned prediction history")
		}
	}
	log.Info().Str("data_path", c.DataPath).Int("retain", c.HistoryRetain).Msg("prediction history enabled")
	return store
}

func newServer(c cfg.Settings, artifacts *ml.Artifacts, m *metrics.Metrics, gatherer prometheus.Gatherer, store *storage.Store) (*web.Server, error) {
	if artifacts == nil {
		return nil, errors.New("artifacts are required")
	}

	opts := web.Options{
		Addr:          c.Addr(),
		ReadTimeout:   c.ReadTimeout,
		WriteTimeout:  c.WriteTimeout,
		Invoker:       ml.NewInvokerFromArtifacts(artifacts, metrics.NewWrapper(m)),
		Encoder:       features.NewEncoder(c.StrictSchema),
		Artifacts:     artifacts,
		Metrics:       m,
		Gatherer:      gatherer,
		HistoryLimit:  c.HistoryLimit,
		HistoryRetain: c.HistoryRetain,
	}
	// A nil *storage.Store must not become a non-nil web.History.
	if store != nil {
		opts.History = store
	}

	if dm := ml.NewDriftMonitor(schema.Columns, artifacts.Scaler, ml.DriftConfig{
		WindowSize: c.DriftWindow,
		Threshold:  c.DriftThreshold,
	}); dm != nil {
		opts.Drift = dm
	} else {
		log.Info().Msg("scaler carries no training means, drift monitoring disabled")
	}

	if c.StrictSchema {
		log.Info().Msg("strict schema enabled, missing columns are rejected")
	}
	return web.NewServer(opts)
}

// waitForShutdown blocks until ctx is done (main cancels it on SIGINT or
// SIGTERM) or the server fails, then shuts the server down gracefully.
func waitForShutdown(ctx context.Context, srv *web.Server, errCh <-chan error) {
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	}

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), common.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
		return
	}
	log.Info().Msg("server stopped")
}
