package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/courier-one/notification-dispatch/internal/config"
	"github.com/courier-one/notification-dispatch/internal/handler"
	"github.com/courier-one/notification-dispatch/internal/provider"
	"github.com/courier-one/notification-dispatch/internal/repository/mongo"
	"github.com/courier-one/notification-dispatch/internal/worker"
)

func main() {
	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.App.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting notification dispatch worker",
		"env", cfg.App.Env,
		"poll_interval", cfg.Worker.PollInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := mongo.New(ctx, cfg.Mongo)
	if err != nil {
		logger.Error("failed to connect to mongodb", "error", err)
		os.Exit(1)
	}
	defer db.Close(context.Background())
	logger.Info("connected to MongoDB", "database", cfg.Mongo.Database)

	if err := db.EnsureIndexes(ctx); err != nil {
		logger.Error("failed to ensure indexes", "error", err)
		os.Exit(1)
	}

	repo := mongo.NewNotificationRepository(db)
	providerClient := provider.NewClient(cfg.Provider)

	metrics := handler.NewMetrics()

	processor := worker.NewProcessor(
		repo,
		providerClient,
		logger,
		cfg.Retry,
		cfg.Provider,
		cfg.Worker,
	)
	processor.SetRecorder(metrics)

	// Probe surface for orchestration: health plus the Prometheus scrape.
	healthHandler := handler.NewHealthHandler()
	healthHandler.AddChecker("mongodb", db)
	metricsHandler := handler.NewMetricsHandler()

	r := chi.NewRouter()
	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Handle("/metrics", metricsHandler.Handler())

	server := &http.Server{
		Addr:         ":" + cfg.Worker.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if err := processor.Start(ctx); err != nil {
		logger.Error("failed to start processor", "error", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("worker probe server listening", "port", cfg.Worker.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("probe server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("probe server shutdown error", "error", err)
	}

	processor.Stop()

	cancel()

	logger.Info("worker stopped")
}
