package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/courier-one/notification-dispatch/internal/cache"
	"github.com/courier-one/notification-dispatch/internal/config"
	"github.com/courier-one/notification-dispatch/internal/handler"
	"github.com/courier-one/notification-dispatch/internal/middleware"
	"github.com/courier-one/notification-dispatch/internal/repository/mongo"
	"github.com/courier-one/notification-dispatch/internal/service"
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

	logger.Info("starting notification dispatch API",
		"env", cfg.App.Env,
		"port", cfg.Server.Port,
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

	lookupCache, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		logger.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	logger.Info("cache initialized", "backend", cfg.Cache.Backend)

	repo := mongo.NewNotificationRepository(db)
	notificationService := service.NewNotificationService(repo, lookupCache, cfg.Cache.TTL, logger)

	wsHub := handler.NewWebSocketHub(logger)
	go wsHub.Run()
	notificationService.SetStatusBroadcast(wsHub.BroadcastStatus)

	metrics := handler.NewMetrics()
	notificationHandler := handler.NewNotificationHandler(notificationService, cfg.Provider.CallbackToken, metrics)
	healthHandler := handler.NewHealthHandler()
	healthHandler.AddChecker("mongodb", db)
	metricsHandler := handler.NewMetricsHandler()
	wsHandler := handler.NewWebSocketHandler(wsHub)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Correlation)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics(metrics))
	r.Use(chimiddleware.Compress(5))

	if len(cfg.Server.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", handler.ProviderTokenHeader, middleware.CorrelationIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)

	r.Handle("/metrics", metricsHandler.Handler())

	r.Get("/ws", wsHandler.HandleWebSocket)

	r.Route("/api/notifications", func(r chi.Router) {
		notificationHandler.RegisterRoutes(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	cancel()

	logger.Info("server stopped")
}
