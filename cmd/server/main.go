package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/magicyang-1/chatshare-sub001/pkg/config"
	"github.com/magicyang-1/chatshare-sub001/pkg/di"
	"github.com/magicyang-1/chatshare-sub001/pkg/grpchealth"
	"github.com/magicyang-1/chatshare-sub001/pkg/logger"
	"github.com/magicyang-1/chatshare-sub001/pkg/router"
	"github.com/magicyang-1/chatshare-sub001/pkg/secrets"
	"github.com/magicyang-1/chatshare-sub001/shared/observability"

	"gorm.io/gorm"
)

func main() {
	cfg := config.New()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resolve secrets before anything reads the API key or JWT secret
	secretManager, err := secrets.NewManagerFromConfig(cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize secrets manager")
		os.Exit(1)
	}
	defer secretManager.Close()
	secrets.ApplyToConfig(ctx, secretManager, cfg)
	if err := cfg.Validate(); err != nil {
		log.LogError(err, "Invalid configuration")
		os.Exit(1)
	}

	var db *gorm.DB
	if cfg.Database.Driver != "memory" {
		db, err = config.NewDB(cfg)
		if err != nil {
			log.LogError(err, "Failed to initialize database")
			os.Exit(1)
		}
	}

	container, err := di.New(cfg, db, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close()

	if cfg.Observability.TracingEnabled {
		shutdownTracing, err := observability.SetupTracing(cfg.Observability.ServiceName)
		if err != nil {
			log.LogError(err, "Failed to set up tracing")
		} else {
			defer shutdownTracing(context.Background())
		}
	}

	var metrics http.Handler
	if cfg.Observability.MetricsEnabled {
		handler, shutdownMetrics, err := observability.SetupPrometheusMetrics(cfg.Observability.ServiceName)
		if err != nil {
			log.LogError(err, "Failed to set up metrics")
		} else {
			metrics = handler
			defer shutdownMetrics(context.Background())
		}
	}

	r := router.New(container)
	if cfg.Observability.OpenAPISchema != "" {
		r.AddOpenAPIValidation(cfg.Observability.OpenAPISchema)
	}
	r.SetupRoutes(metrics)
	defer r.Close()

	container.Health.Start(ctx)
	go container.Uploads.RunOrphanSweeper(ctx, cfg.Storage.SweepPeriod, cfg.Storage.OrphanMaxAge)

	grpcHealth := grpchealth.New(cfg.Observability.ServiceName, container.Health, 10*time.Second, log)
	go func() {
		if err := grpcHealth.Serve(ctx, ":"+cfg.Server.GRPCPort); err != nil {
			log.LogError(err, "gRPC health server stopped")
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		// image generation can take up to the provider timeout, plus our own work
		WriteTimeout: cfg.Provider.ImageTimeout + cfg.Server.Timeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	// Block until we receive a signal
	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	log.Info("Server exited gracefully")
}
