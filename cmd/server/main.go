package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	api "peerlend-backend/internal/api/grpc"
	httpapi "peerlend-backend/internal/api/http"
	"peerlend-backend/internal/app"
	"peerlend-backend/internal/config"
	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/security"
	"peerlend-backend/internal/telemetry"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting PeerLend custody backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "grpc_address", cfg.GetServerAddress(), "http_address", cfg.GetHTTPAddress())
	logger.Info("Database configuration", "driver", cfg.Database.Driver, "host", cfg.Database.Host, "database", cfg.Database.Database)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}

	// Initialize Repositories
	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	// Initialize Services
	svcs, err := app.NewServices(cfg, store.Repositories())
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	tokenManager := security.NewTokenManager(cfg.JWT.Secret, cfg.AccessTokenTTL())

	// Set up gRPC server
	grpcServer, healthServer := api.NewServer(tokenManager, api.Services{
		Custody: svcs.Custody,
		Listing: svcs.Listing,
		Pricing: svcs.Pricing,
	})
	lis, err := net.Listen("tcp", cfg.GetServerAddress())
	if err != nil {
		logger.Error("Failed to listen", "error", err, "address", cfg.GetServerAddress())
		log.Fatalf("Failed to listen: %v", err)
	}

	// Set up HTTP server for health, metrics and token images
	router := mux.NewRouter()
	httpapi.RegisterRoutes(router, httpapi.NewHandler(svcs.Custody, tokenManager, store, tel.MetricsHandler))
	httpServer := &http.Server{
		Addr:              cfg.GetHTTPAddress(),
		Handler:           otelhttp.NewHandler(router, "peerlend-http"),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "address", cfg.GetServerAddress())
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info("HTTP server listening", "address", cfg.GetHTTPAddress())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Error("Server failed", "error", err)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		logger.Warn("Graceful stop timed out, forcing")
		grpcServer.Stop()
	}

	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown failed", "error", err)
	}
	logger.Info("Server stopped. Goodbye!")
}
