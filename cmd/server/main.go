package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/stuartshay/trip-tracker/internal/config"
	"github.com/stuartshay/trip-tracker/internal/database"
	grpcserver "github.com/stuartshay/trip-tracker/internal/grpc"
	"github.com/stuartshay/trip-tracker/internal/httpapi"
	"github.com/stuartshay/trip-tracker/internal/session"
	"github.com/stuartshay/trip-tracker/internal/store"
	"github.com/stuartshay/trip-tracker/internal/tracing"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	log.Info().Str("version", version).Msg("Starting trip-tracker service")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setLogLevel(cfg.LogLevel)

	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("environment", cfg.Environment).
		Str("grpc_port", cfg.GRPCPort).
		Str("http_port", cfg.HTTPPort).
		Str("vehicle_id", cfg.VehicleID).
		Str("history_backend", cfg.HistoryBackend).
		Str("redis_addr", cfg.RedisAddr).
		Msg("Configuration loaded")

	shutdownTracer, err := tracing.InitTracer(tracing.FromConfig(cfg, version))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid history timezone")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, loc)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisStore.Close()

	log.Info().Msg("Redis connection established")

	history, closeHistory, err := historySource(cfg, redisStore, loc)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize history source")
	}
	defer closeHistory()

	tracker := session.NewTracker(cfg.VehicleID, redisStore, history)
	startCtx, startCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := tracker.StartLive(startCtx); err != nil {
		log.Error().Err(err).Msg("Failed to start live feed")
	}
	startCancel()

	// gRPC
	tripServer := grpcserver.NewServer(cfg, history, redisStore)
	grpcServer, healthServer := newGRPCServer(tripServer)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create TCP listener")
	}

	go func() {
		log.Info().Str("port", cfg.GRPCPort).Msg("gRPC server listening")
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatal().Err(err).Msg("gRPC server failed")
		}
	}()

	// HTTP
	httpServer := httpapi.NewServer(cfg, tracker, redisStore, redisStore)
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := httpServer.Listen(":" + cfg.HTTPPort); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutdown signal received, gracefully stopping...")
	healthServer.Shutdown()

	if err := httpServer.Shutdown(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	case <-stopped:
		log.Info().Msg("gRPC server stopped")
	}

	tracker.Close()

	if err := tripServer.Shutdown(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown trip report workers")
	}

	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown tracer")
	}

	log.Info().Msg("Service shutdown complete")
}

// historySource picks where recorded days are read from. The returned close
// function is always safe to call.
func historySource(cfg *config.Config, redisStore *store.RedisStore, loc *time.Location) (session.HistoryStore, func(), error) {
	if cfg.HistoryBackend != "postgres" {
		return redisStore, func() {}, nil
	}

	dbClient, err := database.NewClient(cfg.DatabaseDSN(), loc)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbClient.HealthCheck(ctx); err != nil {
		_ = dbClient.Close()
		return nil, nil, fmt.Errorf("database health check failed: %w", err)
	}

	log.Info().
		Str("db_host", cfg.PostgresHost).
		Str("db_port", cfg.PostgresPort).
		Msg("Database connection established")

	return dbClient, func() { _ = dbClient.Close() }, nil
}

// newGRPCServer registers TripService, health and reflection on an
// instrumented server
func newGRPCServer(tripServer grpcserver.TripServiceServer) (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))

	grpcserver.RegisterTripServiceServer(grpcServer, tripServer)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcserver.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	return grpcServer, healthServer
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// setLogLevel configures the global log level
func setLogLevel(level string) {
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Info().Str("level", level).Msg("Log level set")
}
