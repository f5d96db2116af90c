package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/di"
	"github.com/anirudhsonawane/ticket-reservation/internal/metrics"
	"github.com/anirudhsonawane/ticket-reservation/pkg/config"
	"github.com/anirudhsonawane/ticket-reservation/pkg/database"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	pkgredis "github.com/anirudhsonawane/ticket-reservation/pkg/redis"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

const serviceName = "offer-sweeper"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Offer Sweeper...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	}); err != nil {
		appLog.Warn("Failed to initialize tracing", zap.Error(err))
	}
	defer telemetry.Shutdown(context.Background())
	metrics.Init()

	// A standalone sweeper only sees offers made by other processes through shared storage
	if cfg.Storage.Backend != "postgres" || cfg.Storage.LedgerBackend == "memory" {
		appLog.Fatal("Offer sweeper needs shared storage",
			zap.String("backend", cfg.Storage.Backend),
			zap.String("ledger_backend", cfg.Storage.LedgerBackend),
		)
	}
	if cfg.Storage.LockBackend != "redis" {
		appLog.Warn("Local locks do not serialize with the API process; set STORAGE_LOCK_BACKEND=redis")
	}

	var db *database.PostgresDB
	if di.NeedsPostgres(cfg) {
		db, err = di.OpenDatabase(ctx, cfg)
		if err != nil {
			appLog.Fatal("Database connection failed", zap.Error(err))
		}
		defer db.Close()
		appLog.Info("Database connected")
	}

	var redisClient *pkgredis.Client
	if di.NeedsRedis(cfg) {
		redisClient, err = di.OpenRedis(ctx, cfg)
		if err != nil {
			appLog.Fatal("Redis connection failed", zap.Error(err))
		}
		defer redisClient.Close()
		appLog.Info("Redis connected")
	}

	eventPublisher := di.OpenEventPublisher(ctx, cfg, serviceName)
	defer eventPublisher.Close()

	container, err := di.NewContainer(&di.ContainerConfig{
		Config:         cfg,
		DB:             db,
		Redis:          redisClient,
		EventPublisher: eventPublisher,
	})
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}

	if err := container.OfferSweeper.Start(ctx); err != nil {
		appLog.Fatal("Failed to start offer sweeper", zap.Error(err))
	}
	appLog.Info("Offer Sweeper started successfully",
		zap.Duration("interval", cfg.Reservation.SweepInterval),
		zap.Duration("offer_ttl", cfg.Reservation.OfferTTL),
	)

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down offer sweeper...")
	container.OfferSweeper.Stop()
	cancel()

	stats := container.OfferSweeper.GetStats()
	appLog.Info("Offer Sweeper exited gracefully",
		zap.Int64("total_expired", stats.TotalExpired),
		zap.Int64("total_promoted", stats.TotalPromoted),
	)
}
