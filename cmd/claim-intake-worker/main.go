package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/di"
	"github.com/anirudhsonawane/ticket-reservation/internal/metrics"
	"github.com/anirudhsonawane/ticket-reservation/internal/worker"
	"github.com/anirudhsonawane/ticket-reservation/pkg/config"
	"github.com/anirudhsonawane/ticket-reservation/pkg/database"
	"github.com/anirudhsonawane/ticket-reservation/pkg/kafka"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	pkgredis "github.com/anirudhsonawane/ticket-reservation/pkg/redis"
	"github.com/anirudhsonawane/ticket-reservation/pkg/retry"
	"github.com/anirudhsonawane/ticket-reservation/pkg/telemetry"
)

const serviceName = "claim-intake-worker"

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
	appLog.Info("Starting Claim Intake Worker...")

	if len(cfg.Kafka.Brokers) == 0 {
		appLog.Fatal("KAFKA_BROKERS is required for claim intake")
	}

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

	// Initialize Kafka consumer
	consumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		GroupID:       cfg.Kafka.ConsumerGroup,
		Topics:        []string{cfg.Kafka.ClaimsTopic},
		ClientID:      cfg.Kafka.ClientID + "-intake",
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		appLog.Fatal("Failed to create Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()
	appLog.Info("Kafka consumer connected", zap.String("topic", cfg.Kafka.ClaimsTopic))

	// Dead letter producer
	dlqProducer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID + "-dlq",
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		appLog.Fatal("Failed to create DLQ producer", zap.Error(err))
	}
	defer dlqProducer.Close()

	retryCfg := retry.DefaultConfig()
	if cfg.Reservation.ConflictRetries > 0 {
		retryCfg.MaxRetries = cfg.Reservation.ConflictRetries
	}
	intake := worker.NewClaimIntakeConsumer(
		consumer,
		container.Gate,
		container.Verifiers,
		retry.NewKafkaDLQPublisher(dlqProducer, serviceName, ""),
		&worker.ClaimIntakeConfig{
			RetryBackoff: 2 * time.Second,
			Retry:        retryCfg,
		},
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := intake.Run(ctx); err != nil {
			appLog.Error("Claim intake consumer error", zap.Error(err))
		}
	}()

	appLog.Info("Claim Intake Worker started successfully")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-done:
		appLog.Warn("Claim intake consumer exited")
	}

	appLog.Info("Shutting down worker...")
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		appLog.Warn("Timed out waiting for in-flight claims")
	}

	stats := intake.GetStats()
	appLog.Info("Worker exited gracefully",
		zap.Int64("processed", stats.Processed),
		zap.Int64("issued", stats.Issued),
		zap.Int64("parked", stats.Parked),
	)
}
