package di

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/internal/repository"
	"github.com/anirudhsonawane/ticket-reservation/internal/service"
	"github.com/anirudhsonawane/ticket-reservation/pkg/config"
	"github.com/anirudhsonawane/ticket-reservation/pkg/database"
	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	pkgredis "github.com/anirudhsonawane/ticket-reservation/pkg/redis"
)

// NeedsPostgres reports whether any configured backend lives in PostgreSQL
func NeedsPostgres(cfg *config.Config) bool {
	return cfg.Storage.Backend == "postgres" || cfg.Storage.LedgerBackend == "postgres"
}

// NeedsRedis reports whether any configured backend lives in Redis
func NeedsRedis(cfg *config.Config) bool {
	return cfg.Storage.LedgerBackend == "redis" || cfg.Storage.LockBackend == "redis"
}

// OpenDatabase connects to PostgreSQL and applies the schema when AutoMigrate is set
func OpenDatabase(ctx context.Context, cfg *config.Config) (*database.PostgresDB, error) {
	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  10 * time.Second,
		MaxRetries:      5,
		RetryInterval:   2 * time.Second,
		EnableTracing:   cfg.OTel.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, repository.Schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return db, nil
}

// OpenRedis connects to Redis
func OpenRedis(ctx context.Context, cfg *config.Config) (*pkgredis.Client, error) {
	client, err := pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    5,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// OpenEventPublisher returns a Kafka publisher, or a no-op one when no brokers
// are configured or Kafka is unreachable. Publishing is best effort.
func OpenEventPublisher(ctx context.Context, cfg *config.Config, serviceName string) service.EventPublisher {
	log := logger.Get()
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("Kafka brokers not configured, reservation events disabled")
		return service.NewNoOpEventPublisher()
	}

	publisher, err := service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.EventsTopic,
		ServiceName: serviceName,
		ClientID:    cfg.Kafka.ClientID + "-events",
	})
	if err != nil {
		log.Warn("Failed to connect event publisher, using no-op", zap.Error(err))
		return service.NewNoOpEventPublisher()
	}
	log.Info("Event publisher connected", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.EventsTopic))
	return publisher
}
