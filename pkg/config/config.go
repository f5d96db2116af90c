package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	OTel        OTelConfig        `mapstructure:"otel"`
	Reservation ReservationConfig `mapstructure:"reservation"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Payment     PaymentConfig     `mapstructure:"payment"`
	Admin       AdminConfig       `mapstructure:"admin"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Version     string `mapstructure:"version"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig holds broker settings. Empty Brokers disables publishing and intake.
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ClientID      string   `mapstructure:"client_id"`
	EventsTopic   string   `mapstructure:"events_topic"`
	ClaimsTopic   string   `mapstructure:"claims_topic"`
}

// JWTConfig holds the admin token settings
type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	Issuer         string        `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServiceName   string `mapstructure:"service_name"`
	CollectorAddr string `mapstructure:"collector_addr"`
}

// ReservationConfig holds the reservation engine tunables
type ReservationConfig struct {
	OfferTTL         time.Duration `mapstructure:"offer_ttl"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize   int           `mapstructure:"sweep_batch_size"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	LockWait         time.Duration `mapstructure:"lock_wait"`
	ConflictRetries  int           `mapstructure:"conflict_retries"`
	MaxUnitsPerClaim int           `mapstructure:"max_units_per_claim"`
	EmbeddedSweeper  bool          `mapstructure:"embedded_sweeper"`
}

// StorageConfig selects backends
type StorageConfig struct {
	// Backend for waiting list, claims, tickets and catalog: memory | postgres
	Backend string `mapstructure:"backend"`
	// LedgerBackend for capacity counters: memory | postgres | redis
	LedgerBackend string `mapstructure:"ledger_backend"`
	// LockBackend for per-key serialization: local | redis
	LockBackend string `mapstructure:"lock_backend"`
}

// PaymentConfig holds verifier credentials
type PaymentConfig struct {
	// GatewayVerifier: stripe | signature | mock
	GatewayVerifier     string `mapstructure:"gateway_verifier"`
	StripeSecretKey     string `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret string `mapstructure:"stripe_webhook_secret"`
	SignatureSecret     string `mapstructure:"signature_secret"`
}

// AdminConfig holds the admin allowlist
type AdminConfig struct {
	Emails []string `mapstructure:"emails"`
}

// Load loads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	// A missing .env is fine; environment variables still apply.
	_ = v.ReadInConfig()
	return load(v)
}

// LoadWithPath loads configuration from a specific env file
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "ticket-reservation")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_VERSION", "1.0.0")

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "10s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "ticket_reservation")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE_MIN_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "5m")
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "claim-intake")
	v.SetDefault("KAFKA_CLIENT_ID", "ticket-reservation")
	v.SetDefault("KAFKA_EVENTS_TOPIC", "reservation-events")
	v.SetDefault("KAFKA_CLAIMS_TOPIC", "payment-claims")

	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", "1h")
	v.SetDefault("JWT_ISSUER", "ticket-reservation")

	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "ticket-reservation")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")

	v.SetDefault("RESERVATION_OFFER_TTL", "15m")
	v.SetDefault("RESERVATION_SWEEP_INTERVAL", "30s")
	v.SetDefault("RESERVATION_SWEEP_BATCH_SIZE", 100)
	v.SetDefault("RESERVATION_LOCK_TTL", "10s")
	v.SetDefault("RESERVATION_LOCK_WAIT", "5s")
	v.SetDefault("RESERVATION_CONFLICT_RETRIES", 5)
	v.SetDefault("RESERVATION_MAX_UNITS_PER_CLAIM", 10)
	v.SetDefault("RESERVATION_EMBEDDED_SWEEPER", true)

	v.SetDefault("STORAGE_BACKEND", "memory")
	v.SetDefault("STORAGE_LEDGER_BACKEND", "memory")
	v.SetDefault("STORAGE_LOCK_BACKEND", "local")

	v.SetDefault("PAYMENT_GATEWAY_VERIFIER", "mock")

	v.SetDefault("ADMIN_EMAILS", "")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Version = v.GetString("APP_VERSION")

	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MinConns = v.GetInt("DATABASE_MIN_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")
	cfg.Database.AutoMigrate = v.GetBool("DATABASE_AUTO_MIGRATE")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.EventsTopic = v.GetString("KAFKA_EVENTS_TOPIC")
	cfg.Kafka.ClaimsTopic = v.GetString("KAFKA_CLAIMS_TOPIC")

	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.AccessTokenTTL = v.GetDuration("JWT_ACCESS_TOKEN_TTL")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")

	cfg.Reservation.OfferTTL = v.GetDuration("RESERVATION_OFFER_TTL")
	cfg.Reservation.SweepInterval = v.GetDuration("RESERVATION_SWEEP_INTERVAL")
	cfg.Reservation.SweepBatchSize = v.GetInt("RESERVATION_SWEEP_BATCH_SIZE")
	cfg.Reservation.LockTTL = v.GetDuration("RESERVATION_LOCK_TTL")
	cfg.Reservation.LockWait = v.GetDuration("RESERVATION_LOCK_WAIT")
	cfg.Reservation.ConflictRetries = v.GetInt("RESERVATION_CONFLICT_RETRIES")
	cfg.Reservation.MaxUnitsPerClaim = v.GetInt("RESERVATION_MAX_UNITS_PER_CLAIM")
	cfg.Reservation.EmbeddedSweeper = v.GetBool("RESERVATION_EMBEDDED_SWEEPER")

	cfg.Storage.Backend = strings.ToLower(v.GetString("STORAGE_BACKEND"))
	cfg.Storage.LedgerBackend = strings.ToLower(v.GetString("STORAGE_LEDGER_BACKEND"))
	cfg.Storage.LockBackend = strings.ToLower(v.GetString("STORAGE_LOCK_BACKEND"))

	cfg.Payment.GatewayVerifier = strings.ToLower(v.GetString("PAYMENT_GATEWAY_VERIFIER"))
	cfg.Payment.StripeSecretKey = v.GetString("PAYMENT_STRIPE_SECRET_KEY")
	cfg.Payment.StripeWebhookSecret = v.GetString("PAYMENT_STRIPE_WEBHOOK_SECRET")
	cfg.Payment.SignatureSecret = v.GetString("PAYMENT_SIGNATURE_SECRET")

	cfg.Admin.Emails = splitList(v.GetString("ADMIN_EMAILS"))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.IsProduction() && c.JWT.Secret == "change-me-in-production" {
		return fmt.Errorf("default JWT secret must not be used in production")
	}
	if c.Reservation.OfferTTL <= 0 {
		return fmt.Errorf("offer TTL must be positive")
	}
	if c.Reservation.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	switch c.Storage.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}
	switch c.Storage.LedgerBackend {
	case "memory", "postgres", "redis":
	default:
		return fmt.Errorf("unknown ledger backend: %q", c.Storage.LedgerBackend)
	}
	switch c.Storage.LockBackend {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown lock backend: %q", c.Storage.LockBackend)
	}
	if c.Storage.Backend == "memory" && c.Storage.LedgerBackend == "postgres" {
		return fmt.Errorf("postgres ledger requires the postgres storage backend")
	}

	switch c.Payment.GatewayVerifier {
	case "mock":
		if c.IsProduction() {
			return fmt.Errorf("mock payment verifier is not allowed in production")
		}
	case "stripe":
		if c.Payment.StripeSecretKey == "" {
			return fmt.Errorf("stripe secret key is required for the stripe verifier")
		}
	case "signature":
		if c.Payment.SignatureSecret == "" {
			return fmt.Errorf("signature secret is required for the signature verifier")
		}
	default:
		return fmt.Errorf("unknown gateway verifier: %q", c.Payment.GatewayVerifier)
	}
	return nil
}

// IsProduction returns true when running in production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true when running in development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
