package di

import (
	"fmt"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/handler"
	"github.com/anirudhsonawane/ticket-reservation/internal/lock"
	"github.com/anirudhsonawane/ticket-reservation/internal/repository"
	"github.com/anirudhsonawane/ticket-reservation/internal/service"
	"github.com/anirudhsonawane/ticket-reservation/internal/verifier"
	"github.com/anirudhsonawane/ticket-reservation/internal/worker"
	"github.com/anirudhsonawane/ticket-reservation/pkg/config"
	"github.com/anirudhsonawane/ticket-reservation/pkg/database"
	"github.com/anirudhsonawane/ticket-reservation/pkg/redis"
	"github.com/anirudhsonawane/ticket-reservation/pkg/retry"
)

// Container holds all dependencies for the reservation service
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	CapacityRepo repository.CapacityRepository
	CatalogRepo  repository.CatalogRepository
	WaitlistRepo repository.WaitlistRepository
	ClaimRepo    repository.ClaimRepository
	TicketRepo   repository.TicketRepository

	Locker lock.Locker

	// Publishers
	EventPublisher service.EventPublisher

	// Verifiers
	Verifiers  *verifier.Registry
	Signatures *verifier.SignatureVerifier

	// Services
	Ledger             *service.InventoryLedger
	WaitingList        *service.WaitingListManager
	TicketIssuer       *service.TicketIssuer
	Gate               *service.ReconciliationGate
	ReservationService *service.ReservationService
	ClaimService       *service.ClaimService

	// Workers
	OfferSweeper *worker.OfferSweeper

	// Handlers
	HealthHandler      *handler.HealthHandler
	ReservationHandler *handler.ReservationHandler
	ClaimHandler       *handler.ClaimHandler
	TicketHandler      *handler.TicketHandler
	AdminHandler       *handler.AdminHandler
	PaymentHandler     *handler.PaymentHandler
}

// ContainerConfig contains configuration for building the container.
// DB and Redis may be nil when no configured backend needs them.
type ContainerConfig struct {
	Config         *config.Config
	DB             *database.PostgresDB
	Redis          *redis.Client
	EventPublisher service.EventPublisher
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, fmt.Errorf("container config is required")
	}
	app := cfg.Config

	c := &Container{
		DB:             cfg.DB,
		Redis:          cfg.Redis,
		EventPublisher: cfg.EventPublisher,
	}
	if c.EventPublisher == nil {
		c.EventPublisher = service.NewNoOpEventPublisher()
	}

	if err := c.initRepositories(app.Storage); err != nil {
		return nil, err
	}
	if err := c.initLocker(app); err != nil {
		return nil, err
	}
	if err := c.initVerifiers(app.Payment); err != nil {
		return nil, err
	}

	retryCfg := retry.ConflictConfig()
	if app.Reservation.ConflictRetries > 0 {
		retryCfg.MaxRetries = app.Reservation.ConflictRetries
	}

	// Initialize services
	c.Ledger = service.NewInventoryLedger(c.CapacityRepo, c.CatalogRepo, c.Locker, retryCfg)
	c.WaitingList = service.NewWaitingListManager(c.WaitlistRepo, c.Ledger, c.EventPublisher, app.Reservation.OfferTTL)
	c.TicketIssuer = service.NewTicketIssuer(c.TicketRepo, c.Ledger, c.EventPublisher, retryCfg)
	c.Gate = service.NewReconciliationGate(&service.ReconciliationGateConfig{
		Claims:    c.ClaimRepo,
		Tickets:   c.TicketRepo,
		Catalog:   c.CatalogRepo,
		Ledger:    c.Ledger,
		Waitlist:  c.WaitingList,
		Issuer:    c.TicketIssuer,
		Locker:    c.Locker,
		Publisher: c.EventPublisher,
		Retry:     retryCfg,
	})
	c.ReservationService = service.NewReservationService(
		c.Ledger,
		c.WaitingList,
		c.Gate,
		c.CatalogRepo,
		c.Verifiers,
		app.Reservation.MaxUnitsPerClaim,
	)
	c.ClaimService = service.NewClaimService(c.ClaimRepo, c.CatalogRepo, c.Gate, c.Locker, retryCfg)

	c.OfferSweeper = worker.NewOfferSweeper(c.WaitingList, &worker.OfferSweeperConfig{
		SweepInterval: app.Reservation.SweepInterval,
		BatchSize:     app.Reservation.SweepBatchSize,
	})

	// Initialize handlers
	checks := make(map[string]handler.HealthCheck)
	if c.DB != nil {
		checks["database"] = c.DB.HealthCheck
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.HealthCheck
	}
	c.HealthHandler = handler.NewHealthHandler(checks)
	c.ReservationHandler = handler.NewReservationHandler(c.ReservationService)
	c.ClaimHandler = handler.NewClaimHandler(c.ClaimService)
	c.TicketHandler = handler.NewTicketHandler(c.TicketIssuer)
	c.AdminHandler = handler.NewAdminHandler(c.Ledger, c.OfferSweeper)
	c.PaymentHandler = handler.NewPaymentHandler(c.ReservationService, app.Payment.StripeWebhookSecret, c.Signatures)

	return c, nil
}

func (c *Container) initRepositories(storage config.StorageConfig) error {
	switch storage.Backend {
	case "postgres":
		if c.DB == nil {
			return fmt.Errorf("postgres storage backend requires a database connection")
		}
		pool := c.DB.Pool()
		c.CatalogRepo = repository.NewPostgresCatalogRepository(pool)
		c.WaitlistRepo = repository.NewPostgresWaitlistRepository(pool)
		c.ClaimRepo = repository.NewPostgresClaimRepository(pool)
		c.TicketRepo = repository.NewPostgresTicketRepository(pool)
	default:
		c.CatalogRepo = repository.NewMemoryCatalogRepository()
		c.WaitlistRepo = repository.NewMemoryWaitlistRepository()
		c.ClaimRepo = repository.NewMemoryClaimRepository()
		c.TicketRepo = repository.NewMemoryTicketRepository()
	}

	switch storage.LedgerBackend {
	case "postgres":
		if c.DB == nil {
			return fmt.Errorf("postgres ledger backend requires a database connection")
		}
		c.CapacityRepo = repository.NewPostgresCapacityRepository(c.DB.Pool())
	case "redis":
		if c.Redis == nil {
			return fmt.Errorf("redis ledger backend requires a redis connection")
		}
		c.CapacityRepo = repository.NewRedisCapacityRepository(c.Redis)
	default:
		c.CapacityRepo = repository.NewMemoryCapacityRepository()
	}
	return nil
}

func (c *Container) initLocker(app *config.Config) error {
	if app.Storage.LockBackend == "redis" {
		if c.Redis == nil {
			return fmt.Errorf("redis lock backend requires a redis connection")
		}
		c.Locker = lock.NewRedisLocker(c.Redis, lock.RedisLockerConfig{
			TTL:  app.Reservation.LockTTL,
			Wait: app.Reservation.LockWait,
		})
		return nil
	}
	c.Locker = lock.NewLocalLocker(app.Reservation.LockWait)
	return nil
}

func (c *Container) initVerifiers(payment config.PaymentConfig) error {
	if payment.SignatureSecret != "" {
		c.Signatures = verifier.NewSignatureVerifier(payment.SignatureSecret)
	}

	var gateway verifier.Verifier
	switch payment.GatewayVerifier {
	case "stripe":
		v, err := verifier.NewStripeVerifier(payment.StripeSecretKey)
		if err != nil {
			return fmt.Errorf("failed to create stripe verifier: %w", err)
		}
		gateway = v
	case "signature":
		if c.Signatures == nil {
			return fmt.Errorf("signature verifier requires PAYMENT_SIGNATURE_SECRET")
		}
		// Unsigned gateway claims wait for the signed callback or an admin.
		gateway = verifier.Pending{}
	default:
		gateway = verifier.NewMock(domain.Captured)
	}
	c.Verifiers = verifier.NewRegistry(gateway)
	return nil
}
