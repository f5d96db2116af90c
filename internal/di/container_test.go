package di

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/service"
	"github.com/anirudhsonawane/ticket-reservation/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "ticket-reservation", Environment: "development"},
		Reservation: config.ReservationConfig{
			OfferTTL:         15 * time.Minute,
			SweepInterval:    30 * time.Second,
			SweepBatchSize:   100,
			LockWait:         time.Second,
			ConflictRetries:  3,
			MaxUnitsPerClaim: 10,
		},
		Storage: config.StorageConfig{Backend: "memory", LedgerBackend: "memory", LockBackend: "local"},
		Payment: config.PaymentConfig{GatewayVerifier: "mock"},
	}
}

func TestNewContainer_Memory(t *testing.T) {
	c, err := NewContainer(&ContainerConfig{Config: testConfig()})
	require.NoError(t, err)

	assert.NotNil(t, c.ReservationHandler)
	assert.NotNil(t, c.PaymentHandler)
	assert.NotNil(t, c.OfferSweeper)
	assert.Nil(t, c.Signatures)

	ctx := context.Background()
	_, err = c.Ledger.DefinePass(ctx, domain.PassSnapshot{
		EventID:       "evt-1",
		TotalQuantity: 1,
		Price:         decimal.NewFromInt(50),
	})
	require.NoError(t, err)

	out, err := c.ReservationService.RequestTicketOrOffer(ctx, &service.ReservationRequest{
		UserID:   "user-1",
		EventID:  "evt-1",
		Quantity: 1,
		Payment: &service.PaymentDetails{
			Reference: "pi_1",
			Source:    domain.SourceGatewayCallback,
			Amount:    decimal.NewFromInt(50),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIssued, out.Kind)
}

func TestNewContainer_BackendErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		errMsg string
	}{
		{
			name:   "postgres storage without database",
			mutate: func(cfg *config.Config) { cfg.Storage.Backend = "postgres" },
			errMsg: "requires a database connection",
		},
		{
			name:   "redis ledger without redis",
			mutate: func(cfg *config.Config) { cfg.Storage.LedgerBackend = "redis" },
			errMsg: "requires a redis connection",
		},
		{
			name:   "redis locks without redis",
			mutate: func(cfg *config.Config) { cfg.Storage.LockBackend = "redis" },
			errMsg: "requires a redis connection",
		},
		{
			name:   "signature verifier without secret",
			mutate: func(cfg *config.Config) { cfg.Payment.GatewayVerifier = "signature" },
			errMsg: "PAYMENT_SIGNATURE_SECRET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := NewContainer(&ContainerConfig{Config: cfg})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewContainer_SignatureVerifier(t *testing.T) {
	cfg := testConfig()
	cfg.Payment.GatewayVerifier = "signature"
	cfg.Payment.SignatureSecret = "secret"

	c, err := NewContainer(&ContainerConfig{Config: cfg})
	require.NoError(t, err)
	require.NotNil(t, c.Signatures)

	v, err := c.Verifiers.For(domain.SourceGatewayCallback)
	require.NoError(t, err)
	assert.Equal(t, "pending", v.Name())
}

func TestNeedsBackends(t *testing.T) {
	cfg := testConfig()
	assert.False(t, NeedsPostgres(cfg))
	assert.False(t, NeedsRedis(cfg))

	cfg.Storage.LedgerBackend = "redis"
	assert.True(t, NeedsRedis(cfg))
	assert.False(t, NeedsPostgres(cfg))

	cfg.Storage.Backend = "postgres"
	assert.True(t, NeedsPostgres(cfg))
}
