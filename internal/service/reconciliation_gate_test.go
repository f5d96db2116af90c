package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/verifier"
)

func TestReconcile_ReplayReturnsSameTicket(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	first, err := h.gate.Reconcile(ctx, gatewayClaim("TXN-1", "user-1", 1), h.gatewayMock)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := h.gate.Reconcile(ctx, gatewayClaim("TXN-1", "user-1", 1), h.gatewayMock)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Ticket.ID, second.Ticket.ID)
	assert.Equal(t, 1, h.sold(t))
	assert.Len(t, h.gatewayMock.Calls(), 1, "a replay never re-verifies")
}

func TestReconcile_ParallelDuplicatesCollapseIntoOneTicket(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.gate.Reconcile(ctx, gatewayClaim("TXN-1", "user-1", 1), h.gatewayMock)
			if !assert.NoError(t, err) {
				return
			}
			ids[i] = res.Ticket.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, h.sold(t))
	assert.Equal(t, 1, h.tickets.Count())
}

func TestReconcile_NotCapturedNeverChangesCapacity(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	_, err := h.ledger.EnsureCapacity(ctx, testKey)
	require.NoError(t, err)

	_, err = h.gate.Reconcile(ctx, gatewayClaim("TXN-2", "user-1", 2), verifier.NewMock(domain.NotCaptured))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPaymentNotVerified)
	assert.Equal(t, 0, h.sold(t))

	claim, err := h.claims.GetByReference(ctx, "TXN-2")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimRejected, claim.Status)
	assert.Equal(t, 1, h.publisher.Count(domain.EventClaimRejected))

	_, err = h.gate.Reconcile(ctx, gatewayClaim("TXN-2", "user-1", 2), h.gatewayMock)
	assert.ErrorIs(t, err, domain.ErrAlreadyRejected)
	assert.Equal(t, 0, h.sold(t))
}

func TestReconcile_UnknownKeepsClaimPending(t *testing.T) {
	tests := []struct {
		name string
		v    verifier.Verifier
	}{
		{name: "unknown result", v: verifier.NewMock(domain.Unknown)},
		{name: "verifier error", v: &verifier.Mock{Err: errors.New("gateway timeout")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 5)
			ctx := context.Background()

			_, err := h.gate.Reconcile(ctx, gatewayClaim("TXN-3", "user-1", 1), tt.v)
			assert.ErrorIs(t, err, domain.ErrVerificationPending)

			claim, err := h.claims.GetByReference(ctx, "TXN-3")
			require.NoError(t, err)
			assert.Equal(t, domain.ClaimPending, claim.Status)

			res, err := h.gate.Reconcile(ctx, gatewayClaim("TXN-3", "user-1", 1), h.gatewayMock)
			require.NoError(t, err)
			assert.NotEmpty(t, res.Ticket.ID)
		})
	}
}

func TestReconcile_CapacityExceededKeepsVerifiedClaim(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	_, err := h.gate.Reconcile(ctx, gatewayClaim("TXN-A", "user-1", 1), h.gatewayMock)
	require.NoError(t, err)

	_, err = h.gate.Reconcile(ctx, gatewayClaim("TXN-B", "user-2", 1), h.gatewayMock)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	var re *domain.ReservationError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, testKey.String(), re.CapacityKey)
	assert.Equal(t, "TXN-B", re.ClaimReference)

	claim, err := h.claims.GetByReference(ctx, "TXN-B")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimVerified, claim.Status)
	assert.False(t, claim.TicketCreated)
	assert.Equal(t, 1, h.sold(t))
	assert.Equal(t, 1, h.publisher.Count(domain.EventClaimCapacityExceeded))

	// once a unit frees up the same reference completes without re-verifying
	_, err = h.ledger.Release(ctx, testKey, 1)
	require.NoError(t, err)
	res, err := h.gate.Reconcile(ctx, gatewayClaim("TXN-B", "user-2", 1), verifier.NewMock(domain.NotCaptured))
	require.NoError(t, err)
	assert.Equal(t, "TXN-B", res.Ticket.PaymentReference)
}

func TestReconcile_ReferenceReusedForDifferentPurchase(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	_, err := h.gate.Reconcile(ctx, gatewayClaim("TXN-4", "user-1", 1), h.gatewayMock)
	require.NoError(t, err)

	_, err = h.gate.Reconcile(ctx, gatewayClaim("TXN-4", "user-2", 1), h.gatewayMock)
	assert.ErrorIs(t, err, domain.ErrInvalid)

	_, err = h.gate.Reconcile(ctx, gatewayClaim("TXN-4", "user-1", 3), h.gatewayMock)
	assert.ErrorIs(t, err, domain.ErrInvalid)
	assert.Equal(t, 1, h.sold(t))
}

func TestReconcile_AmountBelowPriceIsRejected(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	in := gatewayClaim("TXN-5", "user-1", 2)
	in.Amount = decimal.NewFromInt(150)

	_, err := h.gate.Reconcile(ctx, in, h.gatewayMock)
	assert.ErrorIs(t, err, domain.ErrPaymentNotVerified)
	assert.Empty(t, h.gatewayMock.Calls())
	assert.Equal(t, 0, h.sold(t))
}

func TestReconcile_ZeroAmountIsVerifiedAgainstPrice(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	cheap := verifier.NewMock(domain.Captured)
	cheap.Received = decimal.NewFromInt(10)

	in := gatewayClaim("pi_cheap", "user-1", 2)
	in.Amount = decimal.Zero

	_, err := h.gate.Reconcile(ctx, in, cheap)
	assert.ErrorIs(t, err, domain.ErrPaymentNotVerified)
	require.Len(t, cheap.Amounts(), 1)
	assert.True(t, cheap.Amounts()[0].Equal(decimal.NewFromInt(200)), "got %s", cheap.Amounts()[0])
	assert.Equal(t, 0, h.sold(t))
	assert.Zero(t, h.tickets.Count())

	claim, err := h.claims.GetByReference(ctx, "pi_cheap")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimRejected, claim.Status)
	assert.True(t, claim.Amount.Equal(decimal.NewFromInt(200)))
}

func TestReconcile_ZeroAmountPaidInFullIssues(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	h.gatewayMock.Received = decimal.NewFromInt(100)

	in := gatewayClaim("pi_full", "user-1", 1)
	in.Amount = decimal.Zero

	res, err := h.gate.Reconcile(ctx, in, h.gatewayMock)
	require.NoError(t, err)
	assert.True(t, res.Ticket.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 1, h.sold(t))
}

func TestReconcile_InvalidReference(t *testing.T) {
	h := newHarness(t, 5)

	_, err := h.gate.Reconcile(context.Background(), gatewayClaim("  ", "user-1", 1), h.gatewayMock)
	assert.ErrorIs(t, err, domain.ErrInvalid)

	_, err = h.gate.Reconcile(context.Background(), gatewayClaim("TXN 6", "user-1", 1), h.gatewayMock)
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestReconcile_ConsumesLiveOffer(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	out, err := h.reservation.RequestTicketOrOffer(ctx, checkout("user-1", 1))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeOffered, out.Kind)
	assert.Equal(t, 1, h.sold(t))

	res, err := h.gate.Reconcile(ctx, gatewayClaim("TXN-7", "user-1", 1), h.gatewayMock)
	require.NoError(t, err)
	assert.True(t, res.ConsumedOffer)
	assert.Equal(t, 1, h.sold(t), "the offer's unit is consumed, not reserved twice")
	assert.Equal(t, domain.WaitlistPurchased, h.entry(t, out.Entry.ID).Status)
}
