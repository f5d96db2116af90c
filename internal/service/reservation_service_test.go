package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

func TestRequestTicketOrOffer_CapacityOneRace(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	outcomes := make([]*domain.ReservationOutcome, 2)
	var wg sync.WaitGroup
	for i, ref := range []string{"TXN-R1", "TXN-R2"} {
		wg.Add(1)
		go func(i int, ref string) {
			defer wg.Done()
			out, err := h.reservation.RequestTicketOrOffer(ctx, paidCheckout("user-"+ref, ref, 1))
			if !assert.NoError(t, err) {
				return
			}
			outcomes[i] = out
		}(i, ref)
	}
	wg.Wait()

	kinds := map[domain.OutcomeKind]*domain.ReservationOutcome{}
	for _, out := range outcomes {
		require.NotNil(t, out)
		kinds[out.Kind] = out
	}
	require.Contains(t, kinds, domain.OutcomeIssued)
	require.Contains(t, kinds, domain.OutcomeQueued)
	assert.Equal(t, 1, kinds[domain.OutcomeQueued].Position)
	assert.Equal(t, 1, h.sold(t))
}

func TestRequestTicketOrOffer_Validation(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *ReservationRequest
	}{
		{name: "missing user", req: checkout("", 1)},
		{name: "zero quantity", req: checkout("user-1", 0)},
		{name: "quantity above limit", req: checkout("user-1", DefaultMaxUnitsPerRequest+1)},
		{name: "missing event", req: &ReservationRequest{UserID: "user-1", Quantity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.reservation.RequestTicketOrOffer(ctx, tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalid)
		})
	}
}

func TestRequestTicketOrOffer_CancelledEventIsRejected(t *testing.T) {
	h := newHarness(t, 1)

	out, err := h.reservation.RequestTicketOrOffer(context.Background(), &ReservationRequest{UserID: "user-1", EventID: "evt-cancelled", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, out.Kind)
	assert.Equal(t, domain.KindInvalid, out.Reason)
}

func TestRequestTicketOrOffer_UnknownEvent(t *testing.T) {
	h := newHarness(t, 1)

	_, err := h.reservation.RequestTicketOrOffer(context.Background(), &ReservationRequest{UserID: "user-1", EventID: "nope", Quantity: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestTicketOrOffer_CheckoutTwiceIsRejected(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	out, err := h.reservation.RequestTicketOrOffer(ctx, checkout("user-1", 1))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeOffered, out.Kind)

	out, err = h.reservation.RequestTicketOrOffer(ctx, checkout("user-1", 1))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, out.Kind)
	assert.Equal(t, domain.KindAlreadyQueued, out.Reason)
	assert.Equal(t, 1, h.sold(t))
}

func TestRequestTicketOrOffer_NotCapturedIsRejected(t *testing.T) {
	h := newHarness(t, 5)
	h.gatewayMock.Result = domain.NotCaptured

	out, err := h.reservation.RequestTicketOrOffer(context.Background(), paidCheckout("user-1", "TXN-NC", 1))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, out.Kind)
	assert.Equal(t, domain.KindPaymentNotVerified, out.Reason)
}

func TestRequestTicketOrOffer_QueuedPayerRedeemsOffer(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	ticket := soldOut(t, h)

	out, err := h.reservation.RequestTicketOrOffer(ctx, paidCheckout("user-1", "TXN-Q", 1))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeQueued, out.Kind)
	assert.Equal(t, "TXN-Q", out.Entry.ClaimReference)

	_, err = h.issuer.Refund(ctx, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, domain.WaitlistOffered, h.entry(t, out.Entry.ID).Status)

	// the payer's reference replays into the held unit
	issued, err := h.reservation.RequestTicketOrOffer(ctx, paidCheckout("user-1", "TXN-Q", 1))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeIssued, issued.Kind)
	assert.Equal(t, 1, h.sold(t))
	assert.Equal(t, domain.WaitlistPurchased, h.entry(t, out.Entry.ID).Status)
}

func TestRequestTicketOrOffer_LatePaymentLosesPriority(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	offered, err := h.reservation.RequestTicketOrOffer(ctx, checkout("late", 1))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeOffered, offered.Kind)
	waiting, err := h.reservation.RequestTicketOrOffer(ctx, checkout("next", 1))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeQueued, waiting.Kind)

	h.clock.Advance(11 * time.Minute)

	out, err := h.reservation.RequestTicketOrOffer(ctx, paidCheckout("late", "TXN-LATE", 1))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeQueued, out.Kind)
	assert.Equal(t, 1, out.Position)

	assert.Equal(t, domain.WaitlistExpired, h.entry(t, offered.Entry.ID).Status)
	assert.Equal(t, domain.WaitlistOffered, h.entry(t, waiting.Entry.ID).Status)
	assert.Equal(t, 1, h.sold(t))

	claim, err := h.claims.GetByReference(ctx, "TXN-LATE")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimVerified, claim.Status)
	assert.False(t, claim.TicketCreated)
}

func TestRequestTicketOrOffer_ManualNotificationWaitsForAdmin(t *testing.T) {
	h := newHarness(t, 1)
	req := paidCheckout("user-1", "UPI123", 1)
	req.Payment.Source = domain.SourceManualNotification

	_, err := h.reservation.RequestTicketOrOffer(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrVerificationPending)
}
