package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// soldOut issues the only unit to a buyer and returns the ticket
func soldOut(t *testing.T, h *harness) *domain.Ticket {
	t.Helper()
	res, err := h.gate.Reconcile(context.Background(), gatewayClaim("TXN-SOLD", "buyer", 1), h.gatewayMock)
	require.NoError(t, err)
	return res.Ticket
}

func TestWaitlist_FIFOPromotionThenExpiry(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	ticket := soldOut(t, h)

	ids := make(map[string]string)
	for i, user := range []string{"A", "B", "C"} {
		out, err := h.reservation.RequestTicketOrOffer(ctx, checkout(user, 1))
		require.NoError(t, err)
		require.Equal(t, domain.OutcomeQueued, out.Kind)
		assert.Equal(t, i+1, out.Position)
		ids[user] = out.Entry.ID
		h.clock.Advance(time.Second)
	}

	_, err := h.issuer.Refund(ctx, ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.WaitlistOffered, h.entry(t, ids["A"]).Status)
	assert.Equal(t, domain.WaitlistWaiting, h.entry(t, ids["B"]).Status)
	assert.Equal(t, domain.WaitlistWaiting, h.entry(t, ids["C"]).Status)
	assert.Equal(t, 1, h.sold(t))

	h.clock.Advance(11 * time.Minute)
	expired, promoted, err := h.waitlist.ExpireOffer(ctx, ids["A"])
	require.NoError(t, err)
	assert.True(t, expired)
	assert.Equal(t, 1, promoted)

	assert.Equal(t, domain.WaitlistExpired, h.entry(t, ids["A"]).Status)
	assert.Equal(t, domain.WaitlistOffered, h.entry(t, ids["B"]).Status)
	assert.Equal(t, domain.WaitlistWaiting, h.entry(t, ids["C"]).Status)
	assert.Equal(t, 1, h.sold(t))
	assert.Equal(t, 1, h.publisher.Count(domain.EventOfferExpired))
}

func TestWaitlist_SameTimestampOrderedBySequence(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	ticket := soldOut(t, h)

	first, err := h.waitlist.Enqueue(ctx, "first", testKey, 1, "")
	require.NoError(t, err)
	second, err := h.waitlist.Enqueue(ctx, "second", testKey, 1, "")
	require.NoError(t, err)
	require.True(t, first.CreatedAt.Equal(second.CreatedAt))

	_, err = h.issuer.Refund(ctx, ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.WaitlistOffered, h.entry(t, first.ID).Status)
	assert.Equal(t, domain.WaitlistWaiting, h.entry(t, second.ID).Status)
}

func TestWaitlist_ExpireOfferIgnoresLiveOffer(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	out, err := h.reservation.RequestTicketOrOffer(ctx, checkout("user-1", 1))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeOffered, out.Kind)

	expired, promoted, err := h.waitlist.ExpireOffer(ctx, out.Entry.ID)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.Zero(t, promoted)
	assert.Equal(t, 1, h.sold(t))
}

func TestWaitlist_HeadThatDoesNotFitBlocksQueue(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	_, err := h.gate.Reconcile(ctx, gatewayClaim("TXN-1", "buyer-1", 1), h.gatewayMock)
	require.NoError(t, err)
	held, err := h.gate.Reconcile(ctx, gatewayClaim("TXN-2", "buyer-2", 1), h.gatewayMock)
	require.NoError(t, err)

	big, err := h.waitlist.Enqueue(ctx, "big", testKey, 2, "")
	require.NoError(t, err)
	small, err := h.waitlist.Enqueue(ctx, "small", testKey, 1, "")
	require.NoError(t, err)

	_, err = h.issuer.Refund(ctx, held.Ticket.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.WaitlistWaiting, h.entry(t, big.ID).Status)
	assert.Equal(t, domain.WaitlistWaiting, h.entry(t, small.ID).Status)
	assert.Equal(t, 1, h.sold(t))
}

func TestWaitlist_EnqueuePromotesWhenUnitsAreFree(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	entry, err := h.waitlist.Enqueue(ctx, "user-1", testKey, 1, "")
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistOffered, entry.Status)
	assert.Equal(t, 1, h.sold(t))
}

func TestWaitlist_EnqueueTwiceIsAlreadyQueued(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	soldOut(t, h)

	_, err := h.waitlist.Enqueue(ctx, "user-1", testKey, 1, "")
	require.NoError(t, err)
	_, err = h.waitlist.Enqueue(ctx, "user-1", testKey, 1, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyQueued)
}

func TestWaitlist_QueueStatusAndPosition(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	offered, err := h.reservation.RequestTicketOrOffer(ctx, checkout("user-1", 2))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeOffered, offered.Kind)

	for _, user := range []string{"user-2", "user-3"} {
		_, err := h.reservation.RequestTicketOrOffer(ctx, checkout(user, 1))
		require.NoError(t, err)
	}

	status, err := h.reservation.GetQueueStatus(ctx, testEvent, testPass)
	require.NoError(t, err)
	assert.Equal(t, 2, status.WaitingCount)
	assert.Equal(t, 1, status.OfferedCount)
	require.NotNil(t, status.NextOfferEta)
	assert.True(t, status.NextOfferEta.Equal(*offered.Entry.OfferExpiresAt))

	_, pos, err := h.reservation.GetPosition(ctx, "user-3", testEvent)
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	_, pos, err = h.reservation.GetPosition(ctx, "user-1", testEvent)
	require.NoError(t, err)
	assert.Equal(t, 0, pos)

	_, _, err = h.reservation.GetPosition(ctx, "nobody", testEvent)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWaitlist_LeaveOfferedCascades(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	offered, err := h.reservation.RequestTicketOrOffer(ctx, checkout("user-1", 1))
	require.NoError(t, err)
	queued, err := h.reservation.RequestTicketOrOffer(ctx, checkout("user-2", 1))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeQueued, queued.Kind)

	left, err := h.reservation.LeaveQueue(ctx, "user-1", testEvent)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistExpired, left.Status)
	assert.Equal(t, domain.WaitlistExpired, h.entry(t, offered.Entry.ID).Status)
	assert.Equal(t, domain.WaitlistOffered, h.entry(t, queued.Entry.ID).Status)
	assert.Equal(t, 1, h.sold(t))

	_, err = h.reservation.LeaveQueue(ctx, "user-1", testEvent)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWaitlist_LeaveWaiting(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	soldOut(t, h)

	queued, err := h.reservation.RequestTicketOrOffer(ctx, checkout("user-1", 1))
	require.NoError(t, err)

	_, err = h.reservation.LeaveQueue(ctx, "user-1", testEvent)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistExpired, h.entry(t, queued.Entry.ID).Status)
	assert.Equal(t, 1, h.sold(t))
	assert.Zero(t, h.publisher.Count(domain.EventOfferExpired))
}

func TestWaitlist_LeavingBlockedHeadUnblocksQueue(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	x, err := h.reservation.RequestTicketOrOffer(ctx, checkout("X", 2))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeOffered, x.Kind)
	y, err := h.reservation.RequestTicketOrOffer(ctx, checkout("Y", 1))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeOffered, y.Kind)

	a, err := h.reservation.RequestTicketOrOffer(ctx, checkout("A", 2))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeQueued, a.Kind)
	b, err := h.reservation.RequestTicketOrOffer(ctx, checkout("B", 1))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeQueued, b.Kind)

	_, err = h.reservation.LeaveQueue(ctx, "Y", testEvent)
	require.NoError(t, err)
	assert.Equal(t, 2, h.sold(t))
	assert.Equal(t, domain.WaitlistWaiting, h.entry(t, a.Entry.ID).Status)
	assert.Equal(t, domain.WaitlistWaiting, h.entry(t, b.Entry.ID).Status)

	// a free unit exists but A and B are ahead
	c, err := h.reservation.RequestTicketOrOffer(ctx, checkout("C", 1))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeQueued, c.Kind)
	assert.Equal(t, 3, c.Position)
	assert.Equal(t, 2, h.sold(t))

	_, err = h.reservation.LeaveQueue(ctx, "A", testEvent)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistExpired, h.entry(t, a.Entry.ID).Status)
	assert.Equal(t, domain.WaitlistOffered, h.entry(t, b.Entry.ID).Status)
	assert.Equal(t, domain.WaitlistWaiting, h.entry(t, c.Entry.ID).Status)
	assert.Equal(t, 3, h.sold(t))
	assert.Equal(t, 1, h.publisher.Count(domain.EventOfferExpired))
}

func TestWaitlist_PromoteNext(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	promoted, err := h.waitlist.PromoteNext(ctx, testKey)
	require.NoError(t, err)
	assert.Nil(t, promoted, "empty queue")

	ticket := soldOut(t, h)
	entry, err := h.waitlist.Enqueue(ctx, "user-1", testKey, 1, "")
	require.NoError(t, err)
	require.Equal(t, domain.WaitlistWaiting, entry.Status)

	promoted, err = h.waitlist.PromoteNext(ctx, testKey)
	require.NoError(t, err)
	assert.Nil(t, promoted, "no free units")
	assert.Equal(t, domain.WaitlistWaiting, h.entry(t, entry.ID).Status)

	// release without the cascade so the head is still waiting on free units
	err = h.ledger.Atomically(ctx, testKey, func(ctx context.Context, scope *LedgerScope) error {
		_, err := scope.Release(ctx, ticket.Quantity)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 0, h.sold(t))

	promoted, err = h.waitlist.PromoteNext(ctx, testKey)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, entry.ID, promoted.ID)
	assert.Equal(t, domain.WaitlistOffered, promoted.Status)
	require.NotNil(t, promoted.OfferExpiresAt)
	assert.True(t, promoted.OfferExpiresAt.Equal(h.clock.Now().Add(10*time.Minute)))
	assert.Equal(t, 1, h.sold(t))
	assert.Equal(t, 1, h.publisher.Count(domain.EventOfferGranted))
}

func TestWaitlist_Fulfil(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	out, err := h.reservation.RequestTicketOrOffer(ctx, checkout("user-1", 1))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeOffered, out.Kind)

	fulfilled, err := h.waitlist.Fulfil(ctx, out.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WaitlistPurchased, fulfilled.Status)
	assert.Equal(t, domain.WaitlistPurchased, h.entry(t, out.Entry.ID).Status)
	assert.Equal(t, 1, h.sold(t), "fulfilling keeps the offer's units sold")

	_, err = h.waitlist.Fulfil(ctx, out.Entry.ID)
	assert.ErrorIs(t, err, domain.ErrInvalid, "a purchased entry is terminal")

	left, err := h.reservation.RequestTicketOrOffer(ctx, checkout("user-2", 1))
	require.NoError(t, err)
	_, err = h.reservation.LeaveQueue(ctx, "user-2", testEvent)
	require.NoError(t, err)

	_, err = h.waitlist.Fulfil(ctx, left.Entry.ID)
	assert.ErrorIs(t, err, domain.ErrInvalid, "an expired entry is terminal")
	assert.Equal(t, domain.WaitlistExpired, h.entry(t, left.Entry.ID).Status)

	_, err = h.waitlist.Fulfil(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
