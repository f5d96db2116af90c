package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

func TestTicketIssuer_IssueDoesNotTouchCapacity(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	_, err := h.ledger.EnsureCapacity(ctx, testKey)
	require.NoError(t, err)

	ticket, err := h.issuer.Issue(ctx, domain.IssueRequest{
		EventID:          testEvent,
		PassID:           testPass,
		UserID:           "user-1",
		PaymentReference: "TXN-1",
		Quantity:         2,
		Amount:           decimal.NewFromInt(200),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketValid, ticket.Status)
	assert.Equal(t, 0, h.sold(t))
	assert.Equal(t, 1, h.publisher.Count(domain.EventTicketIssued))

	_, err = h.issuer.Issue(ctx, domain.IssueRequest{
		EventID:          testEvent,
		PassID:           testPass,
		UserID:           "user-1",
		PaymentReference: "TXN-1",
		Quantity:         2,
	})
	assert.ErrorIs(t, err, domain.ErrInvalid)
}

func TestTicketIssuer_Scan(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	ticket := soldOut(t, h)

	scanned, err := h.issuer.Scan(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketUsed, scanned.Status)
	assert.NotNil(t, scanned.ScannedAt)

	_, err = h.issuer.Scan(ctx, ticket.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyUsed)

	_, err = h.issuer.Refund(ctx, ticket.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyUsed)
	assert.Equal(t, 1, h.sold(t))
}

func TestTicketIssuer_RefundThenScanIsInvalid(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	ticket := soldOut(t, h)

	refunded, err := h.issuer.Refund(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketRefunded, refunded.Status)
	assert.Equal(t, 0, h.sold(t))

	_, err = h.issuer.Scan(ctx, ticket.ID)
	assert.ErrorIs(t, err, domain.ErrInvalid)

	_, err = h.issuer.Refund(ctx, ticket.ID)
	assert.ErrorIs(t, err, domain.ErrInvalid)
	assert.Equal(t, 0, h.sold(t))
}

func TestTicketIssuer_RefundCascadesExactlyOnePromotion(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	ticket := soldOut(t, h)

	var queued []string
	for _, user := range []string{"user-1", "user-2", "user-3"} {
		out, err := h.reservation.RequestTicketOrOffer(ctx, checkout(user, 1))
		require.NoError(t, err)
		queued = append(queued, out.Entry.ID)
	}

	_, err := h.issuer.Refund(ctx, ticket.ID)
	require.NoError(t, err)

	offered := 0
	for _, id := range queued {
		if h.entry(t, id).Status == domain.WaitlistOffered {
			offered++
		}
	}
	assert.Equal(t, 1, offered)
	assert.Equal(t, 1, h.sold(t))
	assert.Equal(t, 1, h.publisher.Count(domain.EventOfferGranted))
	assert.Equal(t, 1, h.publisher.Count(domain.EventTicketRefunded))
}

func TestTicketIssuer_UnknownTicket(t *testing.T) {
	h := newHarness(t, 1)

	_, err := h.issuer.Refund(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.issuer.Scan(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
