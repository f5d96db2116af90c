package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// TicketResponse represents a ticket in API responses
type TicketResponse struct {
	ID               string          `json:"id"`
	EventID          string          `json:"event_id"`
	PassID           string          `json:"pass_id,omitempty"`
	UserID           string          `json:"user_id"`
	Quantity         int             `json:"quantity"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentReference string          `json:"payment_reference"`
	Status           string          `json:"status"`
	PurchasedAt      time.Time       `json:"purchased_at"`
	ScannedAt        *time.Time      `json:"scanned_at,omitempty"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
}

// FromTicket converts a domain ticket; nil stays nil
func FromTicket(t *domain.Ticket) *TicketResponse {
	if t == nil {
		return nil
	}
	return &TicketResponse{
		ID:               t.ID,
		EventID:          t.EventID,
		PassID:           t.PassID,
		UserID:           t.UserID,
		Quantity:         t.Quantity,
		Amount:           t.Amount,
		PaymentReference: t.PaymentReference,
		Status:           string(t.Status),
		PurchasedAt:      t.PurchasedAt,
		ScannedAt:        t.ScannedAt,
		RefundedAt:       t.RefundedAt,
	}
}
