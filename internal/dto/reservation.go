package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// PaymentRequest describes a payment the caller has already made
type PaymentRequest struct {
	Reference    string          `json:"reference"`
	Source       string          `json:"source,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	PayerName    string          `json:"payer_name,omitempty"`
	PayerContact string          `json:"payer_contact,omitempty"`
}

// ReservationRequest starts a checkout, or redeems a payment when Payment is set
type ReservationRequest struct {
	EventID  string          `json:"event_id" binding:"required"`
	PassID   string          `json:"pass_id,omitempty"`
	Quantity int             `json:"quantity" binding:"required,min=1"`
	Payment  *PaymentRequest `json:"payment,omitempty"`
}

// ReservationResponse is the outcome of a reservation request
type ReservationResponse struct {
	Outcome  string                 `json:"outcome"`
	Ticket   *TicketResponse        `json:"ticket,omitempty"`
	Entry    *WaitlistEntryResponse `json:"entry,omitempty"`
	Position int                    `json:"position,omitempty"`
	Reason   string                 `json:"reason,omitempty"`
	Message  string                 `json:"message,omitempty"`
}

// WaitlistEntryResponse represents a waiting list entry in API responses
type WaitlistEntryResponse struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	EventID        string     `json:"event_id"`
	PassID         string     `json:"pass_id,omitempty"`
	Quantity       int        `json:"quantity"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	OfferedAt      *time.Time `json:"offered_at,omitempty"`
	OfferExpiresAt *time.Time `json:"offer_expires_at,omitempty"`
	ClaimReference string     `json:"claim_reference,omitempty"`
}

// QueuePositionResponse is the caller's place in the waiting list.
// Position 0 means the entry holds an offer.
type QueuePositionResponse struct {
	Entry    *WaitlistEntryResponse `json:"entry"`
	Position int                    `json:"position"`
}

// QueueStatusResponse is the display view of a waiting list
type QueueStatusResponse struct {
	EventID      string     `json:"event_id"`
	PassID       string     `json:"pass_id,omitempty"`
	WaitingCount int        `json:"waiting_count"`
	OfferedCount int        `json:"offered_count"`
	NextOfferEta *time.Time `json:"next_offer_eta,omitempty"`
}

// FromOutcome converts a domain outcome to its response
func FromOutcome(o *domain.ReservationOutcome) *ReservationResponse {
	return &ReservationResponse{
		Outcome:  string(o.Kind),
		Ticket:   FromTicket(o.Ticket),
		Entry:    FromEntry(o.Entry),
		Position: o.Position,
		Reason:   string(o.Reason),
		Message:  o.Detail,
	}
}

// FromEntry converts a waiting list entry; nil stays nil
func FromEntry(e *domain.WaitingListEntry) *WaitlistEntryResponse {
	if e == nil {
		return nil
	}
	return &WaitlistEntryResponse{
		ID:             e.ID,
		UserID:         e.UserID,
		EventID:        e.EventID,
		PassID:         e.PassID,
		Quantity:       e.Quantity,
		Status:         string(e.Status),
		CreatedAt:      e.CreatedAt,
		OfferedAt:      e.OfferedAt,
		OfferExpiresAt: e.OfferExpiresAt,
		ClaimReference: e.ClaimReference,
	}
}

// FromQueueStatus converts a queue status
func FromQueueStatus(s *domain.QueueStatus) *QueueStatusResponse {
	return &QueueStatusResponse{
		EventID:      s.EventID,
		PassID:       s.PassID,
		WaitingCount: s.WaitingCount,
		OfferedCount: s.OfferedCount,
		NextOfferEta: s.NextOfferEta,
	}
}
