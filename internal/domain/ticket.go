package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TicketStatus is the lifecycle state of a ticket
type TicketStatus string

const (
	TicketValid    TicketStatus = "valid"
	TicketUsed     TicketStatus = "used"
	TicketRefunded TicketStatus = "refunded"
)

// Ticket is minted once per verified claim
type Ticket struct {
	ID               string          `json:"id"`
	EventID          string          `json:"event_id"`
	PassID           string          `json:"pass_id,omitempty"`
	UserID           string          `json:"user_id"`
	Quantity         int             `json:"quantity"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentReference string          `json:"payment_reference"`
	Status           TicketStatus    `json:"status"`
	PurchasedAt      time.Time       `json:"purchased_at"`
	ScannedAt        *time.Time      `json:"scanned_at,omitempty"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
	Version          int64           `json:"version"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IssueRequest is the input of TicketIssuer.Issue
type IssueRequest struct {
	EventID          string
	PassID           string
	UserID           string
	PaymentReference string
	Quantity         int
	Amount           decimal.Decimal
}

// NewTicket validates req and creates a valid ticket
func NewTicket(req IssueRequest, now time.Time) (*Ticket, error) {
	if req.UserID == "" {
		return nil, Invalidf("user id is required")
	}
	if err := NewCapacityKey(req.EventID, req.PassID).Validate(); err != nil {
		return nil, err
	}
	if req.PaymentReference == "" {
		return nil, Invalidf("payment reference is required")
	}
	if req.Quantity <= 0 {
		return nil, Invalidf("quantity must be greater than zero")
	}
	return &Ticket{
		ID:               uuid.NewString(),
		EventID:          req.EventID,
		PassID:           req.PassID,
		UserID:           req.UserID,
		Quantity:         req.Quantity,
		Amount:           req.Amount,
		PaymentReference: req.PaymentReference,
		Status:           TicketValid,
		PurchasedAt:      now,
		UpdatedAt:        now,
	}, nil
}

// CapacityKey returns the key the ticket consumed
func (t *Ticket) CapacityKey() CapacityKey {
	return NewCapacityKey(t.EventID, t.PassID)
}

// Scan admits the ticket holder
func (t *Ticket) Scan(now time.Time) error {
	switch t.Status {
	case TicketUsed:
		return NewError(ErrAlreadyUsed, t.CapacityKey(), t.PaymentReference, "ticket "+t.ID)
	case TicketRefunded:
		return NewError(ErrInvalid, t.CapacityKey(), t.PaymentReference, "ticket "+t.ID+" was refunded")
	}
	t.Status = TicketUsed
	t.ScannedAt = &now
	t.UpdatedAt = now
	return nil
}

// Refund cancels a ticket that has not been used
func (t *Ticket) Refund(now time.Time) error {
	switch t.Status {
	case TicketUsed:
		return NewError(ErrAlreadyUsed, t.CapacityKey(), t.PaymentReference, "used tickets cannot be refunded")
	case TicketRefunded:
		return NewError(ErrInvalid, t.CapacityKey(), t.PaymentReference, "ticket "+t.ID+" already refunded")
	}
	t.Status = TicketRefunded
	t.RefundedAt = &now
	t.UpdatedAt = now
	return nil
}

// Clone returns a deep copy
func (t *Ticket) Clone() *Ticket {
	cp := *t
	cp.ScannedAt = cloneTime(t.ScannedAt)
	cp.RefundedAt = cloneTime(t.RefundedAt)
	return &cp
}
