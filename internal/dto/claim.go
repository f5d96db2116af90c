package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// ManualClaimRequest is a payment the user reports having made out of band
type ManualClaimRequest struct {
	EventID       string          `json:"event_id" binding:"required"`
	PassID        string          `json:"pass_id,omitempty"`
	Quantity      int             `json:"quantity" binding:"required,min=1"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	PayerName     string          `json:"payer_name" binding:"required"`
	PayerContact  string          `json:"payer_contact,omitempty"`
}

// OperatorEntryRequest records a payment an operator took in person
type OperatorEntryRequest struct {
	UserID       string          `json:"user_id" binding:"required"`
	EventID      string          `json:"event_id" binding:"required"`
	PassID       string          `json:"pass_id,omitempty"`
	Quantity     int             `json:"quantity" binding:"required,min=1"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	PayerName    string          `json:"payer_name,omitempty"`
	PayerContact string          `json:"payer_contact,omitempty"`
}

// RejectClaimRequest carries the admin's reason
type RejectClaimRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ListClaimsQuery filters the admin claim listing
type ListClaimsQuery struct {
	Status  string `form:"status" binding:"omitempty,oneof=pending verified rejected"`
	EventID string `form:"event_id"`
	UserID  string `form:"user_id"`
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

// ClaimResponse represents a payment claim in API responses
type ClaimResponse struct {
	ID                string          `json:"id"`
	ExternalReference string          `json:"external_reference"`
	Source            string          `json:"source"`
	UserID            string          `json:"user_id"`
	EventID           string          `json:"event_id"`
	PassID            string          `json:"pass_id,omitempty"`
	Units             int             `json:"units"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency,omitempty"`
	PayerName         string          `json:"payer_name,omitempty"`
	PayerContact      string          `json:"payer_contact,omitempty"`
	Status            string          `json:"status"`
	TicketCreated     bool            `json:"ticket_created"`
	TicketID          string          `json:"ticket_id,omitempty"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
	VerifiedBy        string          `json:"verified_by,omitempty"`
	VerifiedAt        *time.Time      `json:"verified_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ReconcileResponse is the result of an approval or operator entry
type ReconcileResponse struct {
	Claim    *ClaimResponse  `json:"claim"`
	Ticket   *TicketResponse `json:"ticket"`
	Replayed bool            `json:"replayed"`
}

// FromClaim converts a domain claim; nil stays nil
func FromClaim(c *domain.PaymentClaim) *ClaimResponse {
	if c == nil {
		return nil
	}
	return &ClaimResponse{
		ID:                c.ID,
		ExternalReference: c.ExternalReference,
		Source:            string(c.Source),
		UserID:            c.UserID,
		EventID:           c.EventID,
		PassID:            c.PassID,
		Units:             c.Units,
		Amount:            c.Amount,
		Currency:          c.Currency,
		PayerName:         c.Payer.Name,
		PayerContact:      c.Payer.Contact,
		Status:            string(c.Status),
		TicketCreated:     c.TicketCreated,
		TicketID:          c.TicketID,
		RejectionReason:   c.RejectionReason,
		VerifiedBy:        c.VerifiedBy,
		VerifiedAt:        c.VerifiedAt,
		CreatedAt:         c.CreatedAt,
	}
}

// FromClaims converts a claim listing
func FromClaims(claims []*domain.PaymentClaim) []*ClaimResponse {
	out := make([]*ClaimResponse, 0, len(claims))
	for _, c := range claims {
		out = append(out, FromClaim(c))
	}
	return out
}
