package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClaimStatus is the verification state of a payment claim
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimVerified ClaimStatus = "verified"
	ClaimRejected ClaimStatus = "rejected"
)

// ClaimSource is the entry point that reported the payment
type ClaimSource string

const (
	SourceGatewayCallback    ClaimSource = "gateway_callback"
	SourceManualNotification ClaimSource = "manual_notification"
	SourceOperatorEntry      ClaimSource = "operator_entry"
)

// Valid reports a known source
func (s ClaimSource) Valid() bool {
	switch s {
	case SourceGatewayCallback, SourceManualNotification, SourceOperatorEntry:
		return true
	}
	return false
}

// VerificationResult is what a Verifier reports about a payment
type VerificationResult string

const (
	Captured    VerificationResult = "captured"
	NotCaptured VerificationResult = "not_captured"
	Unknown     VerificationResult = "unknown"
)

// Verification is a verifier's answer with optional context
type Verification struct {
	Result VerificationResult
	Reason string
	// VerifiedBy names the gateway or admin that vouched for the payment
	VerifiedBy string
}

const maxReferenceLength = 128

// Payer is the claimed payer identity
type Payer struct {
	Name    string `json:"name,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// ClaimInput is the normalized shape of any reported payment
type ClaimInput struct {
	ExternalReference string
	Source            ClaimSource
	UserID            string
	EventID           string
	PassID            string
	Units             int
	Amount            decimal.Decimal
	Currency          string
	Payer             Payer
}

// CapacityKey returns the key the input targets
func (in *ClaimInput) CapacityKey() CapacityKey {
	return NewCapacityKey(in.EventID, in.PassID)
}

// PaymentClaim records "user X paid A for Q units of P via reference R".
// TicketCreated flips false -> true once, and only while verified.
type PaymentClaim struct {
	ID                string          `json:"id"`
	ExternalReference string          `json:"external_reference"`
	Source            ClaimSource     `json:"source"`
	UserID            string          `json:"user_id"`
	EventID           string          `json:"event_id"`
	PassID            string          `json:"pass_id,omitempty"`
	Units             int             `json:"units"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency,omitempty"`
	Payer             Payer           `json:"payer"`
	Status            ClaimStatus     `json:"status"`
	TicketCreated     bool            `json:"ticket_created"`
	TicketID          string          `json:"ticket_id,omitempty"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
	VerifiedBy        string          `json:"verified_by,omitempty"`
	VerifiedAt        *time.Time      `json:"verified_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Version           int64           `json:"version"`
}

// NormalizeReference is the single place external references get their
// canonical form. Manual notifications without a transaction id are keyed
// UPI-<claimID>, operator entries without one OP-<claimID>.
func NormalizeReference(source ClaimSource, raw, claimID string) (string, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		switch source {
		case SourceManualNotification:
			ref = "UPI-" + claimID
		case SourceOperatorEntry:
			ref = "OP-" + claimID
		default:
			return "", Invalidf("external reference is required")
		}
	}
	if len(ref) > maxReferenceLength {
		return "", Invalidf("external reference longer than %d characters", maxReferenceLength)
	}
	for _, r := range ref {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return "", Invalidf("external reference contains whitespace or control characters")
		}
	}
	return ref, nil
}

// NewPaymentClaim validates input and creates a pending claim
func NewPaymentClaim(in ClaimInput, now time.Time) (*PaymentClaim, error) {
	if !in.Source.Valid() {
		return nil, Invalidf("unknown claim source %q", in.Source)
	}
	if in.UserID == "" {
		return nil, Invalidf("user id is required")
	}
	if err := in.CapacityKey().Validate(); err != nil {
		return nil, err
	}
	if in.Units <= 0 {
		return nil, Invalidf("units must be greater than zero")
	}
	if in.Amount.IsNegative() {
		return nil, Invalidf("amount cannot be negative")
	}

	id := uuid.NewString()
	ref, err := NormalizeReference(in.Source, in.ExternalReference, id)
	if err != nil {
		return nil, err
	}

	return &PaymentClaim{
		ID:                id,
		ExternalReference: ref,
		Source:            in.Source,
		UserID:            in.UserID,
		EventID:           in.EventID,
		PassID:            in.PassID,
		Units:             in.Units,
		Amount:            in.Amount,
		Currency:          strings.ToUpper(in.Currency),
		Payer:             in.Payer,
		Status:            ClaimPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// CapacityKey returns the key the claim draws from
func (c *PaymentClaim) CapacityKey() CapacityKey {
	return NewCapacityKey(c.EventID, c.PassID)
}

// SamePurchase reports whether in describes the purchase this claim
// already records. A reference reused for a different purchase is invalid.
func (c *PaymentClaim) SamePurchase(in ClaimInput) bool {
	return c.UserID == in.UserID &&
		c.CapacityKey() == in.CapacityKey() &&
		c.Units == in.Units
}

// MarkVerified moves pending -> verified
func (c *PaymentClaim) MarkVerified(now time.Time, by string) error {
	switch c.Status {
	case ClaimVerified:
		return nil
	case ClaimRejected:
		return NewError(ErrAlreadyRejected, c.CapacityKey(), c.ExternalReference, "")
	}
	c.Status = ClaimVerified
	c.VerifiedAt = &now
	c.VerifiedBy = by
	c.UpdatedAt = now
	return nil
}

// Reject moves pending -> rejected
func (c *PaymentClaim) Reject(now time.Time, reason string) error {
	switch c.Status {
	case ClaimRejected:
		return NewError(ErrAlreadyRejected, c.CapacityKey(), c.ExternalReference, "")
	case ClaimVerified:
		return Invalidf("claim %s is already verified", c.ExternalReference)
	}
	c.Status = ClaimRejected
	c.RejectionReason = reason
	c.UpdatedAt = now
	return nil
}

// MarkTicketCreated records the ticket minted for this claim
func (c *PaymentClaim) MarkTicketCreated(ticketID string, now time.Time) error {
	if c.Status != ClaimVerified {
		return Invalidf("claim %s is %s, only verified claims can create tickets", c.ExternalReference, c.Status)
	}
	if c.TicketCreated {
		return Invalidf("claim %s already created ticket %s", c.ExternalReference, c.TicketID)
	}
	c.TicketCreated = true
	c.TicketID = ticketID
	c.UpdatedAt = now
	return nil
}

// Clone returns a deep copy
func (c *PaymentClaim) Clone() *PaymentClaim {
	cp := *c
	cp.VerifiedAt = cloneTime(c.VerifiedAt)
	return &cp
}

// ClaimFilter narrows claim listings; zero fields match everything
type ClaimFilter struct {
	Status  ClaimStatus
	EventID string
	UserID  string
	Limit   int
}

// Matches reports whether c passes the filter
func (f ClaimFilter) Matches(c *PaymentClaim) bool {
	return (f.Status == "" || c.Status == f.Status) &&
		(f.EventID == "" || c.EventID == f.EventID) &&
		(f.UserID == "" || c.UserID == f.UserID)
}

// ClaimStats summarises claims for the admin dashboard
type ClaimStats struct {
	Total          int             `json:"total"`
	Pending        int             `json:"pending"`
	Verified       int             `json:"verified"`
	Rejected       int             `json:"rejected"`
	TicketsCreated int             `json:"tickets_created"`
	AwaitingTicket int             `json:"awaiting_ticket"`
	VerifiedAmount decimal.Decimal `json:"verified_amount"`
}

// Add folds one claim into the stats
func (s *ClaimStats) Add(c *PaymentClaim) {
	s.Total++
	switch c.Status {
	case ClaimPending:
		s.Pending++
	case ClaimVerified:
		s.Verified++
		s.VerifiedAmount = s.VerifiedAmount.Add(c.Amount)
		if c.TicketCreated {
			s.TicketsCreated++
		} else {
			s.AwaitingTicket++
		}
	case ClaimRejected:
		s.Rejected++
	}
}
