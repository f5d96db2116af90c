package domain

import "time"

// EventType is the type of a reservation event published to Kafka
type EventType string

const (
	EventTicketIssued          EventType = "ticket.issued"
	EventTicketRefunded        EventType = "ticket.refunded"
	EventTicketScanned         EventType = "ticket.scanned"
	EventOfferGranted          EventType = "offer.granted"
	EventOfferExpired          EventType = "offer.expired"
	EventClaimRejected         EventType = "claim.rejected"
	EventClaimCapacityExceeded EventType = "claim.capacity_exceeded"
)

// ReservationEvent is the envelope published for downstream consumers
type ReservationEvent struct {
	EventID     string     `json:"event_id"`
	EventType   EventType  `json:"event_type"`
	CapacityKey string     `json:"capacity_key"`
	UserID      string     `json:"user_id,omitempty"`
	TicketID    string     `json:"ticket_id,omitempty"`
	EntryID     string     `json:"entry_id,omitempty"`
	Reference   string     `json:"claim_reference,omitempty"`
	Quantity    int        `json:"quantity,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}
