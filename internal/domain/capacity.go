package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CapacityKey identifies an event, or one pass tier of an event, whose
// inventory is tracked independently.
type CapacityKey struct {
	EventID string
	PassID  string
}

const capacityKeySeparator = "/"

// NewCapacityKey builds a key; an empty passID means the whole event
func NewCapacityKey(eventID, passID string) CapacityKey {
	return CapacityKey{EventID: strings.TrimSpace(eventID), PassID: strings.TrimSpace(passID)}
}

// ParseCapacityKey is the inverse of String
func ParseCapacityKey(s string) (CapacityKey, error) {
	eventID, passID, _ := strings.Cut(s, capacityKeySeparator)
	key := NewCapacityKey(eventID, passID)
	return key, key.Validate()
}

func (k CapacityKey) String() string {
	if k.PassID == "" {
		return k.EventID
	}
	return k.EventID + capacityKeySeparator + k.PassID
}

// IsZero reports an unset key
func (k CapacityKey) IsZero() bool {
	return k.EventID == "" && k.PassID == ""
}

// Validate checks the key can be used for storage
func (k CapacityKey) Validate() error {
	if k.EventID == "" {
		return Invalidf("event id is required")
	}
	if strings.Contains(k.EventID, capacityKeySeparator) || strings.Contains(k.PassID, capacityKeySeparator) {
		return Invalidf("ids must not contain %q", capacityKeySeparator)
	}
	return nil
}

// ReserveResult is the outcome of TryReserve
type ReserveResult int

const (
	Exhausted ReserveResult = iota
	Reserved
)

func (r ReserveResult) String() string {
	if r == Reserved {
		return "reserved"
	}
	return "exhausted"
}

// EventCapacity is the per-key counter pair. 0 <= SoldQuantity <= TotalQuantity always holds.
type EventCapacity struct {
	Key           CapacityKey `json:"-"`
	TotalQuantity int         `json:"total_quantity"`
	SoldQuantity  int         `json:"sold_quantity"`
	Version       int64       `json:"version"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewEventCapacity validates and creates a capacity with nothing sold
func NewEventCapacity(key CapacityKey, total int, now time.Time) (*EventCapacity, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if total < 0 {
		return nil, Invalidf("total quantity cannot be negative")
	}
	return &EventCapacity{
		Key:           key,
		TotalQuantity: total,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Available returns the units that can still be reserved
func (c *EventCapacity) Available() int {
	return c.TotalQuantity - c.SoldQuantity
}

// Reserve increments SoldQuantity by units if that keeps it within TotalQuantity
func (c *EventCapacity) Reserve(units int, now time.Time) ReserveResult {
	if units <= 0 || c.SoldQuantity+units > c.TotalQuantity {
		return Exhausted
	}
	c.SoldQuantity += units
	c.Version++
	c.UpdatedAt = now
	return Reserved
}

// Release decrements SoldQuantity, never below zero, and returns the units actually freed
func (c *EventCapacity) Release(units int, now time.Time) int {
	if units <= 0 {
		return 0
	}
	if units > c.SoldQuantity {
		units = c.SoldQuantity
	}
	c.SoldQuantity -= units
	c.Version++
	c.UpdatedAt = now
	return units
}

// Clone returns a copy safe to hand out of a repository
func (c *EventCapacity) Clone() *EventCapacity {
	cp := *c
	return &cp
}

// PassSnapshot is the catalog's read-only view of a sellable event or pass
type PassSnapshot struct {
	EventID       string
	PassID        string
	TotalQuantity int
	Price         decimal.Decimal
	Cancelled     bool
}

// CapacityKey returns the key the snapshot describes
func (p *PassSnapshot) CapacityKey() CapacityKey {
	return NewCapacityKey(p.EventID, p.PassID)
}
