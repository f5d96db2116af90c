package domain

import (
	"time"

	"github.com/google/uuid"
)

// WaitlistStatus is the lifecycle state of a waiting list entry
type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistOffered   WaitlistStatus = "offered"
	WaitlistPurchased WaitlistStatus = "purchased"
	WaitlistExpired   WaitlistStatus = "expired"
)

// IsLive reports waiting or offered
func (s WaitlistStatus) IsLive() bool {
	return s == WaitlistWaiting || s == WaitlistOffered
}

// WaitingListEntry is one user's demand for an event or pass.
// At most one live entry exists per (user, event).
type WaitingListEntry struct {
	ID       string         `json:"id"`
	UserID   string         `json:"user_id"`
	EventID  string         `json:"event_id"`
	PassID   string         `json:"pass_id,omitempty"`
	Quantity int            `json:"quantity"`
	Status   WaitlistStatus `json:"status"`
	// Sequence is assigned by the repository and breaks createdAt ties
	Sequence       int64      `json:"sequence"`
	CreatedAt      time.Time  `json:"created_at"`
	OfferedAt      *time.Time `json:"offered_at,omitempty"`
	OfferExpiresAt *time.Time `json:"offer_expires_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	// ClaimReference links a verified claim that hit CapacityExceeded and queued the payer
	ClaimReference string    `json:"claim_reference,omitempty"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewWaitingListEntry creates a waiting entry
func NewWaitingListEntry(userID string, key CapacityKey, quantity int, now time.Time) (*WaitingListEntry, error) {
	if userID == "" {
		return nil, Invalidf("user id is required")
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, Invalidf("quantity must be greater than zero")
	}
	return &WaitingListEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		EventID:   key.EventID,
		PassID:    key.PassID,
		Quantity:  quantity,
		Status:    WaitlistWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CapacityKey returns the inventory the entry draws from
func (e *WaitingListEntry) CapacityKey() CapacityKey {
	return NewCapacityKey(e.EventID, e.PassID)
}

// IsLive reports waiting or offered
func (e *WaitingListEntry) IsLive() bool {
	return e.Status.IsLive()
}

// HoldsUnits reports whether the entry's offer still holds reserved inventory at now
func (e *WaitingListEntry) HoldsUnits(now time.Time) bool {
	return e.Status == WaitlistOffered && e.OfferExpiresAt != nil && now.Before(*e.OfferExpiresAt)
}

// OfferExpired reports an offered entry whose deadline has passed
func (e *WaitingListEntry) OfferExpired(now time.Time) bool {
	return e.Status == WaitlistOffered && e.OfferExpiresAt != nil && !now.Before(*e.OfferExpiresAt)
}

// Offer moves waiting -> offered with a deadline of now+ttl
func (e *WaitingListEntry) Offer(now time.Time, ttl time.Duration) error {
	if e.Status != WaitlistWaiting {
		return Invalidf("entry %s is %s, only waiting entries can be offered", e.ID, e.Status)
	}
	if ttl <= 0 {
		return Invalidf("offer ttl must be positive")
	}
	expires := now.Add(ttl)
	e.Status = WaitlistOffered
	e.OfferedAt = &now
	e.OfferExpiresAt = &expires
	e.UpdatedAt = now
	return nil
}

// Fulfil marks the entry purchased. A waiting entry may be fulfilled when
// its user bought through free capacity without being promoted.
func (e *WaitingListEntry) Fulfil(now time.Time) error {
	if !e.IsLive() {
		return Invalidf("entry %s is already %s", e.ID, e.Status)
	}
	e.Status = WaitlistPurchased
	e.CompletedAt = &now
	e.UpdatedAt = now
	return nil
}

// Expire ends a live entry without a purchase
func (e *WaitingListEntry) Expire(now time.Time) error {
	if !e.IsLive() {
		return Invalidf("entry %s is already %s", e.ID, e.Status)
	}
	e.Status = WaitlistExpired
	e.CompletedAt = &now
	e.UpdatedAt = now
	return nil
}

// Clone returns a deep copy
func (e *WaitingListEntry) Clone() *WaitingListEntry {
	cp := *e
	cp.OfferedAt = cloneTime(e.OfferedAt)
	cp.OfferExpiresAt = cloneTime(e.OfferExpiresAt)
	cp.CompletedAt = cloneTime(e.CompletedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Before orders entries FIFO: creation time, then insertion sequence
func (e *WaitingListEntry) Before(other *WaitingListEntry) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.Sequence < other.Sequence
}

// QueueStatus is the display view of a capacity key's waiting list
type QueueStatus struct {
	EventID      string     `json:"event_id"`
	PassID       string     `json:"pass_id,omitempty"`
	WaitingCount int        `json:"waiting_count"`
	OfferedCount int        `json:"offered_count"`
	NextOfferEta *time.Time `json:"next_offer_eta,omitempty"`
}
