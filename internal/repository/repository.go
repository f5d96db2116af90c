package repository

import (
	"context"
	"errors"
	"time"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// ErrDuplicate is returned when a unique record already exists
var ErrDuplicate = errors.New("duplicate record")

// CapacityRepository stores the per-key counters. TryReserve and Release are
// atomic at the storage level; callers compose them under a capacity lock.
type CapacityRepository interface {
	// CreateIfAbsent stores c unless the key exists and returns the stored capacity
	CreateIfAbsent(ctx context.Context, c *domain.EventCapacity) (*domain.EventCapacity, error)

	// Get returns domain.ErrNotFound for unknown keys
	Get(ctx context.Context, key domain.CapacityKey) (*domain.EventCapacity, error)

	// ListByEvent returns every capacity key of an event
	ListByEvent(ctx context.Context, eventID string) ([]*domain.EventCapacity, error)

	// TryReserve increments sold by units only if it stays within total
	TryReserve(ctx context.Context, key domain.CapacityKey, units int) (domain.ReserveResult, error)

	// Release decrements sold, never below zero, and returns the units freed
	Release(ctx context.Context, key domain.CapacityKey, units int) (int, error)
}

// WaitlistRepository stores waiting list entries
type WaitlistRepository interface {
	// Create assigns the insertion sequence. It fails with domain.ErrAlreadyQueued
	// when the user already has a live entry for the event.
	Create(ctx context.Context, e *domain.WaitingListEntry) error

	Get(ctx context.Context, id string) (*domain.WaitingListEntry, error)

	// GetLive returns the user's waiting or offered entry for an event
	GetLive(ctx context.Context, userID, eventID string) (*domain.WaitingListEntry, error)

	// Update writes e if its version matches and bumps the version.
	// A stale version fails with domain.ErrConcurrencyConflict.
	Update(ctx context.Context, e *domain.WaitingListEntry) error

	// NextWaiting returns the oldest waiting entry of a capacity key
	NextWaiting(ctx context.Context, key domain.CapacityKey) (*domain.WaitingListEntry, error)

	// ListLive returns waiting and offered entries of a capacity key in FIFO order
	ListLive(ctx context.Context, key domain.CapacityKey) ([]*domain.WaitingListEntry, error)

	// ListExpiredOffers returns offered entries whose deadline is before now, oldest deadline first
	ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]*domain.WaitingListEntry, error)
}

// ClaimRepository stores payment claims, unique by external reference
type ClaimRepository interface {
	// Create fails with ErrDuplicate when the reference exists
	Create(ctx context.Context, c *domain.PaymentClaim) error

	GetByReference(ctx context.Context, reference string) (*domain.PaymentClaim, error)

	// Update writes c if its version matches and bumps the version
	Update(ctx context.Context, c *domain.PaymentClaim) error

	// List returns claims newest first
	List(ctx context.Context, filter domain.ClaimFilter) ([]*domain.PaymentClaim, error)

	// Stats aggregates claims, optionally for one event
	Stats(ctx context.Context, eventID string) (*domain.ClaimStats, error)
}

// TicketRepository stores tickets, unique by payment reference
type TicketRepository interface {
	// Create fails with ErrDuplicate when a ticket exists for the payment reference
	Create(ctx context.Context, t *domain.Ticket) error

	Get(ctx context.Context, id string) (*domain.Ticket, error)

	GetByPaymentReference(ctx context.Context, reference string) (*domain.Ticket, error)

	// Update writes t if its version matches and bumps the version
	Update(ctx context.Context, t *domain.Ticket) error
}

// CatalogRepository is the read side of the event/pass catalog
type CatalogRepository interface {
	GetPass(ctx context.Context, eventID, passID string) (*domain.PassSnapshot, error)

	// Upsert is used by admins and seeding; total quantity is fixed by the ledger once used
	Upsert(ctx context.Context, p *domain.PassSnapshot) error
}

func notFound(what string, key domain.CapacityKey, reference string) error {
	return domain.NewError(domain.ErrNotFound, key, reference, what)
}

func staleVersion(what, id string) error {
	return domain.NewError(domain.ErrConcurrencyConflict, domain.CapacityKey{}, "", what+" "+id+" was modified concurrently")
}
