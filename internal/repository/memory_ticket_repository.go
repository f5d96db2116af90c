package repository

import (
	"context"
	"sync"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// MemoryTicketRepository keeps tickets in process memory
type MemoryTicketRepository struct {
	mu          sync.RWMutex
	tickets     map[string]*domain.Ticket
	byReference map[string]string
}

// NewMemoryTicketRepository creates an empty repository
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets:     make(map[string]*domain.Ticket),
		byReference: make(map[string]string),
	}
}

func (r *MemoryTicketRepository) Create(_ context.Context, t *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byReference[t.PaymentReference]; ok {
		return ErrDuplicate
	}
	if _, ok := r.tickets[t.ID]; ok {
		return ErrDuplicate
	}
	r.tickets[t.ID] = t.Clone()
	r.byReference[t.PaymentReference] = t.ID
	return nil
}

func (r *MemoryTicketRepository) Get(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tickets[id]
	if !ok {
		return nil, notFound("ticket "+id, domain.CapacityKey{}, "")
	}
	return t.Clone(), nil
}

func (r *MemoryTicketRepository) GetByPaymentReference(_ context.Context, reference string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byReference[reference]
	if !ok {
		return nil, notFound("ticket", domain.CapacityKey{}, reference)
	}
	return r.tickets[id].Clone(), nil
}

func (r *MemoryTicketRepository) Update(_ context.Context, t *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tickets[t.ID]
	if !ok {
		return notFound("ticket "+t.ID, t.CapacityKey(), t.PaymentReference)
	}
	if stored.Version != t.Version {
		return staleVersion("ticket", t.ID)
	}
	t.Version++
	r.tickets[t.ID] = t.Clone()
	return nil
}

// Count returns the number of stored tickets
func (r *MemoryTicketRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tickets)
}
