package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// MemoryClaimRepository keeps payment claims in process memory, keyed by reference
type MemoryClaimRepository struct {
	mu     sync.RWMutex
	claims map[string]*domain.PaymentClaim
}

// NewMemoryClaimRepository creates an empty repository
func NewMemoryClaimRepository() *MemoryClaimRepository {
	return &MemoryClaimRepository{claims: make(map[string]*domain.PaymentClaim)}
}

func (r *MemoryClaimRepository) Create(_ context.Context, c *domain.PaymentClaim) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.claims[c.ExternalReference]; ok {
		return ErrDuplicate
	}
	r.claims[c.ExternalReference] = c.Clone()
	return nil
}

func (r *MemoryClaimRepository) GetByReference(_ context.Context, reference string) (*domain.PaymentClaim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.claims[reference]
	if !ok {
		return nil, notFound("payment claim", domain.CapacityKey{}, reference)
	}
	return c.Clone(), nil
}

func (r *MemoryClaimRepository) Update(_ context.Context, c *domain.PaymentClaim) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.claims[c.ExternalReference]
	if !ok {
		return notFound("payment claim", c.CapacityKey(), c.ExternalReference)
	}
	if stored.Version != c.Version {
		return staleVersion("payment claim", c.ExternalReference)
	}
	c.Version++
	r.claims[c.ExternalReference] = c.Clone()
	return nil
}

func (r *MemoryClaimRepository) List(_ context.Context, filter domain.ClaimFilter) ([]*domain.PaymentClaim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.PaymentClaim, 0)
	for _, c := range r.claims {
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryClaimRepository) Stats(_ context.Context, eventID string) (*domain.ClaimStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &domain.ClaimStats{}
	for _, c := range r.claims {
		if eventID == "" || c.EventID == eventID {
			stats.Add(c)
		}
	}
	return stats, nil
}
