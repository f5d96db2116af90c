package repository

import (
	"context"
	"sync"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// MemoryCatalogRepository is an in-memory catalog, seeded by admins or tests
type MemoryCatalogRepository struct {
	mu     sync.RWMutex
	passes map[domain.CapacityKey]domain.PassSnapshot
}

// NewMemoryCatalogRepository creates a catalog holding passes
func NewMemoryCatalogRepository(passes ...domain.PassSnapshot) *MemoryCatalogRepository {
	r := &MemoryCatalogRepository{passes: make(map[domain.CapacityKey]domain.PassSnapshot)}
	for _, p := range passes {
		r.passes[p.CapacityKey()] = p
	}
	return r
}

func (r *MemoryCatalogRepository) GetPass(_ context.Context, eventID, passID string) (*domain.PassSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := domain.NewCapacityKey(eventID, passID)
	p, ok := r.passes[key]
	if !ok {
		return nil, notFound("pass", key, "")
	}
	return &p, nil
}

func (r *MemoryCatalogRepository) Upsert(_ context.Context, p *domain.PassSnapshot) error {
	if err := p.CapacityKey().Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes[p.CapacityKey()] = *p
	return nil
}
