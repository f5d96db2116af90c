package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// MemoryCapacityRepository keeps capacities in process memory
type MemoryCapacityRepository struct {
	mu   sync.RWMutex
	data map[domain.CapacityKey]*domain.EventCapacity
	now  func() time.Time
}

// NewMemoryCapacityRepository creates an empty repository
func NewMemoryCapacityRepository() *MemoryCapacityRepository {
	return &MemoryCapacityRepository{
		data: make(map[domain.CapacityKey]*domain.EventCapacity),
		now:  time.Now,
	}
}

func (r *MemoryCapacityRepository) CreateIfAbsent(_ context.Context, c *domain.EventCapacity) (*domain.EventCapacity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.data[c.Key]; ok {
		return existing.Clone(), nil
	}
	r.data[c.Key] = c.Clone()
	return c.Clone(), nil
}

func (r *MemoryCapacityRepository) Get(_ context.Context, key domain.CapacityKey) (*domain.EventCapacity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.data[key]
	if !ok {
		return nil, notFound("capacity", key, "")
	}
	return c.Clone(), nil
}

func (r *MemoryCapacityRepository) ListByEvent(_ context.Context, eventID string) ([]*domain.EventCapacity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.EventCapacity, 0)
	for key, c := range r.data {
		if key.EventID == eventID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.PassID < out[j].Key.PassID })
	return out, nil
}

func (r *MemoryCapacityRepository) TryReserve(_ context.Context, key domain.CapacityKey, units int) (domain.ReserveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.data[key]
	if !ok {
		return domain.Exhausted, notFound("capacity", key, "")
	}
	return c.Reserve(units, r.now()), nil
}

func (r *MemoryCapacityRepository) Release(_ context.Context, key domain.CapacityKey, units int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.data[key]
	if !ok {
		return 0, notFound("capacity", key, "")
	}
	return c.Release(units, r.now()), nil
}
