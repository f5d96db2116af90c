package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// MemoryWaitlistRepository keeps waiting list entries in process memory
type MemoryWaitlistRepository struct {
	mu      sync.RWMutex
	entries map[string]*domain.WaitingListEntry
	seq     int64
}

// NewMemoryWaitlistRepository creates an empty repository
func NewMemoryWaitlistRepository() *MemoryWaitlistRepository {
	return &MemoryWaitlistRepository{entries: make(map[string]*domain.WaitingListEntry)}
}

func (r *MemoryWaitlistRepository) Create(_ context.Context, e *domain.WaitingListEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[e.ID]; ok {
		return ErrDuplicate
	}
	if e.IsLive() && r.liveLocked(e.UserID, e.EventID) != nil {
		return domain.NewError(domain.ErrAlreadyQueued, e.CapacityKey(), "", "user "+e.UserID)
	}

	r.seq++
	e.Sequence = r.seq
	r.entries[e.ID] = e.Clone()
	return nil
}

func (r *MemoryWaitlistRepository) Get(_ context.Context, id string) (*domain.WaitingListEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, notFound("waiting list entry "+id, domain.CapacityKey{}, "")
	}
	return e.Clone(), nil
}

func (r *MemoryWaitlistRepository) GetLive(_ context.Context, userID, eventID string) (*domain.WaitingListEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e := r.liveLocked(userID, eventID); e != nil {
		return e.Clone(), nil
	}
	return nil, notFound("live waiting list entry", domain.NewCapacityKey(eventID, ""), "")
}

func (r *MemoryWaitlistRepository) liveLocked(userID, eventID string) *domain.WaitingListEntry {
	for _, e := range r.entries {
		if e.UserID == userID && e.EventID == eventID && e.IsLive() {
			return e
		}
	}
	return nil
}

func (r *MemoryWaitlistRepository) Update(_ context.Context, e *domain.WaitingListEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.entries[e.ID]
	if !ok {
		return notFound("waiting list entry "+e.ID, e.CapacityKey(), "")
	}
	if stored.Version != e.Version {
		return staleVersion("waiting list entry", e.ID)
	}
	e.Version++
	r.entries[e.ID] = e.Clone()
	return nil
}

func (r *MemoryWaitlistRepository) NextWaiting(ctx context.Context, key domain.CapacityKey) (*domain.WaitingListEntry, error) {
	live, _ := r.ListLive(ctx, key)
	for _, e := range live {
		if e.Status == domain.WaitlistWaiting {
			return e, nil
		}
	}
	return nil, notFound("waiting entry", key, "")
}

func (r *MemoryWaitlistRepository) ListLive(_ context.Context, key domain.CapacityKey) ([]*domain.WaitingListEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.WaitingListEntry, 0)
	for _, e := range r.entries {
		if e.CapacityKey() == key && e.IsLive() {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *MemoryWaitlistRepository) ListExpiredOffers(_ context.Context, now time.Time, limit int) ([]*domain.WaitingListEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.WaitingListEntry, 0)
	for _, e := range r.entries {
		if e.OfferExpired(now) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OfferExpiresAt.Before(*out[j].OfferExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored entries
func (r *MemoryWaitlistRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
