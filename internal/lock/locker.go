package lock

import (
	"context"
	"time"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
)

// Locker serializes work per key. Acquire blocks until the key is free, ctx
// ends, or the wait window runs out; the last two return ErrConcurrencyConflict.
type Locker interface {
	Acquire(ctx context.Context, key string) (unlock func(), err error)
}

// CapacityKey is the lock guarding a capacity key's counters and waiting list
func CapacityKey(key domain.CapacityKey) string {
	return "capacity:" + key.String()
}

// ClaimKey is the lock guarding one external payment reference.
// It is always taken before the capacity lock.
func ClaimKey(reference string) string {
	return "claim:" + reference
}

// DefaultWait bounds how long Acquire waits when no wait is configured
const DefaultWait = 5 * time.Second

func conflict(key string, cause error) error {
	detail := "lock " + key + " busy"
	if cause != nil {
		detail += ": " + cause.Error()
	}
	return domain.NewError(domain.ErrConcurrencyConflict, domain.CapacityKey{}, "", detail)
}
