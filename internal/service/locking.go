package service

import (
	"context"
	"errors"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	"github.com/anirudhsonawane/ticket-reservation/internal/lock"
	"github.com/anirudhsonawane/ticket-reservation/internal/metrics"
	"github.com/anirudhsonawane/ticket-reservation/pkg/retry"
)

// withLock runs fn while holding key. Lock timeouts are retried with
// backoff; only after the retries are spent does ErrConcurrencyConflict
// reach the caller.
func withLock(ctx context.Context, locker lock.Locker, cfg *retry.Config, key string, fn func(ctx context.Context) error) error {
	var unlock func()
	result := retry.Do(ctx, cfg, func(ctx context.Context) error {
		u, err := locker.Acquire(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				metrics.LockConflicts.Inc()
				return err
			}
			return retry.Permanent(err)
		}
		unlock = u
		return nil
	})
	if err := resultError(result); err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// resultError turns a retry result back into the error of the last attempt
func resultError(result *retry.Result) error {
	switch {
	case result.Err == nil:
		return nil
	case result.LastError != nil:
		return result.LastError
	case errors.Is(result.Err, retry.ErrContextCanceled):
		return domain.NewError(domain.ErrConcurrencyConflict, domain.CapacityKey{}, "", "context ended while retrying")
	}
	return result.Err
}
