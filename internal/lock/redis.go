package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anirudhsonawane/ticket-reservation/pkg/logger"
	pkgredis "github.com/anirudhsonawane/ticket-reservation/pkg/redis"
)

// releaseScript deletes the lease only if it still carries our token
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// extendScript pushes the lease deadline out only while it still carries our token
const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

const (
	redisLockPrefix = "lock:"
	minPoll         = 2 * time.Millisecond
	maxPoll         = 50 * time.Millisecond
)

// RedisLockerConfig configures RedisLocker
type RedisLockerConfig struct {
	// TTL is the lease length; a crashed holder frees the key after TTL.
	// A live holder renews the lease every TTL/3 until it unlocks.
	TTL time.Duration
	// Wait bounds how long Acquire polls
	Wait time.Duration
}

// RedisLocker is a lease lock shared by every process pointing at the same Redis
type RedisLocker struct {
	client     *pkgredis.Client
	ttl        time.Duration
	wait       time.Duration
	renewEvery time.Duration
	token      func() string
	log        *logger.Logger
}

// NewRedisLocker creates a RedisLocker
func NewRedisLocker(client *pkgredis.Client, cfg RedisLockerConfig) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = DefaultWait
	}
	return &RedisLocker{
		client:     client,
		ttl:        cfg.TTL,
		wait:       cfg.Wait,
		renewEvery: cfg.TTL / 3,
		token:      uuid.NewString,
		log:        logger.Get(),
	}
}

// Acquire implements Locker
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := redisLockPrefix + key
	token := l.token()
	deadline := time.Now().Add(l.wait)
	poll := minPoll

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go func() {
				defer close(done)
				l.keepAlive(redisKey, token, stop)
			}()
			return l.releaser(redisKey, token, stop, done), nil
		}

		if time.Now().Add(poll).After(deadline) {
			return nil, conflict(key, nil)
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, conflict(key, ctx.Err())
		case <-timer.C:
		}
		if poll *= 2; poll > maxPoll {
			poll = maxPoll
		}
	}
}

// keepAlive renews the lease until stop is closed or the lease is lost
func (l *RedisLocker) keepAlive(redisKey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.renewEvery)
		ok, err := l.extend(ctx, redisKey, token)
		cancel()
		if err != nil {
			// the lease is still good until its TTL; try again next tick
			l.log.Warn("Failed to renew lock lease",
				zap.String("key", redisKey),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			l.log.Error("Lock lease lost while held",
				zap.String("key", redisKey),
				zap.Duration("ttl", l.ttl),
			)
			return
		}
	}
}

// extend resets the lease TTL and reports whether the lease was still ours
func (l *RedisLocker) extend(ctx context.Context, redisKey, token string) (bool, error) {
	n, err := l.client.EvalWithFallback(ctx, "lock_extend", extendScript, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to extend lock %s: %w", redisKey, err)
	}
	return n == 1, nil
}

func (l *RedisLocker) releaser(redisKey, token string, stop chan struct{}, done <-chan struct{}) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		close(stop)
		<-done

		// the caller's ctx may already be cancelled; the lease must still go
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.client.EvalWithFallback(ctx, "lock_release", releaseScript, []string{redisKey}, token).Err(); err != nil {
			l.log.Warn("Failed to release lock, lease will expire",
				zap.String("key", redisKey),
				zap.Duration("ttl", l.ttl),
				zap.Error(err),
			)
		}
	}
}
