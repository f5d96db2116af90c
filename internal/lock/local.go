package lock

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	sem  chan struct{}
	refs int
}

// LocalLocker is an in-process per-key lock. Entries are dropped when the
// last waiter or holder leaves, so the map stays bounded by active keys.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]*localEntry
	wait time.Duration
}

// NewLocalLocker creates a LocalLocker; wait <= 0 uses DefaultWait
func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &LocalLocker{keys: make(map[string]*localEntry), wait: wait}
}

func (l *LocalLocker) ref(key string) *localEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *LocalLocker) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// Acquire implements Locker
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	e := l.ref(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, conflict(key, ctx.Err())
	case <-timer.C:
		l.unref(key, e)
		return nil, conflict(key, nil)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}, nil
}

// Len returns the number of keys currently held or waited on
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
