package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/kiniela/internal/domain"
)

// LockManager is an in-process domain.LockManager. Acquire waits for the
// current holder to release or for its lease to expire. Expired leases are
// treated as free.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	seq   uint64
	clock func() time.Time
}

type lease struct {
	token    uint64
	expires  time.Time
	released chan struct{}
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), clock: time.Now}
}

// Acquire blocks until key is free or ctx is done. On ctx expiry it returns
// an error wrapping domain.ErrLockHeld and the context error.
func (l *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		l.mu.Lock()
		now := l.clock()
		cur, ok := l.held[key]
		if !ok || !now.Before(cur.expires) {
			unlock := l.grant(key, now.Add(ttl))
			l.mu.Unlock()
			return unlock, nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(cur.expires.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("local: lock %s: %w: %w", key, domain.ErrLockHeld, ctx.Err())
		case <-cur.released:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// grant records a new lease; l.mu must be held.
func (l *LockManager) grant(key string, expires time.Time) func() {
	l.seq++
	le := lease{token: l.seq, expires: expires, released: make(chan struct{})}
	l.held[key] = le

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.token == le.token {
				delete(l.held, key)
			}
			close(le.released)
		})
	}
}

var _ domain.LockManager = (*LockManager)(nil)
