package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

// Lock is a TTL lock table for a single process
type Lock struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

// NewLock creates an empty lock table
func NewLock() *Lock {
	return &Lock{locks: make(map[string]time.Time)}
}

// Acquire takes a named lock unless an unexpired holder exists
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if expiry, ok := l.locks[name]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	l.locks[name] = time.Now().Add(ttl)
	return true, nil
}

// Release drops a named lock
func (l *Lock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, name)
	return nil
}

// Extend pushes the expiry of a held lock
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	expiry, ok := l.locks[name]
	if !ok || time.Now().After(expiry) {
		return fmt.Errorf("lock %s not held", name)
	}
	l.locks[name] = time.Now().Add(ttl)
	return nil
}

// Held reports whether a lock is currently held
func (l *Lock) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	expiry, ok := l.locks[name]
	return ok && time.Now().Before(expiry)
}

func (l *Lock) Ping(ctx context.Context) error { return nil }
