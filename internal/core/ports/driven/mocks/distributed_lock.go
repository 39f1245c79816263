package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

// MockDistributedLock keeps named locks in memory with expiry.
// The Fn hooks replace the default behaviour when set.
type MockDistributedLock struct {
	mu       sync.Mutex
	locks    map[string]time.Time
	acquires map[string]int
	releases map[string]int
	extends  map[string]int

	AcquireFn func(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseFn func(ctx context.Context, name string) error
	PingFn    func(ctx context.Context) error
}

// NewMockDistributedLock creates a new mock distributed lock.
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{
		locks:    make(map[string]time.Time),
		acquires: make(map[string]int),
		releases: make(map[string]int),
		extends:  make(map[string]int),
	}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	m.acquires[name]++
	fn := m.AcquireFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if expiry, ok := m.locks[name]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	m.locks[name] = time.Now().Add(ttl)
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	m.releases[name]++
	fn := m.ReleaseFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, name)
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extends[name]++
	expiry, ok := m.locks[name]
	if !ok || time.Now().After(expiry) {
		return fmt.Errorf("lock %s not held", name)
	}
	m.locks[name] = time.Now().Add(ttl)
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn(ctx)
	}
	return nil
}

// IsHeld reports whether a lock is currently held
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.locks[name]
	return ok && time.Now().Before(expiry)
}

// Hold marks a lock as held by another owner for ttl
func (m *MockDistributedLock) Hold(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[name] = time.Now().Add(ttl)
}

// Acquires returns how often Acquire was called for a name
func (m *MockDistributedLock) Acquires(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquires[name]
}

// Releases returns how often Release was called for a name
func (m *MockDistributedLock) Releases(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases[name]
}

// Extends returns how often Extend was called for a name
func (m *MockDistributedLock) Extends(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extends[name]
}
