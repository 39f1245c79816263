package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

const (
	// DefaultLockTTL bounds how long a crashed computer can block other processes
	DefaultLockTTL = 30 * time.Second

	// DefaultLockPoll is how often a waiter re-checks the cache and the lock
	DefaultLockPoll = 50 * time.Millisecond

	// DefaultComputeTimeout bounds a shared computation once it is detached
	// from the caller that started it
	DefaultComputeTimeout = 2 * time.Minute
)

// ComputeFunc produces the embedding for a content hash on a cache miss
type ComputeFunc func(ctx context.Context) ([]float32, error)

// Config holds dedup layer dependencies
type Config struct {
	Cache driven.EmbeddingCache

	// Lock serialises computations of one hash across processes. Optional:
	// without it only in-process callers are coalesced.
	Lock driven.DistributedLock

	LockTTL  time.Duration
	LockPoll time.Duration

	// ComputeTimeout bounds one shared computation, including the wait for
	// the distributed lock. Callers sharing it still honour their own ctx.
	ComputeTimeout time.Duration

	Logger *slog.Logger
}

// Stats are cumulative counters since the layer was created
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Computations int64 `json:"computations"`
}

// Layer maps content hashes to embeddings and guarantees that concurrent
// requests for the same hash compute it at most once while the cache holds it.
type Layer struct {
	cache          driven.EmbeddingCache
	lock           driven.DistributedLock
	lockTTL        time.Duration
	lockPoll       time.Duration
	computeTimeout time.Duration
	logger         *slog.Logger
	group          singleflight.Group

	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
}

// New creates a dedup layer
func New(cfg Config) *Layer {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.LockPoll <= 0 {
		cfg.LockPoll = DefaultLockPoll
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = DefaultComputeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Layer{
		cache:          cfg.Cache,
		lock:           cfg.Lock,
		lockTTL:        cfg.LockTTL,
		lockPoll:       cfg.LockPoll,
		computeTimeout: cfg.ComputeTimeout,
		logger:         cfg.Logger.With("component", "dedup"),
	}
}

// Get returns the cached vector for a hash
func (l *Layer) Get(ctx context.Context, hash string) ([]float32, bool, error) {
	vec, ok, err := l.cache.Get(ctx, hash)
	if err != nil {
		return nil, false, fmt.Errorf("dedup get %s: %w", hash, err)
	}
	if ok {
		l.hits.Add(1)
	} else {
		l.misses.Add(1)
	}
	return vec, ok, nil
}

// Put stores a vector, replacing any previous value (last write wins)
func (l *Layer) Put(ctx context.Context, hash string, vector []float32) error {
	if err := l.cache.Set(ctx, hash, vector); err != nil {
		return fmt.Errorf("dedup put %s: %w", hash, err)
	}
	return nil
}

type computed struct {
	vector []float32
	cached bool
}

// GetOrCompute returns the vector for hash, running compute only when no
// process has stored one yet. The second return value reports whether the
// vector came from the cache. An existing cached value is never overwritten.
func (l *Layer) GetOrCompute(ctx context.Context, hash string, compute ComputeFunc) ([]float32, bool, error) {
	vec, ok, err := l.Get(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return vec, true, nil
	}

	// The computation outlives the caller that started it: a coalesced
	// caller must not inherit someone else's deadline.
	ch := l.group.DoChan(hash, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.computeTimeout)
		defer cancel()
		return l.computeLocked(cctx, hash, compute)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		res := r.Val.(*computed)
		if r.Shared {
			l.logger.Debug("embedding computation shared", "content_hash", hash)
		}
		return append([]float32(nil), res.vector...), res.cached, nil
	}
}

func (l *Layer) computeLocked(ctx context.Context, hash string, compute ComputeFunc) (*computed, error) {
	if l.lock != nil {
		name := "embed:" + hash
		cached, err := l.acquire(ctx, name, hash)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return &computed{vector: cached, cached: true}, nil
		}
		stop := l.keepAlive(ctx, name, hash)
		defer func() {
			stop()
			if err := l.lock.Release(context.WithoutCancel(ctx), name); err != nil {
				l.logger.Warn("failed to release dedup lock", "content_hash", hash, "error", err)
			}
		}()
	}

	// Another process may have finished between our miss and the lock
	vec, ok, err := l.cache.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("dedup get %s: %w", hash, err)
	}
	if ok {
		return &computed{vector: vec, cached: true}, nil
	}

	vec, err = compute(ctx)
	if err != nil {
		return nil, err
	}
	l.computations.Add(1)

	written, err := l.cache.SetIfAbsent(ctx, hash, vec)
	if err != nil {
		return nil, fmt.Errorf("dedup store %s: %w", hash, err)
	}
	if !written {
		existing, ok, err := l.cache.Get(ctx, hash)
		if err == nil && ok {
			return &computed{vector: existing, cached: true}, nil
		}
	}
	return &computed{vector: vec}, nil
}

// acquire waits for the distributed lock of a hash. It returns early with the
// cached vector when another holder stores it while we wait.
func (l *Layer) acquire(ctx context.Context, name, hash string) ([]float32, error) {
	ticker := time.NewTicker(l.lockPoll)
	defer ticker.Stop()
	for {
		acquired, err := l.lock.Acquire(ctx, name, l.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("dedup lock %s: %w", hash, err)
		}
		if acquired {
			return nil, nil
		}
		vec, ok, err := l.cache.Get(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("dedup get %s: %w", hash, err)
		}
		if ok {
			return vec, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// keepAlive extends a held lock every half TTL until the returned stop
// function is called, so slow embedding calls do not lose it.
func (l *Layer) keepAlive(ctx context.Context, name, hash string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.lockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.lock.Extend(ctx, name, l.lockTTL); err != nil {
					if ctx.Err() == nil {
						l.logger.Warn("failed to extend dedup lock", "content_hash", hash, "error", err)
					}
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Stats returns a snapshot of the counters
func (l *Layer) Stats() Stats {
	return Stats{
		Hits:         l.hits.Load(),
		Misses:       l.misses.Load(),
		Computations: l.computations.Load(),
	}
}

// Ping checks the cache and lock backends
func (l *Layer) Ping(ctx context.Context) error {
	if err := l.cache.Ping(ctx); err != nil {
		return fmt.Errorf("dedup cache: %w", err)
	}
	if l.lock != nil {
		if err := l.lock.Ping(ctx); err != nil {
			return fmt.Errorf("dedup lock: %w", err)
		}
	}
	return nil
}
