package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

// Lock implements DistributedLock with rows in ingest_locks. Unlike session
// advisory locks it honours TTLs and survives pooled connections being
// recycled, so an expired lock can be taken over by another worker.
type Lock struct {
	db    *DB
	owner string
}

// NewLock creates a table-backed lock owned by this process
func NewLock(db *DB) *Lock {
	hostname, _ := os.Hostname()
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return &Lock{
		db:    db,
		owner: fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(b)),
	}
}

// Acquire inserts the lock row, or takes over an expired one.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO ingest_locks (name, owner, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE ingest_locks.expires_at < $4
	`, name, l.owner, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return n == 1, nil
}

// Release deletes the lock row if this process owns it.
func (l *Lock) Release(ctx context.Context, name string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM ingest_locks WHERE name = $1 AND owner = $2`, name, l.owner)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend pushes the expiry of a lock this process still holds.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	now := time.Now()
	res, err := l.db.ExecContext(ctx, `
		UPDATE ingest_locks SET expires_at = $1
		WHERE name = $2 AND owner = $3 AND expires_at >= $4
	`, now.Add(ttl), name, l.owner, now)
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s not held by this instance", name)
	}
	return nil
}

// Ping checks if the PostgreSQL backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
