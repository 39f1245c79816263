package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/dedup"
)

// Verify interface compliance
var _ driven.EmbeddingCache = (*EmbeddingCache)(nil)

const keyPrefix = "embedding/"

// maxConflictRetries bounds SetIfAbsent transaction retries
const maxConflictRetries = 5

// Config configures the embedded cache
type Config struct {
	// Path is the data directory; ignored when InMemory is set
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

// EmbeddingCache is a process-embedded embedding cache on badger.
// It suits single-node deployments; workers on other hosts cannot see it.
type EmbeddingCache struct {
	db *badger.DB
}

// Open opens or creates the badger database.
func Open(cfg Config) (*EmbeddingCache, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(logAdapter{cfg.Logger.With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &EmbeddingCache{db: db}, nil
}

func key(hash string) []byte {
	return []byte(keyPrefix + hash)
}

func (c *EmbeddingCache) Get(ctx context.Context, hash string) ([]float32, bool, error) {
	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(hash))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get embedding %s: %w", hash, err)
	}
	vector, err := dedup.DecodeVector(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode embedding %s: %w", hash, err)
	}
	return vector, true, nil
}

func (c *EmbeddingCache) Set(ctx context.Context, hash string, vector []float32) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(hash), dedup.EncodeVector(vector))
	})
	if err != nil {
		return fmt.Errorf("set embedding %s: %w", hash, err)
	}
	return nil
}

// SetIfAbsent writes inside a read-write transaction; badger's conflict
// detection aborts one of two racing writers, which is then retried and
// observes the winner's value.
func (c *EmbeddingCache) SetIfAbsent(ctx context.Context, hash string, vector []float32) (bool, error) {
	for i := 0; i < maxConflictRetries; i++ {
		written := false
		err := c.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(key(hash))
			if err == nil {
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			written = true
			return txn.Set(key(hash), dedup.EncodeVector(vector))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("set embedding %s: %w", hash, err)
		}
		return written, nil
	}
	return false, fmt.Errorf("set embedding %s: %w", hash, badger.ErrConflict)
}

// Ping reports whether the database is open
func (c *EmbeddingCache) Ping(ctx context.Context) error {
	if c.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Close flushes and closes the database
func (c *EmbeddingCache) Close() error {
	return c.db.Close()
}

// logAdapter routes badger's printf logging into slog
type logAdapter struct {
	logger *slog.Logger
}

func (l logAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l logAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l logAdapter) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l logAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
