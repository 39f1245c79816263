package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/postgres"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorStore = (*Store)(nil)

// Store keeps chunk vectors in a postgres table with a pgvector column.
// Collections share one table; the dimension is left open so collections
// embedded with different models can coexist.
type Store struct {
	db *postgres.DB
}

// NewStore creates a new Store
func NewStore(db *postgres.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema installs the vector extension and the records table.
// It lives outside the migrations so deployments using another vector
// backend do not need the extension.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS vector_records (
			collection  TEXT NOT NULL,
			chunk_id    TEXT NOT NULL,
			document_id TEXT NOT NULL,
			embedding   vector NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}',
			version     BIGINT NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (collection, chunk_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vector_records_document ON vector_records (collection, document_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vector schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, records []*domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO vector_records (collection, chunk_id, document_id, embedding, metadata, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (collection, chunk_id) DO UPDATE SET
				document_id = EXCLUDED.document_id,
				embedding = EXCLUDED.embedding,
				metadata = EXCLUDED.metadata,
				version = EXCLUDED.version,
				updated_at = EXCLUDED.updated_at
		`)
		if err != nil {
			return fmt.Errorf("prepare vector upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now()
		for _, r := range records {
			meta, err := json.Marshal(metadataOrEmpty(r.Metadata))
			if err != nil {
				return fmt.Errorf("encode metadata for %s: %w", r.ChunkID, err)
			}
			_, err = stmt.ExecContext(ctx, collection, r.ChunkID, r.DocumentID,
				pgvector.NewVector(r.Vector), meta, r.Version, now)
			if err != nil {
				return fmt.Errorf("upsert vector %s: %w", r.ChunkID, err)
			}
		}
		return nil
	})
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func (s *Store) Get(ctx context.Context, collection, chunkID string) (*domain.VectorRecord, error) {
	var (
		rec  = &domain.VectorRecord{ChunkID: chunkID}
		vec  pgvector.Vector
		meta []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, embedding, metadata, version
		FROM vector_records
		WHERE collection = $1 AND chunk_id = $2
	`, collection, chunkID).Scan(&rec.DocumentID, &vec, &meta, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vector %s: %w", chunkID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get vector %s: %w", chunkID, err)
	}

	rec.Vector = vec.Slice()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", chunkID, err)
		}
		if len(rec.Metadata) == 0 {
			rec.Metadata = nil
		}
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM vector_records WHERE collection = $1 AND chunk_id = ANY($2)
	`, collection, pq.Array(chunkIDs))
	if err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_records WHERE collection = $1`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
