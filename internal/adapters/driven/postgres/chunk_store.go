package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/dedup"
)

// Verify interface compliance
var _ driven.ChunkStore = (*ChunkStore)(nil)

// ChunkStore implements driven.ChunkStore using PostgreSQL.
// Embeddings are kept as packed float32 bytes next to the chunk text.
type ChunkStore struct {
	db *DB
}

// NewChunkStore creates a new ChunkStore
func NewChunkStore(db *DB) *ChunkStore {
	return &ChunkStore{db: db}
}

const chunkColumns = `id, document_id, ordinal, text, content_hash, start_offset, end_offset, embedding, status, created_at, updated_at`

// SaveBatch upserts chunks in one transaction. A chunk whose content hash is
// unchanged keeps its embedding; a changed chunk goes back to pending.
func (s *ChunkStore) SaveBatch(ctx context.Context, chunks []*domain.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, document_id, ordinal, text, content_hash, start_offset, end_offset, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			ON CONFLICT (id) DO UPDATE SET
				ordinal = EXCLUDED.ordinal,
				text = EXCLUDED.text,
				start_offset = EXCLUDED.start_offset,
				end_offset = EXCLUDED.end_offset,
				embedding = CASE WHEN chunks.content_hash = EXCLUDED.content_hash THEN chunks.embedding ELSE NULL END,
				status = CASE WHEN chunks.content_hash = EXCLUDED.content_hash THEN chunks.status ELSE EXCLUDED.status END,
				content_hash = EXCLUDED.content_hash,
				updated_at = EXCLUDED.updated_at
		`)
		if err != nil {
			return fmt.Errorf("prepare chunk upsert: %w", err)
		}
		defer stmt.Close()

		now := time.Now()
		for _, c := range chunks {
			status := c.Status
			if status == "" {
				status = domain.ChunkStatusPending
			}
			_, err := stmt.ExecContext(ctx,
				c.ID, c.DocumentID, c.Ordinal, c.Text, c.ContentHash,
				c.StartOffset, c.EndOffset, string(status), now,
			)
			if err != nil {
				return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// Get retrieves a chunk by id
func (s *ChunkStore) Get(ctx context.Context, id string) (*domain.DocumentChunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = $1`, id)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
	}
	return c, err
}

// GetByDocument retrieves all chunks for a document ordered by ordinal
func (s *ChunkStore) GetByDocument(ctx context.Context, documentID string) ([]*domain.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = $1 ORDER BY ordinal ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*domain.DocumentChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// SetEmbedding stores a chunk's vector and marks it embedded
func (s *ChunkStore) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET embedding = $1, status = $2, updated_at = $3 WHERE id = $4`,
		dedup.EncodeVector(embedding), string(domain.ChunkStatusEmbedded), time.Now(), id)
	if err != nil {
		return fmt.Errorf("update chunk %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Delete deletes chunks by id
func (s *ChunkStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*domain.DocumentChunk, error) {
	var c domain.DocumentChunk
	var embedding []byte
	var status string
	err := row.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.ContentHash,
		&c.StartOffset, &c.EndOffset, &embedding, &status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	c.Status = domain.ChunkStatus(status)
	if len(embedding) > 0 {
		if c.Embedding, err = dedup.DecodeVector(embedding); err != nil {
			return nil, fmt.Errorf("decode chunk %s embedding: %w", c.ID, err)
		}
	}
	return &c, nil
}
