package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ChunkStore = (*ChunkStore)(nil)

// ChunkStore keeps document chunks in memory
type ChunkStore struct {
	mu     sync.RWMutex
	chunks map[string]*domain.DocumentChunk
}

// NewChunkStore creates an empty chunk store
func NewChunkStore() *ChunkStore {
	return &ChunkStore{chunks: make(map[string]*domain.DocumentChunk)}
}

func (s *ChunkStore) SaveBatch(ctx context.Context, chunks []*domain.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, c := range chunks {
		cp := *c
		if existing, ok := s.chunks[c.ID]; ok {
			cp.CreatedAt = existing.CreatedAt
			if existing.ContentHash == c.ContentHash && existing.Embedding != nil {
				cp.Embedding = existing.Embedding
				cp.Status = existing.Status
			}
		} else if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		s.chunks[c.ID] = &cp
	}
	return nil
}

func (s *ChunkStore) Get(ctx context.Context, id string) (*domain.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *ChunkStore) GetByDocument(ctx context.Context, documentID string) ([]*domain.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.DocumentChunk
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *ChunkStore) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok {
		return fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
	}
	c.Embedding = append([]float32(nil), embedding...)
	c.Status = domain.ChunkStatusEmbedded
	c.UpdatedAt = time.Now()
	return nil
}

func (s *ChunkStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.chunks, id)
	}
	return nil
}
