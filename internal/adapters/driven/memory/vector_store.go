package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorStore = (*VectorStore)(nil)

// VectorStore keeps vector records per collection keyed by chunk id
type VectorStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*domain.VectorRecord
}

// NewVectorStore creates an empty vector store
func NewVectorStore() *VectorStore {
	return &VectorStore{collections: make(map[string]map[string]*domain.VectorRecord)}
}

func (s *VectorStore) Upsert(ctx context.Context, collection string, records []*domain.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]*domain.VectorRecord)
		s.collections[collection] = c
	}
	for _, r := range records {
		cp := *r
		cp.Vector = append([]float32(nil), r.Vector...)
		c[r.ChunkID] = &cp
	}
	return nil
}

func (s *VectorStore) Get(ctx context.Context, collection, chunkID string) (*domain.VectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.collections[collection][chunkID]
	if !ok {
		return nil, fmt.Errorf("vector %s: %w", chunkID, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *VectorStore) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range chunkIDs {
		delete(s.collections[collection], id)
	}
	return nil
}

func (s *VectorStore) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection]), nil
}

func (s *VectorStore) Ping(ctx context.Context) error { return nil }
