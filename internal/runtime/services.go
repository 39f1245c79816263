package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Services is the swappable half of the worker's dependencies. The embed
// activity resolves the embedding provider on every attempt, so replacing it
// takes effect without restarting running workflows.
type Services struct {
	mu        sync.RWMutex
	config    *domain.RuntimeConfig
	embedding driven.EmbeddingService
}

func NewServices(config *domain.RuntimeConfig) *Services {
	return &Services{config: config}
}

// Config returns the backend selection and capability flags
func (s *Services) Config() *domain.RuntimeConfig {
	return s.config
}

// EmbeddingService returns the current provider, nil when none is set
func (s *Services) EmbeddingService() driven.EmbeddingService {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embedding
}

// RequireEmbedding is EmbeddingService for callers that cannot proceed
// without one. A missing provider maps to domain.ErrServiceUnavailable, which
// the embed activity reports as a retryable EmbeddingServiceError.
func (s *Services) RequireEmbedding() (driven.EmbeddingService, error) {
	svc := s.EmbeddingService()
	if svc == nil {
		return nil, fmt.Errorf("embedding service not configured: %w", domain.ErrServiceUnavailable)
	}
	return svc, nil
}

// SetEmbeddingService installs svc and closes the provider it replaces.
func (s *Services) SetEmbeddingService(svc driven.EmbeddingService) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embedding != nil && s.embedding != svc {
		_ = s.embedding.Close()
	}
	s.embedding = svc
	s.config.SetEmbeddingAvailable(svc != nil)
}

// ValidateAndSetEmbedding health-checks svc before installing it. A provider
// that fails the check is closed and the current one stays in place.
func (s *Services) ValidateAndSetEmbedding(ctx context.Context, svc driven.EmbeddingService) error {
	if svc != nil {
		if err := svc.HealthCheck(ctx); err != nil {
			_ = svc.Close()
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	s.SetEmbeddingService(svc)
	return nil
}

func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.embedding != nil {
		err = s.embedding.Close()
		s.embedding = nil
	}
	s.config.SetEmbeddingAvailable(false)
	return err
}
