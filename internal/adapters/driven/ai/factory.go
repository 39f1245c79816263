package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Provider names an embedding backend
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderHash   Provider = "hash"
)

// Config selects and configures an embedding provider
type Config struct {
	Provider Provider
	APIKey   string
	Model    string
	// BaseURL overrides the provider endpoint
	BaseURL    string
	Dimensions int
	Timeout    time.Duration
}

// IsConfigured reports whether a provider is selected
func (c Config) IsConfigured() bool {
	return c.Provider != ""
}

// NewEmbeddingService creates the embedding service for the configured provider.
// Returns nil, nil when no provider is configured.
func NewEmbeddingService(ctx context.Context, cfg Config) (driven.EmbeddingService, error) {
	if !cfg.IsConfigured() {
		return nil, nil
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		svc, err := NewOpenAIEmbedding(cfg)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case ProviderGemini:
		svc, err := NewGeminiEmbedding(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return svc, nil
	case ProviderHash:
		return NewHashEmbedding(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q: %w", cfg.Provider, domain.ErrInvalidInput)
	}
}
