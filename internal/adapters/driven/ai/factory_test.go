package ai

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

func TestNewEmbeddingService_NotConfigured(t *testing.T) {
	svc, err := NewEmbeddingService(context.Background(), Config{})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if svc != nil {
		t.Error("expected nil service when no provider is configured")
	}
}

func TestNewEmbeddingService_Providers(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		model   string
		wantErr bool
	}{
		{"openai", Config{Provider: ProviderOpenAI, APIKey: "sk-test"}, "text-embedding-3-small", false},
		{"openai without key", Config{Provider: ProviderOpenAI}, "", true},
		{"gemini without key", Config{Provider: ProviderGemini}, "", true},
		{"hash", Config{Provider: ProviderHash, Dimensions: 16}, "feature-hash", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewEmbeddingService(context.Background(), tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if svc != nil {
					t.Error("expected nil service on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if svc.Model() != tc.model {
				t.Errorf("expected model %s, got %s", tc.model, svc.Model())
			}
		})
	}
}

func TestNewEmbeddingService_UnknownProvider(t *testing.T) {
	_, err := NewEmbeddingService(context.Background(), Config{Provider: "cohere"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestHashEmbedding(t *testing.T) {
	h := NewHashEmbedding(32)
	vecs, err := h.Embed(context.Background(), []string{"alpha beta", "Alpha  beta", "gamma", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 4 || len(vecs[0]) != 32 {
		t.Fatalf("unexpected shape %d x %d", len(vecs), len(vecs[0]))
	}
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			t.Fatal("expected identical vectors for texts differing only in case and spacing")
		}
	}

	var norm float64
	for _, x := range vecs[2] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("expected unit vector, norm^2 = %f", norm)
	}
	for _, x := range vecs[3] {
		if x != 0 {
			t.Fatal("expected zero vector for empty text")
		}
	}
	if NewHashEmbedding(0).Dimensions() != defaultHashDimensions {
		t.Error("expected default dimensions")
	}
}

func TestHashEmbedding_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHashEmbedding(8).Embed(ctx, []string{"x"}); err == nil {
		t.Error("expected context error")
	}
}
