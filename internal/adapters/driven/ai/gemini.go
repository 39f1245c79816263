package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure GeminiEmbedding implements EmbeddingService
var _ driven.EmbeddingService = (*GeminiEmbedding)(nil)

const (
	defaultGeminiModel      = "gemini-embedding-001"
	defaultGeminiDimensions = 3072
)

// GeminiEmbedding implements EmbeddingService with the Gemini embedding API
type GeminiEmbedding struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGeminiEmbedding creates a Gemini embedding service. Extra client options
// are appended after the API key, e.g. option.WithEndpoint for tests.
func NewGeminiEmbedding(ctx context.Context, cfg Config, opts ...option.ClientOption) (*GeminiEmbedding, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = defaultGeminiDimensions
	}

	clientOpts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiEmbedding{client: client, model: model, dimensions: dimensions}, nil
}

// Embed embeds each text in turn, keeping input order
func (g *GeminiEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := g.client.EmbeddingModel(g.model)

	out := make([][]float32, len(texts))
	for i, text := range texts {
		res, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, fmt.Errorf("gemini embed input %d: %w", i, err)
		}
		if res.Embedding == nil || len(res.Embedding.Values) == 0 {
			return nil, fmt.Errorf("gemini returned an empty embedding for input %d", i)
		}
		out[i] = res.Embedding.Values
	}
	return out, nil
}

func (g *GeminiEmbedding) Dimensions() int { return g.dimensions }

func (g *GeminiEmbedding) Model() string { return g.model }

func (g *GeminiEmbedding) HealthCheck(ctx context.Context) error {
	_, err := g.Embed(ctx, []string{"health check"})
	return err
}

func (g *GeminiEmbedding) Close() error {
	return g.client.Close()
}
