package ai

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Ensure HashEmbedding implements EmbeddingService
var _ driven.EmbeddingService = (*HashEmbedding)(nil)

const defaultHashDimensions = 256

// HashEmbedding is a deterministic feature-hashing embedder. It needs no
// network and gives identical vectors for identical text, which makes it
// useful for local runs and for checking the pipeline end to end.
type HashEmbedding struct {
	dimensions int
}

// NewHashEmbedding creates a hash embedder
func NewHashEmbedding(dimensions int) *HashEmbedding {
	if dimensions <= 0 {
		dimensions = defaultHashDimensions
	}
	return &HashEmbedding{dimensions: dimensions}
}

func (h *HashEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashEmbedding) vector(text string) []float32 {
	v := make([]float32, h.dimensions)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(tok))
		idx := binary.LittleEndian.Uint32(sum[:4]) % uint32(h.dimensions)
		if sum[4]&1 == 0 {
			v[idx]++
		} else {
			v[idx]--
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func (h *HashEmbedding) Dimensions() int { return h.dimensions }

func (h *HashEmbedding) Model() string { return "feature-hash" }

func (h *HashEmbedding) HealthCheck(ctx context.Context) error { return nil }

func (h *HashEmbedding) Close() error { return nil }
