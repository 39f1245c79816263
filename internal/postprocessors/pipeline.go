package postprocessors

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.PostProcessorPipeline = (*Pipeline)(nil)

// Pipeline implements PostProcessorPipeline.
// It chains post-processors in order: text cleanup first, the chunker last.
type Pipeline struct {
	mu         sync.RWMutex
	processors []driven.PostProcessor
	sorted     bool
}

// NewPipeline creates a new post-processor pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		processors: make([]driven.PostProcessor, 0),
	}
}

// Add adds a processor to the pipeline.
// Processors are sorted by Order() before processing.
func (p *Pipeline) Add(processor driven.PostProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processors = append(p.processors, processor)
	p.sorted = false
}

// Process applies all processors in order.
// Offsets of the resulting chunks refer to the text produced by the
// processors that run before the chunker, not to the raw input.
func (p *Pipeline) Process(content string) []driven.Chunk {
	p.mu.Lock()
	if !p.sorted {
		sort.SliceStable(p.processors, func(i, j int) bool {
			return p.processors[i].Order() < p.processors[j].Order()
		})
		p.sorted = true
	}
	procs := make([]driven.PostProcessor, len(p.processors))
	copy(procs, p.processors)
	p.mu.Unlock()

	chunks := []driven.Chunk{
		{
			Content:     content,
			Position:    0,
			StartOffset: 0,
			EndOffset:   len(content),
		},
	}

	for _, proc := range procs {
		chunks = proc.Process(chunks)
	}

	return chunks
}

// List returns processor names in order.
func (p *Pipeline) List() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, len(p.processors))
	for i, proc := range p.processors {
		names[i] = proc.Name()
	}
	return names
}

// ChunkPolicy configures token chunking. It is recorded with each workflow
// so a replayed run always chunks with the policy it started with.
type ChunkPolicy struct {
	// MaxTokens is the maximum number of tokens per chunk
	MaxTokens int `json:"max_tokens"`

	// Overlap is the number of tokens shared by consecutive chunks
	Overlap int `json:"overlap"`
}

// DefaultChunkPolicy returns the defaults used when configuration is silent.
func DefaultChunkPolicy() ChunkPolicy {
	return ChunkPolicy{
		MaxTokens: 256,
		Overlap:   32,
	}
}

// Validate checks the policy can make progress.
func (p ChunkPolicy) Validate() error {
	if p.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", p.MaxTokens)
	}
	if p.Overlap < 0 || p.Overlap >= p.MaxTokens {
		return fmt.Errorf("overlap must be in [0, %d), got %d", p.MaxTokens, p.Overlap)
	}
	return nil
}

// NewPipelineFor creates the ingestion pipeline for a chunk policy:
// whitespace normalisation followed by token chunking.
func NewPipelineFor(policy ChunkPolicy) *Pipeline {
	p := NewPipeline()
	p.Add(NewWhitespaceNormalizer())
	p.Add(NewTokenChunker(policy))
	return p
}

// TokenChunker splits content into windows of whitespace-delimited tokens.
// The same content and policy always yield the same boundaries.
type TokenChunker struct {
	policy ChunkPolicy
}

// Verify interface compliance
var _ driven.PostProcessor = (*TokenChunker)(nil)

// NewTokenChunker creates a new chunker with the given policy.
func NewTokenChunker(policy ChunkPolicy) *TokenChunker {
	return &TokenChunker{policy: policy}
}

// Process splits every input chunk into token windows, numbering them in order.
func (c *TokenChunker) Process(chunks []driven.Chunk) []driven.Chunk {
	var result []driven.Chunk
	position := 0

	for _, chunk := range chunks {
		result = append(result, c.split(chunk, &position)...)
	}

	return result
}

// Name returns the processor name.
func (c *TokenChunker) Name() string {
	return "token-chunker"
}

// Order returns 10 - chunking runs after text cleanup.
func (c *TokenChunker) Order() int {
	return 10
}

type span struct {
	start, end int
}

func (c *TokenChunker) split(chunk driven.Chunk, position *int) []driven.Chunk {
	tokens := tokenize(chunk.Content)
	if len(tokens) == 0 {
		return nil
	}

	maxTokens := c.policy.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultChunkPolicy().MaxTokens
	}
	stride := maxTokens - c.policy.Overlap
	if stride <= 0 {
		stride = maxTokens
	}

	var out []driven.Chunk
	for first := 0; first < len(tokens); first += stride {
		last := first + maxTokens - 1
		if last >= len(tokens) {
			last = len(tokens) - 1
		}
		start, end := tokens[first].start, tokens[last].end
		out = append(out, driven.Chunk{
			Content:     chunk.Content[start:end],
			Position:    *position,
			StartOffset: chunk.StartOffset + start,
			EndOffset:   chunk.StartOffset + end,
			Metadata:    chunk.Metadata,
		})
		*position++
		if last == len(tokens)-1 {
			break
		}
	}
	return out
}

// tokenize returns the byte spans of whitespace-separated tokens
func tokenize(s string) []span {
	var tokens []span
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, span{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, span{start, len(s)})
	}
	return tokens
}

// WhitespaceNormalizer normalizes whitespace in chunks.
type WhitespaceNormalizer struct{}

// Verify interface compliance
var _ driven.PostProcessor = (*WhitespaceNormalizer)(nil)

// NewWhitespaceNormalizer creates a new whitespace normalizer.
func NewWhitespaceNormalizer() *WhitespaceNormalizer {
	return &WhitespaceNormalizer{}
}

// Process normalizes line endings, collapses runs of spaces and blank lines,
// and drops chunks left empty.
func (w *WhitespaceNormalizer) Process(chunks []driven.Chunk) []driven.Chunk {
	result := make([]driven.Chunk, 0, len(chunks))

	for _, chunk := range chunks {
		content := Normalize(chunk.Content)
		if len(content) > 0 {
			newChunk := chunk
			newChunk.Content = content
			newChunk.EndOffset = newChunk.StartOffset + len(content)
			result = append(result, newChunk)
		}
	}

	return result
}

// Normalize applies whitespace normalization to a string.
func Normalize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t'
		}), " ")
	}
	content = strings.Join(lines, "\n")

	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(content)
}

// Name returns the processor name.
func (w *WhitespaceNormalizer) Name() string {
	return "whitespace-normalizer"
}

// Order returns 0 - cleanup runs before chunking.
func (w *WhitespaceNormalizer) Order() int {
	return 0
}
