package driven

// Normaliser turns fetched document bytes of a MIME type into the plain text
// the chunker splits. Output must be deterministic for a given input.
type Normaliser interface {
	Normalise(content string, mimeType string) string

	// SupportedTypes returns exact types ("text/markdown") or subtype
	// wildcards ("text/*").
	SupportedTypes() []string

	// Priority orders overlapping normalisers; format-specific ones sit
	// above generic text handling.
	Priority() int
}

// NormaliserRegistry picks the normaliser for a MIME type. Parameters and
// case are ignored; the highest priority match wins and registration order
// breaks ties.
type NormaliserRegistry interface {
	// Get returns nil when no registered normaliser accepts the type.
	Get(mimeType string) Normaliser

	Register(normaliser Normaliser)

	// Supported lists the registered type patterns, sorted.
	Supported() []string
}

// PostProcessor applies post-processing to document content or chunks.
// Processors form a pipeline: WhitespaceNormaliser -> Chunker.
type PostProcessor interface {
	// Process applies post-processing to content chunks.
	// The pipeline starts with a single chunk holding the full content.
	// Processors must be deterministic: same input, same output.
	Process(chunks []Chunk) []Chunk

	// Name returns the processor name for logging/debugging.
	Name() string

	// Order returns the processor order in the pipeline (lower = earlier).
	// Text cleanup runs before the chunker.
	Order() int
}

// Chunk represents a piece of document content for processing.
type Chunk struct {
	// Content is the text content of the chunk
	Content string

	// Position is the chunk index within the document (0-based)
	Position int

	// StartOffset is the byte offset from document start
	StartOffset int

	// EndOffset is the byte offset for chunk end (exclusive)
	EndOffset int

	// Metadata contains additional chunk-specific data
	Metadata map[string]string
}

// PostProcessorPipeline chains multiple post-processors in order.
type PostProcessorPipeline interface {
	// Process applies all processors in order.
	// Input is the raw document content.
	// Output is the ordered chunks ready for embedding.
	Process(content string) []Chunk

	// Add adds a processor to the pipeline.
	// Processors are sorted by Order() before processing.
	Add(processor PostProcessor)

	// List returns processor names in order.
	List() []string
}
