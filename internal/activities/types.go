package activities

import (
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/postprocessors"
)

// Activity types of the document ingestion workflow
const (
	TypeFetch  domain.ActivityType = "fetch"
	TypeParse  domain.ActivityType = "parse"
	TypeChunk  domain.ActivityType = "chunk"
	TypeEmbed  domain.ActivityType = "embed"
	TypeUpsert domain.ActivityType = "upsert"
)

// FetchInput locates the source document
type FetchInput struct {
	SourceURI   string `json:"source_uri"`
	ContentHash string `json:"content_hash,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
}

// FetchOutput is the raw document. It is also the input of parse.
type FetchOutput struct {
	Data        []byte `json:"data"`
	ContentHash string `json:"content_hash"`
	MimeType    string `json:"mime_type"`
	Size        int    `json:"size"`
}

// ParseInput is the fetched document
type ParseInput = FetchOutput

// ParseOutput is the normalised text of a document
type ParseOutput struct {
	Text     string `json:"text"`
	MimeType string `json:"mime_type"`
}

// ChunkInput is the text to split and where its chunks belong
type ChunkInput struct {
	DocumentID string                     `json:"document_id"`
	Collection string                     `json:"collection"`
	Text       string                     `json:"text"`
	Policy     postprocessors.ChunkPolicy `json:"policy"`
}

// ChunkRef is one chunk produced by the chunk activity
type ChunkRef struct {
	ID          string `json:"id"`
	Ordinal     int    `json:"ordinal"`
	ContentHash string `json:"content_hash"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// ChunkOutput lists the chunks of a document in ordinal order
type ChunkOutput struct {
	Chunks []ChunkRef `json:"chunks"`

	// Superseded are ids of chunks from an earlier version of the document
	// that were removed from the chunk and vector stores
	Superseded []string `json:"superseded,omitempty"`
}

// EmbedInput is one chunk to embed
type EmbedInput struct {
	ChunkID     string `json:"chunk_id"`
	ContentHash string `json:"content_hash"`
	Text        string `json:"text"`
}

// EmbedOutput is the embedding of a chunk
type EmbedOutput struct {
	Vector []float32 `json:"vector"`
	Cached bool      `json:"cached"`
	Model  string    `json:"model,omitempty"`
}

// UpsertInput is one vector record to write
type UpsertInput struct {
	Collection string              `json:"collection"`
	Record     domain.VectorRecord `json:"record"`
}

// UpsertOutput acknowledges a written record
type UpsertOutput struct {
	ChunkID string `json:"chunk_id"`
	Version int64  `json:"version"`
}
