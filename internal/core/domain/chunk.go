package domain

import (
	"strconv"
	"time"
)

// ChunkStatus tracks a chunk's embedding progress
type ChunkStatus string

const (
	ChunkStatusPending  ChunkStatus = "pending"
	ChunkStatusEmbedded ChunkStatus = "embedded"
)

// DocumentChunk is one deterministic slice of a document's normalised text
type DocumentChunk struct {
	ID          string      `json:"id"`
	DocumentID  string      `json:"document_id"`
	Ordinal     int         `json:"ordinal"`
	Text        string      `json:"text"`
	ContentHash string      `json:"content_hash"`
	StartOffset int         `json:"start_offset"`
	EndOffset   int         `json:"end_offset"`
	Embedding   []float32   `json:"embedding,omitempty"`
	Status      ChunkStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ChunkID is a deterministic hash of document id and start offset
func ChunkID(documentID string, startOffset int) string {
	return ContentHash([]byte(documentID + ":" + strconv.Itoa(startOffset)))[:32]
}

// VectorRecord is what gets written to the vector store, keyed by chunk id
type VectorRecord struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Vector     []float32         `json:"vector"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Version    int64             `json:"version"`
}
