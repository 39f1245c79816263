package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// IngestionRequest is the input of a document ingestion workflow
type IngestionRequest struct {
	DocumentID  string            `json:"document_id"`
	SourceURI   string            `json:"source_uri"`
	ContentHash string            `json:"content_hash"`
	MimeType    string            `json:"mime_type,omitempty"`
	Collection  string            `json:"collection"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// ContentHash is the hex sha256 digest used for documents and chunks
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeContentHash lowercases a caller-supplied digest so every spelling
// of one hash maps to one workflow id. Anything but 64 hex characters is
// ErrInvalidInput.
func NormalizeContentHash(hash string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(hash))
	if len(h) != sha256.Size*2 {
		return "", fmt.Errorf("%w: content_hash must be a hex sha256 digest", ErrInvalidInput)
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", fmt.Errorf("%w: content_hash must be a hex sha256 digest", ErrInvalidInput)
	}
	return h, nil
}

// DocumentIDFor derives a stable document id from a source locator
func DocumentIDFor(sourceURI string) string {
	return "doc-" + ContentHash([]byte(sourceURI))[:32]
}

// WorkflowIDFor derives the workflow id from document identity and content hash,
// so at most one execution is active per (document, content) pair.
func WorkflowIDFor(documentID, contentHash string) string {
	return "ingest-" + ContentHash([]byte(documentID+"\x00"+contentHash))[:40]
}
