package driven

import (
	"context"
)

// FetchResult is the raw content of a source document
type FetchResult struct {
	Data []byte
	// MimeType is what the source reported, empty when unknown
	MimeType string
}

// DocumentFetcher reads source documents by URI.
// Implementations return an error wrapping domain.ErrNotFound when the source does not exist.
type DocumentFetcher interface {
	// Fetch reads the whole document at uri.
	Fetch(ctx context.Context, uri string) (*FetchResult, error)

	// Schemes returns the URI schemes handled, e.g. "s3".
	Schemes() []string
}
