package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentFetcher = (*MockDocumentFetcher)(nil)

// MockDocumentFetcher serves documents from memory by URI
type MockDocumentFetcher struct {
	mu    sync.Mutex
	docs  map[string]*driven.FetchResult
	calls map[string]int

	// FetchFn overrides Fetch when set
	FetchFn func(uri string) (*driven.FetchResult, error)
}

// NewMockDocumentFetcher creates an empty fetcher
func NewMockDocumentFetcher() *MockDocumentFetcher {
	return &MockDocumentFetcher{
		docs:  make(map[string]*driven.FetchResult),
		calls: make(map[string]int),
	}
}

// Put registers a document
func (m *MockDocumentFetcher) Put(uri string, data []byte, mimeType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[uri] = &driven.FetchResult{Data: data, MimeType: mimeType}
}

func (m *MockDocumentFetcher) Fetch(ctx context.Context, uri string) (*driven.FetchResult, error) {
	m.mu.Lock()
	m.calls[uri]++
	fn := m.FetchFn
	doc, ok := m.docs[uri]
	m.mu.Unlock()

	if fn != nil {
		return fn(uri)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", uri, domain.ErrNotFound)
	}
	return &driven.FetchResult{Data: append([]byte(nil), doc.Data...), MimeType: doc.MimeType}, nil
}

func (m *MockDocumentFetcher) Schemes() []string {
	return []string{"mem"}
}

// Calls returns how often uri was fetched
func (m *MockDocumentFetcher) Calls(uri string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[uri]
}

