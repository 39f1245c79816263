package mocks

import (
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

var (
	_ driven.Normaliser         = (*MockNormaliser)(nil)
	_ driven.NormaliserRegistry = (*MockNormaliserRegistry)(nil)
)

// MockNormaliser returns content unchanged unless NormaliseFn is set
type MockNormaliser struct {
	Types       []string
	Prio        int
	NormaliseFn func(content, mimeType string) string
}

// NewMockNormaliser creates a normaliser for the given types
func NewMockNormaliser(types ...string) *MockNormaliser {
	if len(types) == 0 {
		types = []string{"text/plain"}
	}
	return &MockNormaliser{Types: types, Prio: 50}
}

func (m *MockNormaliser) Normalise(content, mimeType string) string {
	if m.NormaliseFn != nil {
		return m.NormaliseFn(content, mimeType)
	}
	return content
}

func (m *MockNormaliser) SupportedTypes() []string { return m.Types }

func (m *MockNormaliser) Priority() int { return m.Prio }

// MockNormaliserRegistry matches MIME types exactly and records lookups
type MockNormaliserRegistry struct {
	mu          sync.Mutex
	normalisers map[string]driven.Normaliser
	lookups     []string
}

// NewMockNormaliserRegistry creates a registry holding the given normalisers
func NewMockNormaliserRegistry(normalisers ...driven.Normaliser) *MockNormaliserRegistry {
	r := &MockNormaliserRegistry{normalisers: make(map[string]driven.Normaliser)}
	for _, n := range normalisers {
		r.Register(n)
	}
	return r
}

func (r *MockNormaliserRegistry) Get(mimeType string) driven.Normaliser {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups = append(r.lookups, mimeType)
	return r.normalisers[mimeType]
}

func (r *MockNormaliserRegistry) Register(n driven.Normaliser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range n.SupportedTypes() {
		r.normalisers[t] = n
	}
}

func (r *MockNormaliserRegistry) Supported() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.normalisers))
	for t := range r.normalisers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Lookups returns the MIME types passed to Get, in order
func (r *MockNormaliserRegistry) Lookups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lookups...)
}
