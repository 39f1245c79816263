package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentFetcher = (*Mux)(nil)

// Mux routes a URI to the fetcher registered for its scheme
type Mux struct {
	fetchers map[string]driven.DocumentFetcher
}

// NewMux creates a mux over the given fetchers. Later fetchers win on
// scheme collisions.
func NewMux(fetchers ...driven.DocumentFetcher) *Mux {
	m := &Mux{fetchers: make(map[string]driven.DocumentFetcher)}
	for _, f := range fetchers {
		m.Register(f)
	}
	return m
}

// Register adds a fetcher for every scheme it handles
func (m *Mux) Register(f driven.DocumentFetcher) {
	for _, scheme := range f.Schemes() {
		m.fetchers[strings.ToLower(scheme)] = f
	}
}

func (m *Mux) Fetch(ctx context.Context, uri string) (*driven.FetchResult, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse source uri %q: %w", uri, domain.ErrInvalidInput)
	}
	f, ok := m.fetchers[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("no fetcher for scheme %q: %w", u.Scheme, domain.ErrInvalidInput)
	}
	return f.Fetch(ctx, uri)
}

func (m *Mux) Schemes() []string {
	schemes := make([]string, 0, len(m.fetchers))
	for s := range m.fetchers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}
