package normalisers

import (
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

var _ driven.NormaliserRegistry = (*Registry)(nil)

// Registry selects normalisers by MIME type. Entries are kept ordered by
// descending priority so Get returns the first match.
type Registry struct {
	mu      sync.RWMutex
	entries []driven.Normaliser
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register inserts n after every entry of equal or higher priority.
func (r *Registry) Register(n driven.Normaliser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].Priority() < n.Priority()
	})
	r.entries = append(r.entries, nil)
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = n
}

func (r *Registry) Get(mimeType string) driven.Normaliser {
	base := BaseMIMEType(mimeType)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.entries {
		if accepts(n.SupportedTypes(), base) {
			return n
		}
	}
	return nil
}

func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var types []string
	for _, n := range r.entries {
		for _, t := range n.SupportedTypes() {
			t = strings.ToLower(strings.TrimSpace(t))
			if !seen[t] {
				seen[t] = true
				types = append(types, t)
			}
		}
	}
	sort.Strings(types)
	return types
}

// BaseMIMEType lowercases a MIME type and strips parameters such as charset.
func BaseMIMEType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i != -1 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// accepts matches a base type against exact types and "type/*" patterns.
// There is no catch-all: unknown formats are rejected, not guessed at.
func accepts(patterns []string, base string) bool {
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == base {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, "*"); ok && strings.HasSuffix(prefix, "/") && strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}
