package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentFetcher = (*FileFetcher)(nil)

// FileFetcher reads file:// URIs from the local filesystem
type FileFetcher struct {
	// root confines reads below a directory when set
	root string
}

// NewFileFetcher creates a file fetcher. An empty root allows any path.
func NewFileFetcher(root string) *FileFetcher {
	return &FileFetcher{root: root}
}

func (f *FileFetcher) Schemes() []string { return []string{"file"} }

func (f *FileFetcher) Fetch(ctx context.Context, uri string) (*driven.FetchResult, error) {
	path, err := f.resolve(uri)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	return &driven.FetchResult{
		Data:     data,
		MimeType: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}

func (f *FileFetcher) resolve(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return "", fmt.Errorf("not a file uri %q: %w", uri, domain.ErrInvalidInput)
	}
	path := u.Path
	if u.Opaque != "" {
		path = u.Opaque
	}
	if u.Host != "" && u.Host != "localhost" {
		path = u.Host + path
	}
	path = filepath.Clean(filepath.FromSlash(path))

	if f.root == "" {
		return path, nil
	}
	root, err := filepath.Abs(f.root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside %s: %w", path, root, domain.ErrInvalidInput)
	}
	return path, nil
}
