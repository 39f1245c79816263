package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/dedup"
	"github.com/custodia-labs/sercha-ingest/internal/normalisers"
	"github.com/custodia-labs/sercha-ingest/internal/postprocessors"
	"github.com/custodia-labs/sercha-ingest/internal/runtime"
)

// DefaultMaxDocumentBytes caps the size of a fetched document
const DefaultMaxDocumentBytes = 32 << 20

// Config holds activity dependencies
type Config struct {
	Fetcher     driven.DocumentFetcher
	Normalisers driven.NormaliserRegistry
	Chunks      driven.ChunkStore
	Vectors     driven.VectorStore
	Dedup       *dedup.Layer
	Services    *runtime.Services
	Logger      *slog.Logger

	// MaxDocumentBytes rejects larger documents with InvalidInputError
	MaxDocumentBytes int64
}

// Activities implements the handlers of the document ingestion workflow.
// Every handler is safe to run more than once for the same input.
type Activities struct {
	fetcher          driven.DocumentFetcher
	normalisers      driven.NormaliserRegistry
	chunks           driven.ChunkStore
	vectors          driven.VectorStore
	dedup            *dedup.Layer
	services         *runtime.Services
	logger           *slog.Logger
	maxDocumentBytes int64
}

// New creates the ingestion activities
func New(cfg Config) *Activities {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Normalisers == nil {
		cfg.Normalisers = normalisers.DefaultRegistry()
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	return &Activities{
		fetcher:          cfg.Fetcher,
		normalisers:      cfg.Normalisers,
		chunks:           cfg.Chunks,
		vectors:          cfg.Vectors,
		dedup:            cfg.Dedup,
		services:         cfg.Services,
		logger:           cfg.Logger.With("component", "activities"),
		maxDocumentBytes: cfg.MaxDocumentBytes,
	}
}

// Handlers returns the activity handlers keyed by activity type
func (a *Activities) Handlers() map[domain.ActivityType]domain.ActivityFunc {
	return map[domain.ActivityType]domain.ActivityFunc{
		TypeFetch:  handler(a.Fetch),
		TypeParse:  handler(a.Parse),
		TypeChunk:  handler(a.Chunk),
		TypeEmbed:  handler(a.Embed),
		TypeUpsert: handler(a.Upsert),
	}
}

// handler adapts a typed activity to the JSON boundary of the engine
func handler[I, O any](fn func(ctx context.Context, in I) (O, error)) domain.ActivityFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var in I
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, domain.Errorf(domain.ErrorKindInvalidInput, "decode activity input: %v", err)
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Fetch reads the source document, verifies its content hash and detects its MIME type
func (a *Activities) Fetch(ctx context.Context, in FetchInput) (*FetchOutput, error) {
	if in.SourceURI == "" {
		return nil, domain.Errorf(domain.ErrorKindInvalidInput, "source uri is required")
	}

	res, err := a.fetcher.Fetch(ctx, in.SourceURI)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return nil, domain.NewActivityError(domain.ErrorKindNotFound, err)
		case errors.Is(err, domain.ErrInvalidInput):
			return nil, domain.NewActivityError(domain.ErrorKindInvalidInput, err)
		default:
			return nil, classify(domain.ErrorKindFetch, err)
		}
	}

	if int64(len(res.Data)) > a.maxDocumentBytes {
		return nil, domain.Errorf(domain.ErrorKindInvalidInput,
			"document is %d bytes, limit is %d", len(res.Data), a.maxDocumentBytes)
	}

	hash := domain.ContentHash(res.Data)
	if in.ContentHash != "" && !strings.EqualFold(in.ContentHash, hash) {
		return nil, domain.Errorf(domain.ErrorKindContentMismatch,
			"content hash %s does not match submitted %s", hash, in.ContentHash)
	}

	mime := in.MimeType
	if mime == "" {
		mime = res.MimeType
	}
	if base := normalisers.BaseMIMEType(mime); base == "" || base == "application/octet-stream" {
		mime = mimetype.Detect(res.Data).String()
	}

	return &FetchOutput{
		Data:        res.Data,
		ContentHash: hash,
		MimeType:    normalisers.BaseMIMEType(mime),
		Size:        len(res.Data),
	}, nil
}

// Parse turns the fetched bytes into plain text with the normaliser for its MIME type
func (a *Activities) Parse(ctx context.Context, in ParseInput) (*ParseOutput, error) {
	mime := normalisers.BaseMIMEType(in.MimeType)
	n := a.normalisers.Get(mime)
	if n == nil {
		return nil, domain.Errorf(domain.ErrorKindUnsupportedFormat, "no normaliser for %q (supported: %s)",
			mime, strings.Join(a.normalisers.Supported(), ", "))
	}
	if !utf8.Valid(in.Data) {
		return nil, domain.Errorf(domain.ErrorKindUnsupportedFormat, "%s content is not valid UTF-8 text", mime)
	}
	return &ParseOutput{
		Text:     n.Normalise(string(in.Data), mime),
		MimeType: mime,
	}, nil
}

// Chunk splits text into deterministic chunks, persists them and removes
// chunks left over from an earlier version of the document.
func (a *Activities) Chunk(ctx context.Context, in ChunkInput) (*ChunkOutput, error) {
	if in.DocumentID == "" {
		return nil, domain.Errorf(domain.ErrorKindInvalidInput, "document id is required")
	}
	if err := in.Policy.Validate(); err != nil {
		return nil, domain.Errorf(domain.ErrorKindInvalidInput, "chunk policy: %v", err)
	}

	pieces := postprocessors.NewPipelineFor(in.Policy).Process(in.Text)
	now := time.Now()
	out := &ChunkOutput{Chunks: make([]ChunkRef, 0, len(pieces))}
	chunks := make([]*domain.DocumentChunk, 0, len(pieces))
	current := make(map[string]struct{}, len(pieces))

	for _, p := range pieces {
		ref := ChunkRef{
			ID:          domain.ChunkID(in.DocumentID, p.StartOffset),
			Ordinal:     p.Position,
			ContentHash: domain.ContentHash([]byte(p.Content)),
			Text:        p.Content,
			StartOffset: p.StartOffset,
			EndOffset:   p.EndOffset,
		}
		out.Chunks = append(out.Chunks, ref)
		current[ref.ID] = struct{}{}
		chunks = append(chunks, &domain.DocumentChunk{
			ID:          ref.ID,
			DocumentID:  in.DocumentID,
			Ordinal:     ref.Ordinal,
			Text:        ref.Text,
			ContentHash: ref.ContentHash,
			StartOffset: ref.StartOffset,
			EndOffset:   ref.EndOffset,
			Status:      domain.ChunkStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	existing, err := a.chunks.GetByDocument(ctx, in.DocumentID)
	if err != nil {
		return nil, classify(domain.ErrorKindStoreUnavailable, fmt.Errorf("load chunks: %w", err))
	}
	if len(chunks) > 0 {
		if err := a.chunks.SaveBatch(ctx, chunks); err != nil {
			return nil, classify(domain.ErrorKindStoreUnavailable, fmt.Errorf("save chunks: %w", err))
		}
	}

	for _, c := range existing {
		if _, ok := current[c.ID]; !ok {
			out.Superseded = append(out.Superseded, c.ID)
		}
	}
	if len(out.Superseded) > 0 {
		if err := a.vectors.Delete(ctx, in.Collection, out.Superseded); err != nil {
			return nil, classify(domain.ErrorKindStoreUnavailable, fmt.Errorf("delete superseded vectors: %w", err))
		}
		if err := a.chunks.Delete(ctx, out.Superseded); err != nil {
			return nil, classify(domain.ErrorKindStoreUnavailable, fmt.Errorf("delete superseded chunks: %w", err))
		}
		a.logger.Info("removed superseded chunks", "document_id", in.DocumentID, "count", len(out.Superseded))
	}

	return out, nil
}

// Embed returns the embedding of a chunk, computing it at most once per content hash
func (a *Activities) Embed(ctx context.Context, in EmbedInput) (*EmbedOutput, error) {
	svc, err := a.services.RequireEmbedding()
	if err != nil {
		return nil, domain.NewActivityError(domain.ErrorKindEmbeddingService, err)
	}
	hash := in.ContentHash
	if hash == "" {
		hash = domain.ContentHash([]byte(in.Text))
	}

	vec, cached, err := a.dedup.GetOrCompute(ctx, hash, func(ctx context.Context) ([]float32, error) {
		vectors, err := svc.Embed(ctx, []string{in.Text})
		if err != nil {
			return nil, err
		}
		if len(vectors) != 1 || len(vectors[0]) == 0 {
			return nil, fmt.Errorf("embedding service returned %d vectors for 1 text", len(vectors))
		}
		return vectors[0], nil
	})
	if err != nil {
		return nil, classify(domain.ErrorKindEmbeddingService, err)
	}

	if in.ChunkID != "" {
		if err := a.chunks.SetEmbedding(ctx, in.ChunkID, vec); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, classify(domain.ErrorKindStoreUnavailable, fmt.Errorf("record chunk embedding: %w", err))
		}
	}

	return &EmbedOutput{Vector: vec, Cached: cached, Model: svc.Model()}, nil
}

// Upsert writes a vector record. Writing the same chunk id again replaces it.
func (a *Activities) Upsert(ctx context.Context, in UpsertInput) (*UpsertOutput, error) {
	if in.Record.ChunkID == "" || len(in.Record.Vector) == 0 {
		return nil, domain.Errorf(domain.ErrorKindInvalidInput, "vector record needs a chunk id and a vector")
	}
	record := in.Record
	if err := a.vectors.Upsert(ctx, in.Collection, []*domain.VectorRecord{&record}); err != nil {
		return nil, classify(domain.ErrorKindStoreUnavailable, err)
	}
	return &UpsertOutput{ChunkID: record.ChunkID, Version: record.Version}, nil
}

// classify keeps context expiry distinct from the failure kind of the call
func classify(kind domain.ErrorKind, err error) *domain.ActivityError {
	var ae *domain.ActivityError
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewActivityError(domain.ErrorKindTimeout, err)
	case errors.Is(err, context.Canceled):
		return domain.NewActivityError(domain.ErrorKindCancelled, err)
	default:
		return domain.NewActivityError(kind, err)
	}
}
