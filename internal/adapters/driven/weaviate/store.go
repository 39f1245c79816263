package weaviate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.VectorStore = (*Store)(nil)

// chunkNamespace derives stable object ids from chunk ids
var chunkNamespace = uuid.MustParse("6f0c7c1e-5d0a-4d59-9a53-3c2f2b7a8e41")

// Config configures the weaviate connection
type Config struct {
	Host   string
	Scheme string
	APIKey string
}

// Store writes chunk vectors to weaviate. Each collection maps to a class
// with vectorizer "none"; objects are keyed by a UUID derived from the chunk id
// so re-writing a chunk replaces its object.
type Store struct {
	client *weaviate.Client

	mu      sync.Mutex
	ensured map[string]bool
}

// New creates a weaviate client and store
func New(cfg Config) (*Store, error) {
	if cfg.Host == "" {
		return nil, errors.New("weaviate host is required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	wc := weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme}
	if cfg.APIKey != "" {
		wc.Headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}
	client, err := weaviate.NewClient(wc)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return NewStore(client), nil
}

// NewStore wraps an existing client
func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client, ensured: make(map[string]bool)}
}

// ClassName converts a collection name into a valid weaviate class name
func ClassName(collection string) string {
	var b strings.Builder
	for i, r := range collection {
		valid := unicode.IsLetter(r) || unicode.IsDigit(r)
		if i == 0 {
			if unicode.IsLetter(r) {
				r = unicode.ToUpper(r)
			} else {
				b.WriteString("C")
			}
		}
		if !valid {
			r = '_'
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "Chunks"
	}
	return b.String()
}

// ObjectID is the weaviate object id of a chunk
func ObjectID(chunkID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String())
}

// EnsureCollection creates the class for a collection when it does not exist
func (s *Store) EnsureCollection(ctx context.Context, collection string) error {
	class := ClassName(collection)

	s.mu.Lock()
	done := s.ensured[class]
	s.mu.Unlock()
	if done {
		return nil
	}

	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(class).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", class, err)
	}
	if !exists {
		err = s.client.Schema().ClassCreator().WithClass(&models.Class{
			Class:       class,
			Description: "Embedded document chunks",
			Vectorizer:  "none",
			Properties: []*models.Property{
				{Name: "chunkId", DataType: []string{"text"}},
				{Name: "documentId", DataType: []string{"text"}},
				{Name: "metadata", DataType: []string{"text"}},
				{Name: "version", DataType: []string{"int"}},
			},
		}).Do(ctx)
		if err != nil {
			return fmt.Errorf("create class %s: %w", class, err)
		}
	}

	s.mu.Lock()
	s.ensured[class] = true
	s.mu.Unlock()
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection string, records []*domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.EnsureCollection(ctx, collection); err != nil {
		return err
	}
	class := ClassName(collection)

	objects := make([]*models.Object, 0, len(records))
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", r.ChunkID, err)
		}
		objects = append(objects, &models.Object{
			Class: class,
			ID:    ObjectID(r.ChunkID),
			Properties: map[string]interface{}{
				"chunkId":    r.ChunkID,
				"documentId": r.DocumentID,
				"metadata":   string(meta),
				"version":    r.Version,
			},
			Vector: models.C11yVector(r.Vector),
		})
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch upsert into %s: %w", class, err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch upsert object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, chunkID string) (*domain.VectorRecord, error) {
	class := ClassName(collection)
	id := ObjectID(chunkID)

	exists, err := s.client.Data().Checker().WithClassName(class).WithID(id.String()).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("check object %s: %w", chunkID, err)
	}
	if !exists {
		return nil, fmt.Errorf("vector %s: %w", chunkID, domain.ErrNotFound)
	}

	objs, err := s.client.Data().ObjectsGetter().WithClassName(class).WithID(id.String()).WithVector().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", chunkID, err)
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("vector %s: %w", chunkID, domain.ErrNotFound)
	}
	return toRecord(chunkID, objs[0])
}

func toRecord(chunkID string, obj *models.Object) (*domain.VectorRecord, error) {
	rec := &domain.VectorRecord{ChunkID: chunkID, Vector: []float32(obj.Vector)}
	props, ok := obj.Properties.(map[string]interface{})
	if !ok {
		return rec, nil
	}
	if v, ok := props["documentId"].(string); ok {
		rec.DocumentID = v
	}
	if v, ok := props["version"].(float64); ok {
		rec.Version = int64(v)
	}
	if v, ok := props["metadata"].(string); ok && v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", chunkID, err)
		}
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	class := ClassName(collection)
	for _, chunkID := range chunkIDs {
		id := ObjectID(chunkID).String()
		exists, err := s.client.Data().Checker().WithClassName(class).WithID(id).Do(ctx)
		if err != nil {
			return fmt.Errorf("check object %s: %w", chunkID, err)
		}
		if !exists {
			continue
		}
		if err := s.client.Data().Deleter().WithClassName(class).WithID(id).Do(ctx); err != nil {
			return fmt.Errorf("delete object %s: %w", chunkID, err)
		}
	}
	return nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	class := ClassName(collection)
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregate %s: %w", class, err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("aggregate %s: %s", class, res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[class].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func (s *Store) Ping(ctx context.Context) error {
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate ready check: %w", err)
	}
	if !ready {
		return fmt.Errorf("weaviate not ready: %w", domain.ErrServiceUnavailable)
	}
	return nil
}
