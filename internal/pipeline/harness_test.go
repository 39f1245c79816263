package pipeline_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/activities"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-ingest/internal/dedup"
	"github.com/custodia-labs/sercha-ingest/internal/engine"
	"github.com/custodia-labs/sercha-ingest/internal/pipeline"
	"github.com/custodia-labs/sercha-ingest/internal/postprocessors"
	"github.com/custodia-labs/sercha-ingest/internal/runtime"
	"github.com/custodia-labs/sercha-ingest/internal/worker"
)

const collection = "documents"

// harness wires the ingestion workflow onto in-memory adapters. Durable state
// (history, chunks, vectors, cache) survives restart(); queue and engine do not.
type harness struct {
	store    *memory.EventStore
	chunks   *memory.ChunkStore
	vectors  *memory.VectorStore
	cache    *memory.EmbeddingCache
	lock     *memory.Lock
	fetcher  *mocks.MockDocumentFetcher
	embedder *mocks.MockEmbeddingService
	dedup    *dedup.Layer
	services *runtime.Services
	acts     *activities.Activities

	queue  *memory.TaskQueue
	engine *engine.Engine
	worker *worker.Worker

	options domain.WorkflowOptions
	policy  postprocessors.ChunkPolicy
}

func newHarness() *harness {
	h := &harness{
		store:    memory.NewEventStore(),
		chunks:   memory.NewChunkStore(),
		vectors:  memory.NewVectorStore(),
		cache:    memory.NewEmbeddingCache(),
		lock:     memory.NewLock(),
		fetcher:  mocks.NewMockDocumentFetcher(),
		embedder: mocks.NewMockEmbeddingService(),
		options:  pipeline.DefaultOptions(),
		policy:   postprocessors.ChunkPolicy{MaxTokens: 2},
	}
	for typ, p := range h.options.RetryPolicies {
		if p.InitialInterval > 0 {
			p.InitialInterval = time.Millisecond
			p.MaxInterval = 4 * time.Millisecond
		}
		h.options.RetryPolicies[typ] = p
	}
	h.options.ExecutionTimeout = 0

	h.services = runtime.NewServices(domain.NewRuntimeConfig("memory", "memory", "memory"))
	h.services.SetEmbeddingService(h.embedder)
	h.dedup = dedup.New(dedup.Config{Cache: h.cache, Lock: h.lock})
	h.acts = activities.New(activities.Config{
		Fetcher:  h.fetcher,
		Chunks:   h.chunks,
		Vectors:  h.vectors,
		Dedup:    h.dedup,
		Services: h.services,
	})
	h.restart()
	return h
}

// restart simulates a process crash: pending tasks are lost and a fresh
// engine and worker take over the durable stores.
func (h *harness) restart() {
	h.queue = memory.NewTaskQueue(time.Minute)
	h.engine = engine.New(engine.Config{
		Store:       h.store,
		Queue:       h.queue,
		Definitions: []engine.Definition{pipeline.New()},
	})
	registry := worker.NewRegistry()
	if err := registry.Register(h.options.Queue, []string{pipeline.WorkflowType}, h.acts.Handlers()); err != nil {
		panic(err)
	}
	h.worker = worker.NewWorker(worker.WorkerConfig{
		Queue:          h.options.Queue,
		TaskQueue:      h.queue,
		Engine:         h.engine,
		Registry:       registry,
		DequeueTimeout: 30 * time.Millisecond,
		Identity:       "harness",
	})
}

func (h *harness) putDocument(uri, text, mimeType string) {
	h.fetcher.Put(uri, []byte(text), mimeType)
}

func (h *harness) submit(uri, text string) (*domain.WorkflowExecution, error) {
	docID := domain.DocumentIDFor(uri)
	hash := domain.ContentHash([]byte(text))
	req := domain.IngestionRequest{
		DocumentID:  docID,
		SourceURI:   uri,
		ContentHash: hash,
		Collection:  collection,
		Metadata:    map[string]string{"source": "test"},
		SubmittedAt: time.Now().UTC(),
	}
	input, err := pipeline.NewInput(req, h.policy)
	if err != nil {
		return nil, err
	}
	return h.engine.Start(context.Background(), engine.StartRequest{
		WorkflowType: pipeline.WorkflowType,
		WorkflowID:   domain.WorkflowIDFor(docID, hash),
		Input:        input,
		Options:      h.options,
	})
}

// step processes one task; false when the queue stayed empty
func (h *harness) step() (bool, error) {
	return h.worker.ProcessNext(context.Background())
}

func (h *harness) drain() error {
	for i := 0; i < 1000; i++ {
		ok, err := h.step()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return fmt.Errorf("queue did not drain")
}

func (h *harness) status(workflowID string) (*domain.WorkflowStatus, error) {
	return h.engine.Status(context.Background(), workflowID)
}

// starts counts ActivityStarted events of an activity in the latest run
func (h *harness) starts(workflowID, activityID string) (int, error) {
	events, err := h.engine.History(context.Background(), workflowID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range events {
		if ev.Type == domain.EventActivityStarted && ev.ActivityStarted.ActivityID == activityID {
			n++
		}
	}
	return n, nil
}

func (h *harness) vectorCount() int {
	n, _ := h.vectors.Count(context.Background(), collection)
	return n
}

func (h *harness) summary(t *testing.T, st *domain.WorkflowStatus) pipeline.Summary {
	t.Helper()
	var s pipeline.Summary
	if err := json.Unmarshal(st.Result, &s); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	return s
}
