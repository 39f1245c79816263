package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/engine"
	"github.com/custodia-labs/sercha-ingest/internal/pipeline"
)

type ingestionFixture struct {
	svc     driving.IngestionService
	fetcher *mocks.MockDocumentFetcher
	queue   *memory.TaskQueue
}

func newIngestionFixture(t *testing.T) *ingestionFixture {
	t.Helper()
	queue := memory.NewTaskQueue(time.Minute)
	eng := engine.New(engine.Config{
		Store:       memory.NewEventStore(),
		Queue:       queue,
		Definitions: []engine.Definition{pipeline.New()},
	})
	fetcher := mocks.NewMockDocumentFetcher()
	opts := pipeline.DefaultOptions()
	opts.ExecutionTimeout = 0
	return &ingestionFixture{
		svc:     NewIngestionService(IngestionConfig{Engine: eng, Fetcher: fetcher, Options: opts}),
		fetcher: fetcher,
		queue:   queue,
	}
}

func TestIngestionService_SubmitDerivesIdentity(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()
	f.fetcher.Put("mem://a", []byte("hello world"), "text/plain")

	exec, err := f.svc.Submit(ctx, driving.SubmitRequest{SourceURI: "mem://a"})
	require.NoError(t, err)

	wantID := domain.WorkflowIDFor(domain.DocumentIDFor("mem://a"), domain.ContentHash([]byte("hello world")))
	assert.Equal(t, wantID, exec.WorkflowID)
	assert.NotEmpty(t, exec.RunID)
	assert.Equal(t, pipeline.WorkflowType, exec.WorkflowType)
	assert.Equal(t, 1, f.fetcher.Calls("mem://a"))

	stats, err := f.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingCount)
}

func TestIngestionService_SubmitWithHashSkipsFetch(t *testing.T) {
	f := newIngestionFixture(t)

	exec, err := f.svc.Submit(context.Background(), driving.SubmitRequest{
		SourceURI:   "mem://b",
		DocumentID:  "doc-b",
		ContentHash: domain.ContentHash([]byte("b")),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowIDFor("doc-b", domain.ContentHash([]byte("b"))), exec.WorkflowID)
	assert.Equal(t, 0, f.fetcher.Calls("mem://b"))
}

func TestIngestionService_SubmitDuplicateIsRejected(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()
	req := driving.SubmitRequest{SourceURI: "mem://c", ContentHash: domain.ContentHash([]byte("c"))}

	first, err := f.svc.Submit(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, req)
	require.ErrorIs(t, err, domain.ErrAlreadyRunning)
	var running *domain.AlreadyRunningError
	require.ErrorAs(t, err, &running)
	assert.Equal(t, first.RunID, running.RunID)

	stats, _ := f.queue.Stats(ctx)
	assert.Equal(t, int64(1), stats.PendingCount)
}

func TestIngestionService_SubmitNormalizesContentHash(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()
	hash := domain.ContentHash([]byte("hello"))

	first, err := f.svc.Submit(ctx, driving.SubmitRequest{SourceURI: "mem://a", ContentHash: strings.ToUpper(hash)})
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowIDFor(domain.DocumentIDFor("mem://a"), hash), first.WorkflowID)

	_, err = f.svc.Submit(ctx, driving.SubmitRequest{SourceURI: "mem://a", ContentHash: hash})
	require.ErrorIs(t, err, domain.ErrAlreadyRunning)

	for _, bad := range []string{"abc123", strings.Repeat("z", 64), hash + "00"} {
		_, err := f.svc.Submit(ctx, driving.SubmitRequest{SourceURI: "mem://b", ContentHash: bad})
		assert.ErrorIs(t, err, domain.ErrInvalidInput, bad)
	}
	assert.Equal(t, 0, f.fetcher.Calls("mem://a"))
}

func TestIngestionService_SubmitErrors(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, driving.SubmitRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Submit(ctx, driving.SubmitRequest{SourceURI: "mem://missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	noFetcher := NewIngestionService(IngestionConfig{Engine: engine.New(engine.Config{
		Store: memory.NewEventStore(), Queue: memory.NewTaskQueue(time.Minute), Definitions: []engine.Definition{pipeline.New()},
	})})
	_, err = noFetcher.Submit(ctx, driving.SubmitRequest{SourceURI: "mem://x"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIngestionService_StatusCancelHistory(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	exec, err := f.svc.Submit(ctx, driving.SubmitRequest{SourceURI: "mem://d", ContentHash: domain.ContentHash([]byte("d"))})
	require.NoError(t, err)

	st, err := f.svc.Status(ctx, exec.WorkflowID)
	require.NoError(t, err)
	assert.False(t, st.State.IsTerminal())
	assert.False(t, st.CancelRequested)

	active, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, exec.WorkflowID, active[0].WorkflowID)

	require.NoError(t, f.svc.Cancel(ctx, exec.WorkflowID, ""))
	st, err = f.svc.Status(ctx, exec.WorkflowID)
	require.NoError(t, err)
	assert.True(t, st.CancelRequested)

	events, err := f.svc.History(ctx, exec.WorkflowID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventWorkflowStarted, events[0].Type)

	var sawCancel bool
	for _, ev := range events {
		if ev.Type == domain.EventCancelRequested {
			sawCancel = true
			assert.Equal(t, "cancelled by request", ev.CancelRequested.Reason)
		}
	}
	assert.True(t, sawCancel)
}

func TestIngestionService_UnknownWorkflow(t *testing.T) {
	f := newIngestionFixture(t)
	ctx := context.Background()

	_, err := f.svc.Status(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.History(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, f.svc.Cancel(ctx, "nope", "x"), domain.ErrNotFound)
}
