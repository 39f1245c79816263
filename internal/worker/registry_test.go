package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

func noop(ctx context.Context, input json.RawMessage) (any, error) { return nil, nil }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	err := r.Register("ingestion", []string{"document_ingestion"}, map[domain.ActivityType]domain.ActivityFunc{
		"fetch": noop,
		"parse": noop,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := r.Activity("ingestion", "fetch"); !ok {
		t.Error("expected fetch handler")
	}
	if _, ok := r.Activity("ingestion", "embed"); ok {
		t.Error("expected no embed handler")
	}
	if _, ok := r.Activity("other", "fetch"); ok {
		t.Error("expected handlers to be scoped to their queue")
	}
	if !r.ServesWorkflow("ingestion", "document_ingestion") {
		t.Error("expected workflow type to be served")
	}
	if r.ServesWorkflow("other", "document_ingestion") {
		t.Error("expected unregistered queue not to serve workflows")
	}
}

func TestRegistry_AddsToExistingQueue(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("q", []string{"a"}, map[domain.ActivityType]domain.ActivityFunc{"x": noop}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("q", []string{"b"}, map[domain.ActivityType]domain.ActivityFunc{"y": noop}); err != nil {
		t.Fatal(err)
	}
	if !r.ServesWorkflow("q", "a") || !r.ServesWorkflow("q", "b") {
		t.Error("expected both workflow types")
	}
	if names := r.Queues(); len(names) != 1 || names[0] != "q" {
		t.Errorf("unexpected queues %v", names)
	}
}

func TestRegistry_Validation(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", nil, nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty queue, got %v", err)
	}
	if err := r.Register("q", nil, map[domain.ActivityType]domain.ActivityFunc{"x": nil}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil handler, got %v", err)
	}
	if err := r.Register("q", nil, map[domain.ActivityType]domain.ActivityFunc{"x": noop}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("q", nil, map[domain.ActivityType]domain.ActivityFunc{"x": noop}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected duplicate activity to be rejected, got %v", err)
	}
}
