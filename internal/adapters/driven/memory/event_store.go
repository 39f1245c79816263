package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EventStore = (*EventStore)(nil)

// EventStore keeps workflow histories in process memory.
// Used for tests and single-process development runs.
type EventStore struct {
	mu      sync.RWMutex
	streams map[string][]*domain.Event
}

// NewEventStore creates an empty in-memory event store
func NewEventStore() *EventStore {
	return &EventStore{streams: make(map[string][]*domain.Event)}
}

// Append adds events if expectedVersion matches the last stored Seq
func (s *EventStore) Append(ctx context.Context, workflowID string, expectedVersion int64, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[workflowID]
	if int64(len(stream)) != expectedVersion {
		return fmt.Errorf("workflow %s at version %d, expected %d: %w",
			workflowID, len(stream), expectedVersion, domain.ErrVersionConflict)
	}
	for i, ev := range events {
		if ev.Seq != expectedVersion+int64(i)+1 {
			return fmt.Errorf("%w: event seq %d out of order", domain.ErrInvalidInput, ev.Seq)
		}
	}
	for _, ev := range events {
		cp := *ev
		stream = append(stream, &cp)
	}
	s.streams[workflowID] = stream
	return nil
}

// Load returns a copy of a workflow's history
func (s *EventStore) Load(ctx context.Context, workflowID string) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[workflowID]
	out := make([]*domain.Event, len(stream))
	for i, ev := range stream {
		cp := *ev
		out[i] = &cp
	}
	return out, nil
}

// ListActive returns workflows whose latest run has no terminal event
func (s *EventStore) ListActive(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, stream := range s.streams {
		if isActive(stream) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping always succeeds
func (s *EventStore) Ping(ctx context.Context) error {
	return nil
}

func isActive(stream []*domain.Event) bool {
	active := false
	for _, ev := range stream {
		switch ev.Type {
		case domain.EventWorkflowStarted:
			active = true
		case domain.EventWorkflowTerminal:
			active = false
		}
	}
	return active
}
