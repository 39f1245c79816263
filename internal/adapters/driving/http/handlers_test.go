package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/adapters/driven/memory"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

// Mock services for testing

type mockIngestionService struct {
	submitFn     func(ctx context.Context, req driving.SubmitRequest) (*domain.WorkflowExecution, error)
	statusFn     func(ctx context.Context, id string) (*domain.WorkflowStatus, error)
	cancelFn     func(ctx context.Context, id, reason string) error
	historyFn    func(ctx context.Context, id string) ([]*domain.Event, error)
	listActiveFn func(ctx context.Context) ([]*domain.WorkflowStatus, error)
}

func (m *mockIngestionService) Submit(ctx context.Context, req driving.SubmitRequest) (*domain.WorkflowExecution, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIngestionService) Status(ctx context.Context, id string) (*domain.WorkflowStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIngestionService) Cancel(ctx context.Context, id, reason string) error {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, id, reason)
	}
	return errors.New("not implemented")
}

func (m *mockIngestionService) History(ctx context.Context, id string) ([]*domain.Event, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockIngestionService) ListActive(ctx context.Context) ([]*domain.WorkflowStatus, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return nil, errors.New("not implemented")
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(svc *mockIngestionService, checks map[string]Pinger) *Server {
	cfg := DefaultConfig()
	cfg.Version = "1.2.3"
	cfg.Logger = discardLogger()
	cfg.Checks = checks
	return NewServer(cfg, svc, memory.NewTaskQueue(time.Minute))
}

func serve(s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&mockIngestionService{}, nil)
	rec := serve(s, http.MethodGet, "/health", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp StatusResponse
	decode(t, rec, &resp)
	if resp.Status != "ok" {
		t.Errorf("expected ok, got %s", resp.Status)
	}
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(&mockIngestionService{}, nil)
	rec := serve(s, http.MethodGet, "/version", nil)

	var resp VersionResponse
	decode(t, rec, &resp)
	if resp.Version != "1.2.3" {
		t.Errorf("expected 1.2.3, got %s", resp.Version)
	}
}

func TestHandleReady(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		s := newTestServer(&mockIngestionService{}, map[string]Pinger{
			"event_store": pingFunc(func(context.Context) error { return nil }),
		})
		rec := serve(s, http.MethodGet, "/ready", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp ReadyResponse
		decode(t, rec, &resp)
		if resp.Checks["event_store"] != "ok" {
			t.Errorf("expected event_store ok, got %q", resp.Checks["event_store"])
		}
	})

	t.Run("dependency down", func(t *testing.T) {
		s := newTestServer(&mockIngestionService{}, map[string]Pinger{
			"event_store": pingFunc(func(context.Context) error { return nil }),
			"queue":       pingFunc(func(context.Context) error { return errors.New("connection refused") }),
		})
		rec := serve(s, http.MethodGet, "/ready", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}
		var resp ReadyResponse
		decode(t, rec, &resp)
		if resp.Status != "unavailable" {
			t.Errorf("expected unavailable, got %s", resp.Status)
		}
		if resp.Checks["queue"] != "connection refused" {
			t.Errorf("unexpected queue check %q", resp.Checks["queue"])
		}
	})
}

func TestHandleSwaggerDoc(t *testing.T) {
	s := newTestServer(&mockIngestionService{}, nil)
	rec := serve(s, http.MethodGet, "/swagger/doc.json", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var doc map[string]any
	decode(t, rec, &doc)
	paths, ok := doc["paths"].(map[string]any)
	if !ok {
		t.Fatal("expected paths object")
	}
	if _, ok := paths["/ingestions"]; !ok {
		t.Error("expected /ingestions path")
	}
}

func TestHandleSubmit(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name       string
		body       string
		submitFn   func(ctx context.Context, req driving.SubmitRequest) (*domain.WorkflowExecution, error)
		wantStatus int
	}{
		{
			name: "accepted",
			body: `{"source_uri":"file:///docs/a.md","metadata":{"team":"core"}}`,
			submitFn: func(ctx context.Context, req driving.SubmitRequest) (*domain.WorkflowExecution, error) {
				if req.SourceURI != "file:///docs/a.md" || req.Metadata["team"] != "core" {
					return nil, fmt.Errorf("unexpected request %+v", req)
				}
				return &domain.WorkflowExecution{
					WorkflowID: "ingest-1",
					RunID:      "run-1",
					State:      domain.WorkflowStateRunning,
					StartedAt:  started,
				}, nil
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "malformed body",
			body:       `{"source_uri":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid input",
			body: `{}`,
			submitFn: func(ctx context.Context, req driving.SubmitRequest) (*domain.WorkflowExecution, error) {
				return nil, fmt.Errorf("source uri is required: %w", domain.ErrInvalidInput)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "source missing",
			body: `{"source_uri":"file:///missing"}`,
			submitFn: func(ctx context.Context, req driving.SubmitRequest) (*domain.WorkflowExecution, error) {
				return nil, fmt.Errorf("fetch source: %w", domain.ErrNotFound)
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "internal failure",
			body: `{"source_uri":"file:///docs/a.md"}`,
			submitFn: func(ctx context.Context, req driving.SubmitRequest) (*domain.WorkflowExecution, error) {
				return nil, errors.New("disk on fire")
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&mockIngestionService{submitFn: tt.submitFn}, nil)
			rec := serve(s, http.MethodPost, "/api/v1/ingestions", []byte(tt.body))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleSubmit_Response(t *testing.T) {
	svc := &mockIngestionService{
		submitFn: func(ctx context.Context, req driving.SubmitRequest) (*domain.WorkflowExecution, error) {
			return &domain.WorkflowExecution{WorkflowID: "ingest-1", RunID: "run-1", State: domain.WorkflowStateRunning}, nil
		},
	}
	s := newTestServer(svc, nil)
	rec := serve(s, http.MethodPost, "/api/v1/ingestions", []byte(`{"source_uri":"file:///a"}`))

	var resp SubmitResponse
	decode(t, rec, &resp)
	if resp.WorkflowID != "ingest-1" || resp.RunID != "run-1" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.State != domain.WorkflowStateRunning {
		t.Errorf("expected running, got %s", resp.State)
	}
}

func TestHandleSubmit_AlreadyRunning(t *testing.T) {
	svc := &mockIngestionService{
		submitFn: func(ctx context.Context, req driving.SubmitRequest) (*domain.WorkflowExecution, error) {
			return nil, &domain.AlreadyRunningError{WorkflowID: "ingest-1", RunID: "run-1"}
		},
	}
	s := newTestServer(svc, nil)
	rec := serve(s, http.MethodPost, "/api/v1/ingestions", []byte(`{"source_uri":"file:///a"}`))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp ConflictResponse
	decode(t, rec, &resp)
	if resp.WorkflowID != "ingest-1" || resp.RunID != "run-1" {
		t.Errorf("unexpected conflict body %+v", resp)
	}
}

func TestHandleStatus(t *testing.T) {
	status := &domain.WorkflowStatus{
		WorkflowExecution: domain.WorkflowExecution{
			WorkflowID: "ingest-1",
			RunID:      "run-1",
			State:      domain.WorkflowStatePartiallyCompleted,
		},
		ChunksTotal:     3,
		ChunksCompleted: 2,
		Activities:      []domain.ActivityAttempt{{ActivityID: "fetch"}},
	}
	svc := &mockIngestionService{
		statusFn: func(ctx context.Context, id string) (*domain.WorkflowStatus, error) {
			if id != "ingest-1" {
				return nil, domain.ErrNotFound
			}
			copied := *status
			return &copied, nil
		},
	}
	s := newTestServer(svc, nil)

	t.Run("found", func(t *testing.T) {
		rec := serve(s, http.MethodGet, "/api/v1/ingestions/ingest-1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp domain.WorkflowStatus
		decode(t, rec, &resp)
		if resp.State != domain.WorkflowStatePartiallyCompleted {
			t.Errorf("unexpected state %s", resp.State)
		}
		if resp.ChunksTotal != 3 || resp.ChunksCompleted != 2 {
			t.Errorf("unexpected progress %d/%d", resp.ChunksCompleted, resp.ChunksTotal)
		}
		if len(resp.Activities) != 0 {
			t.Error("activities should be omitted by default")
		}
	})

	t.Run("with activities", func(t *testing.T) {
		rec := serve(s, http.MethodGet, "/api/v1/ingestions/ingest-1?activities=true", nil)
		var resp domain.WorkflowStatus
		decode(t, rec, &resp)
		if len(resp.Activities) != 1 {
			t.Errorf("expected 1 activity, got %d", len(resp.Activities))
		}
	})

	t.Run("unknown", func(t *testing.T) {
		rec := serve(s, http.MethodGet, "/api/v1/ingestions/nope", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		var resp ErrorResponse
		decode(t, rec, &resp)
		if resp.Error == "" {
			t.Error("expected error message")
		}
	})
}

func TestHandleCancel(t *testing.T) {
	var gotID, gotReason string
	svc := &mockIngestionService{
		cancelFn: func(ctx context.Context, id, reason string) error {
			switch id {
			case "closed":
				return domain.ErrWorkflowClosed
			case "missing":
				return domain.ErrNotFound
			}
			gotID, gotReason = id, reason
			return nil
		},
	}
	s := newTestServer(svc, nil)

	rec := serve(s, http.MethodDelete, "/api/v1/ingestions/ingest-1?reason=superseded", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if gotID != "ingest-1" || gotReason != "superseded" {
		t.Errorf("unexpected cancel call id=%q reason=%q", gotID, gotReason)
	}

	if rec := serve(s, http.MethodDelete, "/api/v1/ingestions/closed", nil); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for closed workflow, got %d", rec.Code)
	}
	if rec := serve(s, http.MethodDelete, "/api/v1/ingestions/missing", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing workflow, got %d", rec.Code)
	}
}

func TestHandleHistory(t *testing.T) {
	svc := &mockIngestionService{
		historyFn: func(ctx context.Context, id string) ([]*domain.Event, error) {
			return []*domain.Event{
				{WorkflowID: id, RunID: "run-1", Seq: 1, Type: domain.EventWorkflowStarted},
				{WorkflowID: id, RunID: "run-1", Seq: 2, Type: domain.EventActivityScheduled},
			}, nil
		},
	}
	s := newTestServer(svc, nil)
	rec := serve(s, http.MethodGet, "/api/v1/ingestions/ingest-1/history", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var events []domain.Event
	decode(t, rec, &events)
	if len(events) != 2 || events[0].Seq != 1 || events[1].Seq != 2 {
		t.Errorf("unexpected history %+v", events)
	}
}

func TestHandleListActive(t *testing.T) {
	svc := &mockIngestionService{
		listActiveFn: func(ctx context.Context) ([]*domain.WorkflowStatus, error) {
			return []*domain.WorkflowStatus{
				{WorkflowExecution: domain.WorkflowExecution{WorkflowID: "a", State: domain.WorkflowStateRunning}},
			}, nil
		},
	}
	s := newTestServer(svc, nil)
	rec := serve(s, http.MethodGet, "/api/v1/ingestions", nil)

	var resp []domain.WorkflowStatus
	decode(t, rec, &resp)
	if len(resp) != 1 || resp[0].WorkflowID != "a" {
		t.Errorf("unexpected list %+v", resp)
	}
}

func TestHandleQueueStats(t *testing.T) {
	s := newTestServer(&mockIngestionService{}, nil)
	if err := s.taskQueue.Enqueue(context.Background(), domain.NewTask("", domain.TaskTypeWorkflow, "ingestion", nil)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec := serve(s, http.MethodGet, "/api/v1/queue/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"pending_count":1`) {
		t.Errorf("unexpected stats %s", rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(&mockIngestionService{}, nil)
	rec := serve(s, http.MethodPut, "/api/v1/ingestions/ingest-1", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
