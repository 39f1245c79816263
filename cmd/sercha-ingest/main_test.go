package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-ingest/internal/config"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, "json", "debug")
	require.NoError(t, err)
	logger.Debug("hello", "workflow_id", "wf-1")
	assert.Contains(t, buf.String(), `"workflow_id":"wf-1"`)

	buf.Reset()
	logger, err = newLogger(&buf, "text", "warn")
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept")

	_, err = newLogger(&buf, "xml", "info")
	assert.Error(t, err)
	_, err = newLogger(&buf, "json", "loud")
	assert.Error(t, err)
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"api", "worker", "all", "migrate", "version"}, names)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func memoryConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.StoreBackend = config.BackendMemory
	cfg.QueueBackend = config.BackendMemory
	cfg.CacheBackend = config.BackendMemory
	cfg.VectorBackend = config.BackendMemory
	cfg.EmbeddingProvider = "hash"
	cfg.EmbeddingDimensions = 32
	cfg.VectorCollection = "documents"
	cfg.QueueName = "ingestion"
	cfg.LeaseTimeout = time.Minute
	cfg.StartToCloseTimeout = 10 * time.Second
	cfg.ExecutionTimeout = time.Hour
	cfg.ChunkMaxTokens = 4
	cfg.ChunkOverlap = 1
	cfg.MaxConcurrency = 4
	cfg.MaxDocumentBytes = 1 << 20
	cfg.FileRoot = root
	cfg.WorkerConcurrency = 1
	cfg.WorkerPollers = 1
	cfg.WorkerDequeueTimeout = 20 * time.Millisecond
	cfg.LockTTL = time.Minute
	cfg.EngineConflictRetries = 10
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestApp_IngestsFileEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	text := "the quick brown fox jumps over the lazy dog and keeps running through the field"
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	ctx := context.Background()
	a, err := newApp(ctx, memoryConfig(t, dir), discardLogger())
	require.NoError(t, err)
	defer a.close()

	handler := a.newServer("test").Handler()

	body := fmt.Sprintf(`{"source_uri":"file://%s"}`, filepath.ToSlash(path))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ingestions", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var submitted struct {
		WorkflowID string `json:"workflow_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.WorkflowID)

	// same content again while running is rejected
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ingestions", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	w := a.newWorker()
	var status *domain.WorkflowStatus
	for i := 0; i < 500; i++ {
		if _, err := w.ProcessNext(ctx); err != nil {
			t.Fatalf("process task: %v", err)
		}
		status, err = a.ingestion.Status(ctx, submitted.WorkflowID)
		require.NoError(t, err)
		if status.State.IsTerminal() {
			break
		}
	}
	require.NotNil(t, status)
	require.Equal(t, domain.WorkflowStateCompleted, status.State, "error: %+v failures: %+v", status.Error, status.Failures)
	assert.Greater(t, status.ChunksTotal, 1)
	assert.Equal(t, status.ChunksTotal, status.ChunksCompleted)

	count, err := a.vectors.Count(ctx, "documents")
	require.NoError(t, err)
	assert.Equal(t, status.ChunksTotal, count)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ingestions/"+submitted.WorkflowID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"completed"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestApp_MissingSourceIsNotFound(t *testing.T) {
	dir := t.TempDir()
	a, err := newApp(context.Background(), memoryConfig(t, dir), discardLogger())
	require.NoError(t, err)
	defer a.close()

	body := fmt.Sprintf(`{"source_uri":"file://%s"}`, filepath.ToSlash(filepath.Join(dir, "missing.txt")))
	rec := httptest.NewRecorder()
	a.newServer("test").Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ingestions", strings.NewReader(body)))
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}
