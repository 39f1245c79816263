package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/swaggo/swag"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"

	// registers the OpenAPI document served at /swagger/doc.json
	_ "github.com/custodia-labs/sercha-ingest/internal/docs"
)

// maxRequestBytes caps JSON request bodies
const maxRequestBytes = 1 << 20

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// ReadyResponse reports each dependency checked by /ready
// @Description Readiness status per dependency
type ReadyResponse struct {
	Status string            `json:"status" example:"ready"`
	Checks map[string]string `json:"checks,omitempty"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// SubmitResponse identifies the started run
// @Description Accepted ingestion
type SubmitResponse struct {
	WorkflowID string               `json:"workflow_id" example:"ingest-3f1c"`
	RunID      string               `json:"run_id" example:"8d6a2c1e-6a1f-4a55-9b0e-1d2f3c4b5a69"`
	State      domain.WorkflowState `json:"state" example:"running"`
}

// ConflictResponse is returned when the same content is already being ingested
// @Description Ingestion already running
type ConflictResponse struct {
	Error      string `json:"error" example:"workflow already running"`
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings the event store, queue and other configured dependencies
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for name, p := range s.checks {
		if err := p.Ping(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

func (s *Server) handleSwaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "api document unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, doc)
}

// Ingestion endpoints

// handleSubmit godoc
// @Summary      Submit a document
// @Description  Starts an ingestion workflow for a source document. The workflow id is derived from the document id and content hash.
// @Tags         Ingestions
// @Accept       json
// @Produce      json
// @Param        request  body      driving.SubmitRequest  true  "Document to ingest"
// @Success      202      {object}  SubmitResponse
// @Failure      400      {object}  ErrorResponse     "Invalid request body"
// @Failure      404      {object}  ErrorResponse     "Source not found"
// @Failure      409      {object}  ConflictResponse  "Already running"
// @Failure      500      {object}  ErrorResponse     "Internal server error"
// @Router       /ingestions [post]
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req driving.SubmitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	exec, err := s.ingestion.Submit(r.Context(), req)
	if err != nil {
		var running *domain.AlreadyRunningError
		if errors.As(err, &running) {
			writeJSON(w, http.StatusConflict, ConflictResponse{
				Error:      "workflow already running",
				WorkflowID: running.WorkflowID,
				RunID:      running.RunID,
			})
			return
		}
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		WorkflowID: exec.WorkflowID,
		RunID:      exec.RunID,
		State:      exec.State,
	})
}

// handleListActive godoc
// @Summary      List open ingestions
// @Tags         Ingestions
// @Produce      json
// @Success      200  {array}   domain.WorkflowStatus
// @Failure      500  {object}  ErrorResponse
// @Router       /ingestions [get]
func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.ingestion.ListActive(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleStatus godoc
// @Summary      Ingestion status
// @Description  Returns the state, chunk progress, chunk failures and fatal error of the latest run
// @Tags         Ingestions
// @Produce      json
// @Param        id   path      string  true  "Workflow ID"
// @Success      200  {object}  domain.WorkflowStatus
// @Failure      404  {object}  ErrorResponse
// @Router       /ingestions/{id} [get]
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.ingestion.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if r.URL.Query().Get("activities") != "true" {
		status.Activities = nil
	}
	writeJSON(w, http.StatusOK, status)
}

// handleCancel godoc
// @Summary      Cancel an ingestion
// @Description  Requests cooperative cancellation; running activities finish their current attempt
// @Tags         Ingestions
// @Produce      json
// @Param        id      path      string  true   "Workflow ID"
// @Param        reason  query     string  false  "Cancellation reason"
// @Success      202     {object}  StatusResponse
// @Failure      404     {object}  ErrorResponse
// @Failure      409     {object}  ErrorResponse  "Workflow already closed"
// @Router       /ingestions/{id} [delete]
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.ingestion.Cancel(r.Context(), r.PathValue("id"), r.URL.Query().Get("reason")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "cancel_requested"})
}

// handleHistory godoc
// @Summary      Ingestion history
// @Description  Returns the ordered event history of the latest run
// @Tags         Ingestions
// @Produce      json
// @Param        id   path      string  true  "Workflow ID"
// @Success      200  {array}   domain.Event
// @Failure      404  {object}  ErrorResponse
// @Router       /ingestions/{id}/history [get]
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.ingestion.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleQueueStats godoc
// @Summary      Task queue statistics
// @Tags         Queue
// @Produce      json
// @Success      200  {object}  driven.QueueStats
// @Failure      500  {object}  ErrorResponse
// @Router       /queue/stats [get]
func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if s.taskQueue == nil {
		writeError(w, http.StatusServiceUnavailable, "task queue not configured")
		return
	}
	stats, err := s.taskQueue.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Helper functions

// writeServiceError maps domain errors onto status codes
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyRunning), errors.Is(err, domain.ErrWorkflowClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
