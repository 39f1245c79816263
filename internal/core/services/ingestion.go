package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-ingest/internal/engine"
	"github.com/custodia-labs/sercha-ingest/internal/pipeline"
	"github.com/custodia-labs/sercha-ingest/internal/postprocessors"
)

// Ensure ingestionService implements IngestionService
var _ driving.IngestionService = (*ingestionService)(nil)

// DefaultCollection is the vector collection used when a request names none
const DefaultCollection = "documents"

// WorkflowEngine is the part of the workflow engine the service drives
type WorkflowEngine interface {
	Start(ctx context.Context, req engine.StartRequest) (*domain.WorkflowExecution, error)
	Status(ctx context.Context, workflowID string) (*domain.WorkflowStatus, error)
	Cancel(ctx context.Context, workflowID, reason string) error
	History(ctx context.Context, workflowID string) ([]*domain.Event, error)
	Active(ctx context.Context) ([]string, error)
}

// IngestionConfig holds the dependencies of the ingestion service
type IngestionConfig struct {
	Engine WorkflowEngine
	// Fetcher computes content hashes for requests that omit one
	Fetcher    driven.DocumentFetcher
	Options    domain.WorkflowOptions
	Chunking   postprocessors.ChunkPolicy
	Collection string
	Logger     *slog.Logger
}

// ingestionService implements the IngestionService interface
type ingestionService struct {
	engine     WorkflowEngine
	fetcher    driven.DocumentFetcher
	options    domain.WorkflowOptions
	chunking   postprocessors.ChunkPolicy
	collection string
	logger     *slog.Logger
}

// NewIngestionService creates a new IngestionService
func NewIngestionService(cfg IngestionConfig) driving.IngestionService {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Chunking.MaxTokens == 0 {
		cfg.Chunking = postprocessors.DefaultChunkPolicy()
	}
	if cfg.Options.Queue == "" {
		cfg.Options = pipeline.DefaultOptions()
	}
	return &ingestionService{
		engine:     cfg.Engine,
		fetcher:    cfg.Fetcher,
		options:    cfg.Options,
		chunking:   cfg.Chunking,
		collection: cfg.Collection,
		logger:     cfg.Logger.With("component", "ingestion_service"),
	}
}

// Submit derives the document and workflow ids and starts an ingestion run
func (s *ingestionService) Submit(ctx context.Context, req driving.SubmitRequest) (*domain.WorkflowExecution, error) {
	if req.SourceURI == "" {
		return nil, fmt.Errorf("%w: source_uri is required", domain.ErrInvalidInput)
	}

	docID := req.DocumentID
	if docID == "" {
		docID = domain.DocumentIDFor(req.SourceURI)
	}

	var hash string
	if req.ContentHash != "" {
		var err error
		if hash, err = domain.NormalizeContentHash(req.ContentHash); err != nil {
			return nil, err
		}
	} else {
		var err error
		if hash, err = s.hashSource(ctx, req.SourceURI); err != nil {
			return nil, err
		}
	}

	collection := req.Collection
	if collection == "" {
		collection = s.collection
	}

	input, err := pipeline.NewInput(domain.IngestionRequest{
		DocumentID:  docID,
		SourceURI:   req.SourceURI,
		ContentHash: hash,
		MimeType:    req.MimeType,
		Collection:  collection,
		Metadata:    req.Metadata,
		SubmittedAt: time.Now().UTC(),
	}, s.chunking)
	if err != nil {
		return nil, fmt.Errorf("encode workflow input: %w", err)
	}

	exec, err := s.engine.Start(ctx, engine.StartRequest{
		WorkflowType: pipeline.WorkflowType,
		WorkflowID:   domain.WorkflowIDFor(docID, hash),
		Input:        input,
		Options:      s.options,
	})
	if err != nil {
		var running *domain.AlreadyRunningError
		if errors.As(err, &running) {
			s.logger.Info("ingestion already running",
				"workflow_id", running.WorkflowID,
				"run_id", running.RunID,
				"document_id", docID,
			)
		}
		return nil, err
	}

	s.logger.Info("ingestion submitted",
		"workflow_id", exec.WorkflowID,
		"run_id", exec.RunID,
		"document_id", docID,
		"source_uri", req.SourceURI,
	)
	return exec, nil
}

func (s *ingestionService) hashSource(ctx context.Context, uri string) (string, error) {
	if s.fetcher == nil {
		return "", fmt.Errorf("%w: content_hash is required", domain.ErrInvalidInput)
	}
	res, err := s.fetcher.Fetch(ctx, uri)
	if err != nil {
		return "", fmt.Errorf("fetch %s for content hash: %w", uri, err)
	}
	return domain.ContentHash(res.Data), nil
}

// Status returns the state and chunk progress of a workflow
func (s *ingestionService) Status(ctx context.Context, workflowID string) (*domain.WorkflowStatus, error) {
	return s.engine.Status(ctx, workflowID)
}

// Cancel requests cooperative cancellation of a workflow
func (s *ingestionService) Cancel(ctx context.Context, workflowID, reason string) error {
	if reason == "" {
		reason = "cancelled by request"
	}
	return s.engine.Cancel(ctx, workflowID, reason)
}

// History returns the latest run's event history
func (s *ingestionService) History(ctx context.Context, workflowID string) ([]*domain.Event, error) {
	return s.engine.History(ctx, workflowID)
}

// ListActive returns the status of every open workflow. Workflows that
// settle between listing and loading are skipped.
func (s *ingestionService) ListActive(ctx context.Context) ([]*domain.WorkflowStatus, error) {
	ids, err := s.engine.Active(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]*domain.WorkflowStatus, 0, len(ids))
	for _, id := range ids {
		st, err := s.engine.Status(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if st.State.IsTerminal() {
			continue
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
