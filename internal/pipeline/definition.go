package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/activities"
	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/engine"
	"github.com/custodia-labs/sercha-ingest/internal/postprocessors"
)

// WorkflowType is the registered name of the document ingestion workflow
const WorkflowType = "document_ingestion"

// Activity ids of the document level stages
const (
	ActivityFetch = "fetch"
	ActivityParse = "parse"
	ActivityChunk = "chunk"
)

// EmbedActivityID is the activity id embedding the chunk with the given ordinal
func EmbedActivityID(ordinal int) string {
	return "embed/" + strconv.Itoa(ordinal)
}

// UpsertActivityID is the activity id writing the vector of the chunk with the given ordinal
func UpsertActivityID(ordinal int) string {
	return "upsert/" + strconv.Itoa(ordinal)
}

// Input is recorded in WorkflowStarted
type Input struct {
	Request  domain.IngestionRequest   `json:"request"`
	Chunking postprocessors.ChunkPolicy `json:"chunking"`
}

// Summary is the result of a closed ingestion run
type Summary struct {
	DocumentID      string `json:"document_id"`
	ContentHash     string `json:"content_hash,omitempty"`
	MimeType        string `json:"mime_type,omitempty"`
	ChunksTotal     int    `json:"chunks_total"`
	ChunksCompleted int    `json:"chunks_completed"`
	ChunksFailed    int    `json:"chunks_failed"`
	Superseded      int    `json:"superseded"`
}

// Definition coordinates fetch, parse and chunk, then fans out one embed and
// one upsert per chunk. Document level stages are fatal to the workflow when
// abandoned; chunk level stages only fail their chunk.
type Definition struct{}

// Verify interface compliance
var _ engine.Definition = (*Definition)(nil)

// New creates the ingestion workflow definition
func New() *Definition {
	return &Definition{}
}

func (d *Definition) Name() string {
	return WorkflowType
}

// Plan returns the next activities. Upserts of embedded chunks come before
// new embeds so finished chunks are written while the fan-out is bounded.
func (d *Definition) Plan(s *engine.State) ([]engine.Command, error) {
	in, err := decodeInput(s.Input)
	if err != nil {
		return nil, err
	}
	req := in.Request

	fetch := s.Activity(ActivityFetch)
	if fetch == nil {
		return command(ActivityFetch, activities.TypeFetch, 0, activities.FetchInput{
			SourceURI:   req.SourceURI,
			ContentHash: req.ContentHash,
			MimeType:    req.MimeType,
		})
	}
	if fetch.State != domain.ActivityStateCompleted {
		return nil, nil
	}

	parse := s.Activity(ActivityParse)
	if parse == nil {
		return []engine.Command{{ActivityID: ActivityParse, Type: activities.TypeParse, Input: fetch.Result}}, nil
	}
	if parse.State != domain.ActivityStateCompleted {
		return nil, nil
	}

	chunk := s.Activity(ActivityChunk)
	if chunk == nil {
		var parsed activities.ParseOutput
		if err := json.Unmarshal(parse.Result, &parsed); err != nil {
			return nil, fmt.Errorf("decode parse result: %w", err)
		}
		return command(ActivityChunk, activities.TypeChunk, 0, activities.ChunkInput{
			DocumentID: req.DocumentID,
			Collection: req.Collection,
			Text:       parsed.Text,
			Policy:     in.Chunking,
		})
	}
	if chunk.State != domain.ActivityStateCompleted {
		return nil, nil
	}

	chunks, err := decodeChunks(chunk)
	if err != nil {
		return nil, err
	}

	var upserts, embeds []engine.Command
	for _, c := range chunks.Chunks {
		embed := s.Activity(EmbedActivityID(c.Ordinal))
		if embed == nil {
			cmd, err := command(EmbedActivityID(c.Ordinal), activities.TypeEmbed, c.Ordinal, activities.EmbedInput{
				ChunkID:     c.ID,
				ContentHash: c.ContentHash,
				Text:        c.Text,
			})
			if err != nil {
				return nil, err
			}
			embeds = append(embeds, cmd...)
			continue
		}
		if embed.State != domain.ActivityStateCompleted || s.Activity(UpsertActivityID(c.Ordinal)) != nil {
			continue
		}
		var embedded activities.EmbedOutput
		if err := json.Unmarshal(embed.Result, &embedded); err != nil {
			return nil, fmt.Errorf("decode embed result %d: %w", c.Ordinal, err)
		}
		cmd, err := command(UpsertActivityID(c.Ordinal), activities.TypeUpsert, c.Ordinal, activities.UpsertInput{
			Collection: req.Collection,
			Record:     vectorRecord(req, c, embedded.Vector),
		})
		if err != nil {
			return nil, err
		}
		upserts = append(upserts, cmd...)
	}
	return append(upserts, embeds...), nil
}

// Outcome closes the run once every stage and every chunk has settled
func (d *Definition) Outcome(s *engine.State) *engine.Outcome {
	summary := Summary{}
	if in, err := decodeInput(s.Input); err == nil {
		summary.DocumentID = in.Request.DocumentID
	}

	for _, id := range []string{ActivityFetch, ActivityParse, ActivityChunk} {
		a := s.Activity(id)
		if a == nil {
			return nil
		}
		switch a.State {
		case domain.ActivityStateCompleted:
		case domain.ActivityStateAbandoned:
			return &engine.Outcome{State: domain.WorkflowStateFailed, Error: a.LastFailure, Result: marshal(summary)}
		default:
			return nil
		}
	}

	var fetched activities.FetchOutput
	if err := json.Unmarshal(s.Activity(ActivityFetch).Result, &fetched); err == nil {
		summary.ContentHash = fetched.ContentHash
		summary.MimeType = fetched.MimeType
	}
	chunks, err := decodeChunks(s.Activity(ActivityChunk))
	if err != nil {
		return &engine.Outcome{
			State: domain.WorkflowStateFailed,
			Error: &domain.FailureInfo{Kind: domain.ErrorKindInternal, Message: err.Error()},
		}
	}
	summary.ChunksTotal = len(chunks.Chunks)
	summary.Superseded = len(chunks.Superseded)

	var failures []domain.ChunkFailure
	for _, c := range chunks.Chunks {
		done, failure := chunkResult(s, c)
		switch {
		case failure != nil:
			failures = append(failures, *failure)
		case done:
			summary.ChunksCompleted++
		default:
			return nil
		}
	}
	summary.ChunksFailed = len(failures)

	switch {
	case len(failures) == 0:
		return &engine.Outcome{State: domain.WorkflowStateCompleted, Result: marshal(summary)}
	case summary.ChunksCompleted > 0:
		return &engine.Outcome{State: domain.WorkflowStatePartiallyCompleted, Failures: failures, Result: marshal(summary)}
	default:
		first := failures[0]
		return &engine.Outcome{
			State:    domain.WorkflowStateFailed,
			Error:    &domain.FailureInfo{Kind: first.Kind, Message: fmt.Sprintf("chunk %d: %s", first.Ordinal, first.Message)},
			Failures: failures,
			Result:   marshal(summary),
		}
	}
}

// Progress fills chunk counters and the failures known so far
func (d *Definition) Progress(s *engine.State, status *domain.WorkflowStatus) {
	chunk := s.Activity(ActivityChunk)
	if chunk == nil || chunk.State != domain.ActivityStateCompleted {
		return
	}
	chunks, err := decodeChunks(chunk)
	if err != nil {
		return
	}
	status.ChunksTotal = len(chunks.Chunks)
	for _, c := range chunks.Chunks {
		done, failure := chunkResult(s, c)
		if failure != nil {
			status.Failures = append(status.Failures, *failure)
		} else if done {
			status.ChunksCompleted++
		}
	}
}

// chunkResult reports whether a chunk's vector was written, or why it never will be
func chunkResult(s *engine.State, c activities.ChunkRef) (bool, *domain.ChunkFailure) {
	for _, id := range []string{EmbedActivityID(c.Ordinal), UpsertActivityID(c.Ordinal)} {
		a := s.Activity(id)
		if a == nil || a.State != domain.ActivityStateAbandoned {
			continue
		}
		failure := &domain.ChunkFailure{ChunkID: c.ID, Ordinal: c.Ordinal, Kind: domain.ErrorKindInternal}
		if a.LastFailure != nil {
			failure.Kind = a.LastFailure.Kind
			failure.Message = a.LastFailure.Message
		}
		return false, failure
	}
	upsert := s.Activity(UpsertActivityID(c.Ordinal))
	return upsert != nil && upsert.State == domain.ActivityStateCompleted, nil
}

// vectorRecord builds the record of a chunk. The version is the submission
// time so a later submission of the document always wins in the store.
func vectorRecord(req domain.IngestionRequest, c activities.ChunkRef, vector []float32) domain.VectorRecord {
	metadata := make(map[string]string, len(req.Metadata)+6)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["document_id"] = req.DocumentID
	metadata["source_uri"] = req.SourceURI
	metadata["ordinal"] = strconv.Itoa(c.Ordinal)
	metadata["content_hash"] = c.ContentHash
	metadata["start_offset"] = strconv.Itoa(c.StartOffset)
	metadata["end_offset"] = strconv.Itoa(c.EndOffset)

	return domain.VectorRecord{
		ChunkID:    c.ID,
		DocumentID: req.DocumentID,
		Vector:     vector,
		Metadata:   metadata,
		Version:    req.SubmittedAt.UnixNano(),
	}
}

func command(id string, typ domain.ActivityType, group int, input any) ([]engine.Command, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode %s input: %w", id, err)
	}
	return []engine.Command{{ActivityID: id, Type: typ, Group: group, Input: raw}}, nil
}

func decodeInput(raw json.RawMessage) (*Input, error) {
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode workflow input: %w", err)
	}
	return &in, nil
}

func decodeChunks(a *engine.Activity) (*activities.ChunkOutput, error) {
	var out activities.ChunkOutput
	if err := json.Unmarshal(a.Result, &out); err != nil {
		return nil, fmt.Errorf("decode chunk result: %w", err)
	}
	return &out, nil
}

func marshal(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

// NewInput builds the workflow input for a request
func NewInput(req domain.IngestionRequest, policy postprocessors.ChunkPolicy) (json.RawMessage, error) {
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now().UTC()
	}
	return json.Marshal(Input{Request: req, Chunking: policy})
}
