package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EventStore = (*EventStore)(nil)

// EventStore persists workflow histories in workflow_events. The workflows
// table holds one row per workflow id carrying the current version, which
// is locked during Append to enforce the expected version.
type EventStore struct {
	db *DB
}

// NewEventStore creates a new EventStore
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Append writes events atomically if expectedVersion is still current.
func (s *EventStore) Append(ctx context.Context, workflowID string, expectedVersion int64, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	for i, ev := range events {
		if ev.Seq != expectedVersion+int64(i)+1 {
			return fmt.Errorf("%w: event seq %d out of order", domain.ErrInvalidInput, ev.Seq)
		}
	}

	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var current int64
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM workflows WHERE workflow_id = $1 FOR UPDATE`, workflowID,
		).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read version: %w", err)
		}
		if current != expectedVersion {
			return fmt.Errorf("workflow %s at version %d, expected %d: %w",
				workflowID, current, expectedVersion, domain.ErrVersionConflict)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO workflow_events (workflow_id, seq, run_id, type, recorded_at, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, ev := range events {
			payload, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("marshal event %d: %w", ev.Seq, err)
			}
			if _, err := stmt.ExecContext(ctx, workflowID, ev.Seq, ev.RunID, string(ev.Type), ev.Time, payload); err != nil {
				return fmt.Errorf("insert event %d: %w", ev.Seq, err)
			}
		}

		last := events[len(events)-1]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflows (workflow_id, run_id, workflow_type, version, active, updated_at)
			VALUES ($1, $2, $3, $4, COALESCE($5, TRUE), $6)
			ON CONFLICT (workflow_id) DO UPDATE SET
				run_id = EXCLUDED.run_id,
				workflow_type = CASE WHEN EXCLUDED.workflow_type = '' THEN workflows.workflow_type ELSE EXCLUDED.workflow_type END,
				version = EXCLUDED.version,
				active = COALESCE($5, workflows.active),
				updated_at = EXCLUDED.updated_at
		`, workflowID, last.RunID, workflowType(events), last.Seq, activeAfter(events), time.Now())
		if err != nil {
			return fmt.Errorf("update workflow row: %w", err)
		}
		return nil
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("workflow %s: %w", workflowID, domain.ErrVersionConflict)
	}
	return err
}

// Load returns a workflow's history ordered by seq
func (s *EventStore) Load(ctx context.Context, workflowID string) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM workflow_events WHERE workflow_id = $1 ORDER BY seq ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []*domain.Event{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// ListActive returns workflows whose latest run is not terminal
func (s *EventStore) ListActive(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workflow_id FROM workflows WHERE active ORDER BY workflow_id`)
	if err != nil {
		return nil, fmt.Errorf("query active workflows: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workflow id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping checks database connectivity
func (s *EventStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// activeAfter returns the active flag implied by a batch, or nil when the
// batch neither starts nor terminates a run
func activeAfter(events []*domain.Event) *bool {
	var active *bool
	for _, ev := range events {
		switch ev.Type {
		case domain.EventWorkflowStarted:
			v := true
			active = &v
		case domain.EventWorkflowTerminal:
			v := false
			active = &v
		}
	}
	return active
}

func workflowType(events []*domain.Event) string {
	for _, ev := range events {
		if ev.WorkflowStarted != nil {
			return ev.WorkflowStarted.WorkflowType
		}
	}
	return ""
}
