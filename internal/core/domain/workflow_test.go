package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWorkflowState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    WorkflowState
		terminal bool
	}{
		{WorkflowStatePending, false},
		{WorkflowStateRunning, false},
		{WorkflowStateCompleted, true},
		{WorkflowStatePartiallyCompleted, true},
		{WorkflowStateFailed, true},
		{WorkflowStateTimedOut, true},
		{WorkflowStateCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("%s: expected %v, got %v", tt.state, tt.terminal, got)
		}
	}
}

func TestActivityState_IsSettled(t *testing.T) {
	settled := map[ActivityState]bool{
		ActivityStateScheduled: false,
		ActivityStateStarted:   false,
		ActivityStateFailed:    false,
		ActivityStateRetrying:  false,
		ActivityStateCompleted: true,
		ActivityStateAbandoned: true,
	}
	for state, want := range settled {
		if state.IsSettled() != want {
			t.Errorf("%s: expected %v", state, want)
		}
	}
}

func TestWorkflowOptions_Policy(t *testing.T) {
	opts := WorkflowOptions{
		RetryPolicies: map[ActivityType]RetryPolicy{
			"embed": {InitialInterval: time.Second, Multiplier: 2, MaxInterval: time.Minute, MaxAttempts: 4},
			"parse": {MaxAttempts: 0},
		},
	}

	if p := opts.Policy("embed"); p.MaxAttempts != 4 {
		t.Errorf("expected 4 attempts, got %d", p.MaxAttempts)
	}
	if p := opts.Policy("parse"); p.MaxAttempts != 1 {
		t.Errorf("expected zero max attempts to be clamped to 1, got %d", p.MaxAttempts)
	}
	if p := opts.Policy("unknown"); p.MaxAttempts != 1 {
		t.Errorf("expected single attempt for unknown type, got %d", p.MaxAttempts)
	}
}

func TestIdentity(t *testing.T) {
	doc := DocumentIDFor("s3://bucket/a.md")
	if doc != DocumentIDFor("s3://bucket/a.md") {
		t.Error("expected document id to be deterministic")
	}
	if doc == DocumentIDFor("s3://bucket/b.md") {
		t.Error("expected different uris to give different ids")
	}

	wf := WorkflowIDFor(doc, "hash-1")
	if wf != WorkflowIDFor(doc, "hash-1") {
		t.Error("expected workflow id to be deterministic")
	}
	if wf == WorkflowIDFor(doc, "hash-2") {
		t.Error("expected a new content hash to give a new workflow id")
	}
}

func TestChunkID(t *testing.T) {
	id := ChunkID("doc-1", 120)
	if len(id) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(id))
	}
	if id != ChunkID("doc-1", 120) {
		t.Error("expected chunk id to be deterministic")
	}
	if id == ChunkID("doc-1", 121) || id == ChunkID("doc-2", 120) {
		t.Error("expected chunk id to depend on document and offset")
	}
}

func TestContentHash(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := ContentHash([]byte("abc")); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestNormalizeContentHash(t *testing.T) {
	abc := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: abc, want: abc},
		{in: strings.ToUpper(abc), want: abc},
		{in: "  " + abc + "\n", want: abc},
		{in: "abc123", wantErr: true},
		{in: strings.Repeat("g", 64), wantErr: true},
		{in: abc + "ff", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeContentHash(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("NormalizeContentHash(%q): expected ErrInvalidInput, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizeContentHash(%q) = %q, %v", tt.in, got, err)
		}
	}
}
