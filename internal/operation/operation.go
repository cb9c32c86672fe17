// Package operation implements the Operation Engine (C13): a user-initiated
// action tracked as a pending → running → {completed, failed, cancelled}
// state machine, emitting sequence-numbered OperationEvents and producing
// content-hashed Artifacts on file-creating tool calls.
//
// Grounded on original_source/backend/src/operations/mod.rs's Operation/
// OperationEvent/Artifact structs and engine/artifacts.rs's
// create_artifact/compute_diff, translated from the Rust diff-crate to
// github.com/sergi/go-diff/diffmatchpatch.
package operation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/conarylabs/mira/internal/miraerr"
	"github.com/conarylabs/mira/internal/objectstore"
)

// Status is the operation lifecycle state (spec.md §4.12).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Operation tracks a user-initiated action.
type Operation struct {
	ID          string
	SessionID   string
	Kind        string
	Status      Status
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UserMessage string
	Result      string
	Error       string
}

// NewOperation starts a pending operation, mirroring Operation::new.
func NewOperation(sessionID, kind, userMessage string) Operation {
	return Operation{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Kind:        kind,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
		UserMessage: userMessage,
	}
}

// Start transitions pending → running.
func (o *Operation) Start() {
	now := time.Now()
	o.Status = StatusRunning
	o.StartedAt = &now
}

// Complete transitions running → completed, recording the result.
func (o *Operation) Complete(result string) {
	now := time.Now()
	o.Status = StatusCompleted
	o.CompletedAt = &now
	o.Result = result
}

// Fail transitions running → failed, recording the error.
func (o *Operation) Fail(err error) {
	now := time.Now()
	o.Status = StatusFailed
	o.CompletedAt = &now
	if err != nil {
		o.Error = err.Error()
	}
}

// Cancel transitions pending/running → cancelled.
func (o *Operation) Cancel() {
	now := time.Now()
	o.Status = StatusCancelled
	o.CompletedAt = &now
}

// EventType enumerates the OperationEvent.event_type values this engine
// emits.
type EventType string

const (
	EventStarted         EventType = "started"
	EventArtifactPreview EventType = "artifact_preview"
	EventArtifactDone    EventType = "artifact_completed"
	EventCompleted       EventType = "completed"
	EventFailed          EventType = "failed"
)

// Event is one entry in an operation's append-only event log.
type Event struct {
	OperationID    string
	EventType      EventType
	SequenceNumber int64
	CreatedAt      time.Time
	Data           map[string]any
}

// Artifact is a file-creating tool call's output (spec.md §4.12).
type Artifact struct {
	ID                string
	OperationID       string
	Kind              string
	FilePath          string
	Content           string
	ContentHash       string
	Language          string
	Diff              string
	IsNewFile         bool
	PreviousArtifactID string
	CreatedAt         time.Time
}

// ContentHash returns the SHA-256 hex digest of content (I-dedup: identical
// content yields an identical hash).
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
