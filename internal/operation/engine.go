package operation

import (
	"context"
	"sync"

	"github.com/conarylabs/mira/internal/miraerr"
)

// Store is the durable persistence contract for operations, their event
// logs, and artifacts, kept package-local the way sessioncache.Store keeps
// its own persistence rather than overloading RelationalStore.
type Store interface {
	SaveOperation(ctx context.Context, op Operation) error
	GetOperation(ctx context.Context, id string) (Operation, error)
	AppendEvent(ctx context.Context, ev Event) error
	ListEvents(ctx context.Context, operationID string) ([]Event, error)
	SaveArtifact(ctx context.Context, a Artifact) error
	ListArtifacts(ctx context.Context, operationID string) ([]Artifact, error)
}

// Engine drives the Operation state machine end to end: creation, event
// emission with per-operation sequence numbers, and artifact production.
type Engine struct {
	store     Store
	seq       *Sequencer
	artifacts *ArtifactManager

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(store Store, artifacts *ArtifactManager, seq *Sequencer) *Engine {
	return &Engine{store: store, seq: seq, artifacts: artifacts, locks: make(map[string]*sync.Mutex)}
}

func (e *Engine) lockFor(operationID string) func() {
	e.mu.Lock()
	l, ok := e.locks[operationID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[operationID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Start creates a new Operation, persists it, and emits the "started" event.
func (e *Engine) Start(ctx context.Context, sessionID, kind, userMessage string) (Operation, error) {
	op := NewOperation(sessionID, kind, userMessage)
	op.Start()
	unlock := e.lockFor(op.ID)
	defer unlock()

	if err := e.store.SaveOperation(ctx, op); err != nil {
		return Operation{}, err
	}
	ev := Event{OperationID: op.ID, EventType: EventStarted, SequenceNumber: e.seq.Next(op.ID)}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// EmitArtifact runs the ArtifactManager for a file-creating tool call
// within operationID, persisting the artifact and its events.
func (e *Engine) EmitArtifact(ctx context.Context, operationID, kind, filePath, content, language string) (Artifact, error) {
	unlock := e.lockFor(operationID)
	defer unlock()

	artifact, events, err := e.artifacts.CreateArtifact(ctx, operationID, kind, filePath, content, language)
	if err != nil {
		return Artifact{}, err
	}
	if err := e.store.SaveArtifact(ctx, artifact); err != nil {
		return Artifact{}, err
	}
	for _, ev := range events {
		if err := e.store.AppendEvent(ctx, ev); err != nil {
			return Artifact{}, err
		}
	}
	return artifact, nil
}

// Complete transitions an operation to completed and emits the terminal
// event, then releases its sequence counter.
func (e *Engine) Complete(ctx context.Context, operationID, result string) error {
	return e.finish(ctx, operationID, func(op *Operation) { op.Complete(result) }, EventCompleted, nil)
}

// Fail transitions an operation to failed and emits the terminal event.
func (e *Engine) Fail(ctx context.Context, operationID string, cause error) error {
	return e.finish(ctx, operationID, func(op *Operation) { op.Fail(cause) }, EventFailed, cause)
}

// Cancel transitions an operation to cancelled.
func (e *Engine) Cancel(ctx context.Context, operationID string) error {
	return e.finish(ctx, operationID, func(op *Operation) { op.Cancel() }, EventFailed, nil)
}

// Events returns operationID's event log in sequence order, letting a
// reconnecting WebSocket client resume a stream it already has a
// partial view of (spec.md §6.1's "sync" command).
func (e *Engine) Events(ctx context.Context, operationID string) ([]Event, error) {
	return e.store.ListEvents(ctx, operationID)
}

func (e *Engine) finish(ctx context.Context, operationID string, mutate func(*Operation), evType EventType, cause error) error {
	const op = "operation.Engine.finish"
	unlock := e.lockFor(operationID)
	defer unlock()

	current, err := e.store.GetOperation(ctx, operationID)
	if err != nil {
		return miraerr.New(op, miraerr.NotFound, err)
	}
	mutate(&current)
	if err := e.store.SaveOperation(ctx, current); err != nil {
		return err
	}
	var data map[string]any
	if cause != nil {
		data = map[string]any{"error": cause.Error()}
	}
	ev := Event{OperationID: operationID, EventType: evType, SequenceNumber: e.seq.Next(operationID), Data: data}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	e.seq.Forget(operationID)
	return nil
}
