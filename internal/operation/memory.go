package operation

import (
	"context"
	"sort"
	"sync"

	"github.com/conarylabs/mira/internal/miraerr"
)

// MemoryStore is an in-memory Store for tests and the "memory" backend
// selection, mirroring store.MemoryStore's shape.
type MemoryStore struct {
	mu         sync.Mutex
	operations map[string]Operation
	events     map[string][]Event
	artifacts  map[string][]Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		operations: make(map[string]Operation),
		events:     make(map[string][]Event),
		artifacts:  make(map[string][]Artifact),
	}
}

func (m *MemoryStore) SaveOperation(ctx context.Context, op Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[op.ID] = op
	return nil
}

func (m *MemoryStore) GetOperation(ctx context.Context, id string) (Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operations[id]
	if !ok {
		return Operation{}, miraerr.New("operation.MemoryStore.GetOperation", miraerr.NotFound, errOperationNotFound)
	}
	return op, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.OperationID] = append(m.events[ev.OperationID], ev)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, operationID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Event(nil), m.events[operationID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (m *MemoryStore) SaveArtifact(ctx context.Context, a Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[a.OperationID] = append(m.artifacts[a.OperationID], a)
	return nil
}

func (m *MemoryStore) ListArtifacts(ctx context.Context, operationID string) ([]Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Artifact(nil), m.artifacts[operationID]...), nil
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errOperationNotFound sentinelErr = "operation not found"
