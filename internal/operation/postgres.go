package operation

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conarylabs/mira/internal/miraerr"
)

// PostgresStore is the pgx/v5-backed Store, a SQL-dialect port of
// original_source/backend/src/operations/mod.rs's operations/
// operation_events/artifacts tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const operationSchema = `
CREATE TABLE IF NOT EXISTS operations (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    user_message TEXT NOT NULL,
    result TEXT,
    error TEXT
);

CREATE TABLE IF NOT EXISTS operation_events (
    id BIGSERIAL PRIMARY KEY,
    operation_id TEXT NOT NULL REFERENCES operations(id) ON DELETE CASCADE,
    event_type TEXT NOT NULL,
    sequence_number BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    event_data JSONB
);

CREATE TABLE IF NOT EXISTS artifacts (
    id TEXT PRIMARY KEY,
    operation_id TEXT NOT NULL REFERENCES operations(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    file_path TEXT,
    content TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    language TEXT,
    diff_from_previous TEXT,
    is_new_file BOOLEAN NOT NULL DEFAULT false,
    previous_artifact_id TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, operationSchema)
	return err
}

func (s *PostgresStore) SaveOperation(ctx context.Context, op Operation) error {
	const opName = "operation.PostgresStore.SaveOperation"
	const q = `
INSERT INTO operations (id, session_id, kind, status, created_at, started_at, completed_at, user_message, result, error)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
    status = excluded.status, started_at = excluded.started_at, completed_at = excluded.completed_at,
    result = excluded.result, error = excluded.error`
	if _, err := s.pool.Exec(ctx, q, op.ID, op.SessionID, op.Kind, op.Status, op.CreatedAt,
		op.StartedAt, op.CompletedAt, op.UserMessage, op.Result, op.Error); err != nil {
		return miraerr.New(opName, miraerr.ProviderUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) GetOperation(ctx context.Context, id string) (Operation, error) {
	const opName = "operation.PostgresStore.GetOperation"
	const q = `SELECT id, session_id, kind, status, created_at, started_at, completed_at, user_message, result, error
	       FROM operations WHERE id = $1`
	var op Operation
	err := s.pool.QueryRow(ctx, q, id).Scan(&op.ID, &op.SessionID, &op.Kind, &op.Status, &op.CreatedAt,
		&op.StartedAt, &op.CompletedAt, &op.UserMessage, &op.Result, &op.Error)
	if err == pgx.ErrNoRows {
		return Operation{}, miraerr.New(opName, miraerr.NotFound, err)
	}
	if err != nil {
		return Operation{}, miraerr.New(opName, miraerr.ProviderUnavailable, err)
	}
	return op, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev Event) error {
	const opName = "operation.PostgresStore.AppendEvent"
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return miraerr.New(opName, miraerr.Validation, err)
	}
	const q = `INSERT INTO operation_events (operation_id, event_type, sequence_number, event_data)
	       VALUES ($1,$2,$3,$4)`
	if _, err := s.pool.Exec(ctx, q, ev.OperationID, ev.EventType, ev.SequenceNumber, data); err != nil {
		return miraerr.New(opName, miraerr.ProviderUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, operationID string) ([]Event, error) {
	const opName = "operation.PostgresStore.ListEvents"
	rows, err := s.pool.Query(ctx,
		`SELECT operation_id, event_type, sequence_number, created_at, event_data
		 FROM operation_events WHERE operation_id = $1 ORDER BY sequence_number`, operationID)
	if err != nil {
		return nil, miraerr.New(opName, miraerr.ProviderUnavailable, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var raw []byte
		if err := rows.Scan(&ev.OperationID, &ev.EventType, &ev.SequenceNumber, &ev.CreatedAt, &raw); err != nil {
			return nil, miraerr.New(opName, miraerr.ProviderUnavailable, err)
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &ev.Data)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveArtifact(ctx context.Context, a Artifact) error {
	const opName = "operation.PostgresStore.SaveArtifact"
	const q = `
INSERT INTO artifacts (id, operation_id, kind, file_path, content, content_hash, language, diff_from_previous, is_new_file, previous_artifact_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, a.ID, a.OperationID, a.Kind, a.FilePath, a.Content, a.ContentHash,
		a.Language, a.Diff, a.IsNewFile, a.PreviousArtifactID); err != nil {
		return miraerr.New(opName, miraerr.ProviderUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, operationID string) ([]Artifact, error) {
	const opName = "operation.PostgresStore.ListArtifacts"
	rows, err := s.pool.Query(ctx,
		`SELECT id, operation_id, kind, file_path, content, content_hash, language, diff_from_previous, is_new_file, previous_artifact_id, created_at
		 FROM artifacts WHERE operation_id = $1 ORDER BY created_at`, operationID)
	if err != nil {
		return nil, miraerr.New(opName, miraerr.ProviderUnavailable, err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.OperationID, &a.Kind, &a.FilePath, &a.Content, &a.ContentHash,
			&a.Language, &a.Diff, &a.IsNewFile, &a.PreviousArtifactID, &a.CreatedAt); err != nil {
			return nil, miraerr.New(opName, miraerr.ProviderUnavailable, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
