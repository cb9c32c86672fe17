package sessioncache

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conarylabs/mira/internal/miraerr"
)

// Store is the durable source of truth for session cache state.
type Store interface {
	Get(ctx context.Context, sessionID string) (*State, error)
	Upsert(ctx context.Context, state State) error
	Invalidate(ctx context.Context, sessionID string) error
	CleanupOldStates(ctx context.Context, maxAgeHours int64) (int64, error)
	AggregateStats(ctx context.Context) (AggregateStats, error)
}

// PostgresStore is the pgx/v5-backed Store, a direct SQL-dialect port of
// session_state_store.rs's SQLite statements (INSERT ... ON CONFLICT DO
// UPDATE upsert, delete-then-reinsert for the file-hash cascade).
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const sessionCacheSchema = `
CREATE TABLE IF NOT EXISTS session_cache_state (
    session_id TEXT PRIMARY KEY,
    static_prefix_hash TEXT NOT NULL,
    last_call_at TIMESTAMPTZ NOT NULL,
    project_context_hash TEXT,
    memory_context_hash TEXT,
    code_intelligence_hash TEXT,
    file_context_hash TEXT,
    static_prefix_tokens BIGINT NOT NULL DEFAULT 0,
    last_cached_tokens BIGINT NOT NULL DEFAULT 0,
    total_requests BIGINT NOT NULL DEFAULT 0,
    total_cached_tokens BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS session_file_hashes (
    session_id TEXT NOT NULL REFERENCES session_cache_state(session_id) ON DELETE CASCADE,
    file_path TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    token_estimate BIGINT NOT NULL DEFAULT 0,
    sent_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (session_id, file_path)
);`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, sessionCacheSchema)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*State, error) {
	const op = "sessioncache.PostgresStore.Get"
	const q = `SELECT session_id, static_prefix_hash, last_call_at, project_context_hash,
	       memory_context_hash, code_intelligence_hash, file_context_hash,
	       static_prefix_tokens, last_cached_tokens, total_requests, total_cached_tokens
	       FROM session_cache_state WHERE session_id = $1`

	var st State
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&st.SessionID, &st.StaticPrefixHash, &st.LastCallAt,
		&st.ContextHashes.ProjectContext, &st.ContextHashes.MemoryContext,
		&st.ContextHashes.CodeIntelligence, &st.ContextHashes.FileContext,
		&st.StaticPrefixTokens, &st.LastReportedCachedTokens, &st.TotalRequests, &st.TotalCachedTokens)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}

	rows, err := s.pool.Query(ctx, `SELECT file_path, content_hash, token_estimate, sent_at
	       FROM session_file_hashes WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	defer rows.Close()
	st.ContextHashes.FileContents = make(map[string]FileContentHash)
	for rows.Next() {
		var f FileContentHash
		if err := rows.Scan(&f.Path, &f.ContentHash, &f.TokenEstimate, &f.SentAt); err != nil {
			return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
		}
		st.ContextHashes.FileContents[f.Path] = f
	}
	return &st, rows.Err()
}

// Upsert writes the main row then replaces the file-hash cascade wholesale
// (delete-then-reinsert), matching the original's own comment: "Update file
// hashes (delete old, insert new)".
func (s *PostgresStore) Upsert(ctx context.Context, state State) error {
	const op = "sessioncache.PostgresStore.Upsert"
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	defer tx.Rollback(ctx)

	const q = `
INSERT INTO session_cache_state (session_id, static_prefix_hash, last_call_at, project_context_hash,
    memory_context_hash, code_intelligence_hash, file_context_hash, static_prefix_tokens,
    last_cached_tokens, total_requests, total_cached_tokens, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
ON CONFLICT (session_id) DO UPDATE SET
    static_prefix_hash = excluded.static_prefix_hash, last_call_at = excluded.last_call_at,
    project_context_hash = excluded.project_context_hash, memory_context_hash = excluded.memory_context_hash,
    code_intelligence_hash = excluded.code_intelligence_hash, file_context_hash = excluded.file_context_hash,
    static_prefix_tokens = excluded.static_prefix_tokens, last_cached_tokens = excluded.last_cached_tokens,
    total_requests = excluded.total_requests, total_cached_tokens = excluded.total_cached_tokens,
    updated_at = now()`
	if _, err := tx.Exec(ctx, q, state.SessionID, state.StaticPrefixHash, state.LastCallAt,
		state.ContextHashes.ProjectContext, state.ContextHashes.MemoryContext,
		state.ContextHashes.CodeIntelligence, state.ContextHashes.FileContext,
		state.StaticPrefixTokens, state.LastReportedCachedTokens, state.TotalRequests, state.TotalCachedTokens); err != nil {
		return miraerr.New(op, miraerr.ProviderUnavailable, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM session_file_hashes WHERE session_id = $1`, state.SessionID); err != nil {
		return miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	for _, f := range state.ContextHashes.FileContents {
		if _, err := tx.Exec(ctx,
			`INSERT INTO session_file_hashes (session_id, file_path, content_hash, token_estimate, sent_at)
			 VALUES ($1,$2,$3,$4,$5)`,
			state.SessionID, f.Path, f.ContentHash, f.TokenEstimate, f.SentAt); err != nil {
			return miraerr.New(op, miraerr.ProviderUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Invalidate(ctx context.Context, sessionID string) error {
	const op = "sessioncache.PostgresStore.Invalidate"
	if _, err := s.pool.Exec(ctx, `DELETE FROM session_cache_state WHERE session_id = $1`, sessionID); err != nil {
		return miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) CleanupOldStates(ctx context.Context, maxAgeHours int64) (int64, error) {
	const op = "sessioncache.PostgresStore.CleanupOldStates"
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM session_cache_state WHERE last_call_at < now() - ($1 || ' hours')::interval`, maxAgeHours)
	if err != nil {
		return 0, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return ct.RowsAffected(), nil
}

func (s *PostgresStore) AggregateStats(ctx context.Context) (AggregateStats, error) {
	const op = "sessioncache.PostgresStore.AggregateStats"
	const q = `SELECT COUNT(*), COALESCE(SUM(total_requests),0), COALESCE(SUM(total_cached_tokens),0),
	       COALESCE(AVG(static_prefix_tokens),0) FROM session_cache_state`
	var a AggregateStats
	if err := s.pool.QueryRow(ctx, q).Scan(&a.TotalSessions, &a.TotalRequests, &a.TotalCachedTokens, &a.AvgPrefixTokens); err != nil {
		return AggregateStats{}, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return a, nil
}
