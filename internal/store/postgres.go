package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conarylabs/mira/internal/miraerr"
	"github.com/conarylabs/mira/internal/obs"
)

// PostgresStore is the pgx/v5-backed RelationalStore, grounded on the
// teacher's internal/persistence/databases chat_store_postgres.go (CTE
// insert-or-fetch pattern) and evolving_memory_store_postgres.go
// (transactional upsert pattern).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresStore connects and runs the schema migration, following the
// teacher's pool.go OpenPool thin wrapper.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	const op = "store.OpenPostgresStore"
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, miraerr.New(op, miraerr.Fatal, err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, miraerr.New(op, miraerr.Fatal, err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS mira_sessions (
    session_id TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_activity TIMESTAMPTZ NOT NULL DEFAULT now(),
    total_messages BIGINT NOT NULL DEFAULT 0,
    total_summaries BIGINT NOT NULL DEFAULT 0,
    active BOOLEAN NOT NULL DEFAULT true,
    message_counter BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS mira_messages (
    id BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES mira_sessions(session_id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    response_id TEXT,
    parent_id BIGINT
);
CREATE INDEX IF NOT EXISTS idx_mira_messages_session ON mira_messages(session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS mira_analyses (
    message_id BIGINT PRIMARY KEY REFERENCES mira_messages(id) ON DELETE CASCADE,
    mood TEXT, intensity REAL, salience REAL, original_salience REAL,
    intent TEXT, topics TEXT[], summary TEXT, relationship_impact TEXT,
    contains_code BOOLEAN, language TEXT, programming_lang TEXT,
    analysis_version INT, routed_to_heads TEXT[], has_embedding BOOLEAN,
    analyzed_at TIMESTAMPTZ, last_recalled TIMESTAMPTZ, recall_count INT DEFAULT 0
);

CREATE TABLE IF NOT EXISTS mira_facts (
    id BIGSERIAL PRIMARY KEY,
    project_id BIGINT, key TEXT, content TEXT NOT NULL,
    fact_type TEXT NOT NULL, category TEXT, confidence REAL,
    status TEXT NOT NULL DEFAULT 'candidate', session_count INT DEFAULT 0,
    first_session_id TEXT, last_session_id TEXT, user_id TEXT,
    scope TEXT NOT NULL, team_id BIGINT, branch TEXT,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(), stale_since TIMESTAMPTZ,
    suspicious BOOLEAN DEFAULT false, has_embedding BOOLEAN DEFAULT false,
    UNIQUE(project_id, key)
);
CREATE INDEX IF NOT EXISTS idx_mira_facts_scope ON mira_facts(scope, user_id, project_id, team_id);
`

// EnsureSession is the CTE insert-or-fetch pattern from chat_store_postgres.go's
// EnsureSession: idempotent insert, returns the existing row on conflict.
func (s *PostgresStore) EnsureSession(ctx context.Context, sessionID string) (Session, error) {
	const op = "store.PostgresStore.EnsureSession"
	const q = `
WITH ins AS (
    INSERT INTO mira_sessions (session_id) VALUES ($1)
    ON CONFLICT (session_id) DO NOTHING
    RETURNING session_id, created_at, last_activity, total_messages, total_summaries, active, message_counter
)
SELECT session_id, created_at, last_activity, total_messages, total_summaries, active, message_counter FROM ins
UNION ALL
SELECT session_id, created_at, last_activity, total_messages, total_summaries, active, message_counter
FROM mira_sessions WHERE session_id = $1 LIMIT 1`

	var sess Session
	row := s.pool.QueryRow(ctx, q, sessionID)
	if err := row.Scan(&sess.SessionID, &sess.CreatedAt, &sess.LastActivity, &sess.TotalMessages, &sess.TotalSummaries, &sess.Active, &sess.MessageCounter); err != nil {
		return Session{}, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	const op = "store.PostgresStore.GetSession"
	const q = `SELECT session_id, created_at, last_activity, total_messages, total_summaries, active, message_counter
	           FROM mira_sessions WHERE session_id = $1`
	var sess Session
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&sess.SessionID, &sess.CreatedAt, &sess.LastActivity, &sess.TotalMessages, &sess.TotalSummaries, &sess.Active, &sess.MessageCounter)
	if err == pgx.ErrNoRows {
		return Session{}, miraerr.New(op, miraerr.NotFound, err)
	}
	if err != nil {
		return Session{}, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return sess, nil
}

// InsertMessage runs inside a transaction: insert the message row then bump
// Session.message_counter atomically, matching I-5's "increment is atomic."
func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) (uint64, error) {
	const op = "store.PostgresStore.InsertMessage"
	if m.SessionID == "" {
		return 0, miraerr.New(op, miraerr.Validation, errMissingSessionID)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO mira_sessions (session_id) VALUES ($1) ON CONFLICT DO NOTHING`, m.SessionID); err != nil {
		return 0, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}

	var id uint64
	err = tx.QueryRow(ctx,
		`INSERT INTO mira_messages (session_id, role, content, response_id, parent_id)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		m.SessionID, string(m.Role), m.Content, nullStr(m.ResponseID), m.ParentID,
	).Scan(&id)
	if err != nil {
		return 0, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE mira_sessions SET message_counter = message_counter + 1, total_messages = total_messages + 1,
		 last_activity = now(), active = true WHERE session_id = $1`, m.SessionID); err != nil {
		return 0, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return id, nil
}

// UpsertAnalysis preserves original_salience on conflict (I-2), grounded on
// evolving_memory_store_postgres.go's transactional upsert style.
func (s *PostgresStore) UpsertAnalysis(ctx context.Context, a Analysis) error {
	const op = "store.PostgresStore.UpsertAnalysis"
	const q = `
INSERT INTO mira_analyses (message_id, mood, intensity, salience, original_salience, intent, topics,
    summary, relationship_impact, contains_code, language, programming_lang, analysis_version,
    routed_to_heads, has_embedding, analyzed_at, recall_count)
VALUES ($1,$2,$3,$4,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),0)
ON CONFLICT (message_id) DO UPDATE SET
    mood = EXCLUDED.mood, intensity = EXCLUDED.intensity, salience = EXCLUDED.salience,
    intent = EXCLUDED.intent, topics = EXCLUDED.topics, summary = EXCLUDED.summary,
    relationship_impact = EXCLUDED.relationship_impact, contains_code = EXCLUDED.contains_code,
    language = EXCLUDED.language, programming_lang = EXCLUDED.programming_lang,
    analysis_version = EXCLUDED.analysis_version, routed_to_heads = EXCLUDED.routed_to_heads,
    has_embedding = EXCLUDED.has_embedding, analyzed_at = now()
    -- original_salience intentionally omitted from the update list: I-2`
	_, err := s.pool.Exec(ctx, q, a.MessageID, a.Mood, a.Intensity, a.Salience, a.Intent, a.Topics,
		a.Summary, a.RelationshipImpact, a.ContainsCode, a.Language, a.ProgrammingLang,
		a.AnalysisVersion, a.RoutedToHeads, a.HasEmbedding)
	if err != nil {
		return miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) InsertOrUpsertFact(ctx context.Context, f MemoryFact) (uint64, error) {
	const op = "store.PostgresStore.InsertOrUpsertFact"
	var id uint64
	status := orDefault(f.Status, FactCandidate)
	if status == FactCandidate && f.IsConfirmed() {
		status = FactConfirmed
	}
	if f.Key != nil {
		const q = `
INSERT INTO mira_facts (project_id, key, content, fact_type, category, confidence, status,
    session_count, first_session_id, last_session_id, user_id, scope, team_id, branch, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14, now())
ON CONFLICT (project_id, key) DO UPDATE SET
    content = EXCLUDED.content, confidence = GREATEST(mira_facts.confidence, EXCLUDED.confidence),
    status = CASE WHEN mira_facts.status = 'confirmed' THEN 'confirmed'
                   WHEN mira_facts.session_count + 1 >= 3 OR EXCLUDED.confidence >= 0.8 THEN 'confirmed'
                   ELSE EXCLUDED.status END,
    last_session_id = EXCLUDED.last_session_id, updated_at = now()
RETURNING id`
		err := s.pool.QueryRow(ctx, q, f.ProjectID, *f.Key, f.Content, string(f.FactType), f.Category,
			f.Confidence, string(status), f.SessionCount, f.FirstSessionID,
			f.LastSessionID, f.UserID, string(f.Scope), f.TeamID, f.Branch).Scan(&id)
		if err != nil {
			return 0, miraerr.New(op, miraerr.ProviderUnavailable, err)
		}
		return id, nil
	}

	const insertOnly = `
INSERT INTO mira_facts (project_id, key, content, fact_type, category, confidence, status,
    session_count, first_session_id, last_session_id, user_id, scope, team_id, branch, updated_at)
VALUES ($1,NULL,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now()) RETURNING id`
	err := s.pool.QueryRow(ctx, insertOnly, f.ProjectID, f.Content, string(f.FactType), f.Category,
		f.Confidence, string(status), f.SessionCount, f.FirstSessionID,
		f.LastSessionID, f.UserID, string(f.Scope), f.TeamID, f.Branch).Scan(&id)
	if err != nil {
		return 0, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return id, nil
}

func orDefault(s FactStatus, d FactStatus) FactStatus {
	if s == "" {
		return d
	}
	return s
}

// UpdateFactStatusOnAccess is the conditional promotion update of spec.md
// §4.3, implemented as a single UPDATE ... WHERE last_session_id IS DISTINCT
// FROM $2 so it never fires on a re-touch within the same session.
func (s *PostgresStore) UpdateFactStatusOnAccess(ctx context.Context, factID uint64, sessionID string) error {
	const op = "store.PostgresStore.UpdateFactStatusOnAccess"
	const q = `
UPDATE mira_facts SET
    session_count = session_count + 1,
    last_session_id = $2,
    status = CASE WHEN status = 'confirmed' THEN 'confirmed'
                   WHEN session_count + 1 >= 3 OR confidence >= 0.8 THEN 'confirmed'
                   ELSE status END,
    updated_at = now()
WHERE id = $1 AND last_session_id IS DISTINCT FROM $2`
	ct, err := s.pool.Exec(ctx, q, factID, sessionID)
	if err != nil {
		return miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	if ct.RowsAffected() == 0 {
		obs.LoggerWithTrace(ctx).Debug().Str("op", op).Uint64("fact_id", factID).Msg("no-op: same session re-touch or missing fact")
	}
	return nil
}

func (s *PostgresStore) LoadRecent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	const op = "store.PostgresStore.LoadRecent"
	const q = `SELECT id, session_id, role, content, created_at, COALESCE(response_id,''), parent_id
	           FROM mira_messages WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, q, sessionID, limitOrDefault(n))
	if err != nil {
		return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.Timestamp, &m.ResponseID, &m.ParentID); err != nil {
			return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LoadWithAnalysis(ctx context.Context, sessionID string, n int) ([]MessageWithAnalysis, error) {
	const op = "store.PostgresStore.LoadWithAnalysis"
	const q = `
SELECT m.id, m.session_id, m.role, m.content, m.created_at, COALESCE(m.response_id,''), m.parent_id,
       COALESCE(a.salience,0), COALESCE(a.original_salience,0), COALESCE(a.has_embedding,false)
FROM mira_messages m
LEFT JOIN mira_analyses a ON a.message_id = m.id
WHERE m.session_id = $1 ORDER BY m.created_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, q, sessionID, limitOrDefault(n))
	if err != nil {
		return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	defer rows.Close()
	var out []MessageWithAnalysis
	for rows.Next() {
		var row MessageWithAnalysis
		var role string
		if err := rows.Scan(&row.Message.ID, &row.Message.SessionID, &role, &row.Message.Content,
			&row.Message.Timestamp, &row.Message.ResponseID, &row.Message.ParentID,
			&row.Analysis.Salience, &row.Analysis.OriginalSalience, &row.Analysis.HasEmbedding); err != nil {
			return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
		}
		row.Message.Role = Role(role)
		row.Analysis.MessageID = row.Message.ID
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) QueryFactsByScope(ctx context.Context, filter ScopeFilter, extra FactQuery) ([]MemoryFact, error) {
	const op = "store.PostgresStore.QueryFactsByScope"
	predicate, _ := ScopeSQL("f", 1)
	q := fmt.Sprintf(`SELECT f.id, f.project_id, f.key, f.content, f.fact_type, f.category, f.confidence,
	       f.status, f.session_count, f.first_session_id, f.last_session_id, f.user_id, f.scope,
	       f.team_id, f.branch, f.updated_at, f.stale_since, f.suspicious, f.has_embedding
	       FROM mira_facts f WHERE %s`, predicate)
	args := []any{ptrOrZero(filter.UserID), ptrOrZeroInt(filter.ProjectID), ptrOrZeroInt(filter.TeamID)}
	argN := len(args) + 1
	if extra.ExcludeArchived {
		q += " AND f.status != 'archived'"
	}
	if extra.ExcludeSuspicious {
		q += " AND NOT f.suspicious"
	}
	if len(extra.FactTypes) > 0 {
		q += fmt.Sprintf(" AND f.fact_type = ANY($%d)", argN)
		types := make([]string, len(extra.FactTypes))
		for i, t := range extra.FactTypes {
			types[i] = string(t)
		}
		args = append(args, types)
		argN++
	}
	q += " ORDER BY f.updated_at DESC"
	if extra.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, extra.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	defer rows.Close()
	var out []MemoryFact
	for rows.Next() {
		var f MemoryFact
		var factType, status, scope string
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Key, &f.Content, &factType, &f.Category, &f.Confidence,
			&status, &f.SessionCount, &f.FirstSessionID, &f.LastSessionID, &f.UserID, &scope,
			&f.TeamID, &f.Branch, &f.UpdatedAt, &f.StaleSince, &f.Suspicious, &f.HasEmbedding); err != nil {
			return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
		}
		f.FactType, f.Status, f.Scope = FactType(factType), FactStatus(status), Scope(scope)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetFact(ctx context.Context, id uint64) (MemoryFact, error) {
	const op = "store.PostgresStore.GetFact"
	const q = `SELECT id, project_id, key, content, fact_type, category, confidence, status, session_count,
	       first_session_id, last_session_id, user_id, scope, team_id, branch, updated_at, stale_since,
	       suspicious, has_embedding FROM mira_facts WHERE id = $1`
	var f MemoryFact
	var factType, status, scope string
	err := s.pool.QueryRow(ctx, q, id).Scan(&f.ID, &f.ProjectID, &f.Key, &f.Content, &factType, &f.Category,
		&f.Confidence, &status, &f.SessionCount, &f.FirstSessionID, &f.LastSessionID, &f.UserID, &scope,
		&f.TeamID, &f.Branch, &f.UpdatedAt, &f.StaleSince, &f.Suspicious, &f.HasEmbedding)
	if err == pgx.ErrNoRows {
		return MemoryFact{}, miraerr.New(op, miraerr.NotFound, err)
	}
	if err != nil {
		return MemoryFact{}, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	f.FactType, f.Status, f.Scope = FactType(factType), FactStatus(status), Scope(scope)
	return f, nil
}

func (s *PostgresStore) MessageExists(ctx context.Context, id uint64) (bool, error) {
	const op = "store.PostgresStore.MessageExists"
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM mira_messages WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return exists, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id uint64) (Message, error) {
	const op = "store.PostgresStore.GetMessage"
	const q = `SELECT id, session_id, role, content, created_at, COALESCE(response_id,''), parent_id
	           FROM mira_messages WHERE id = $1`
	var m Message
	var role string
	err := s.pool.QueryRow(ctx, q, id).Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.Timestamp, &m.ResponseID, &m.ParentID)
	if err == pgx.ErrNoRows {
		return Message{}, miraerr.New(op, miraerr.NotFound, err)
	}
	if err != nil {
		return Message{}, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	m.Role = Role(role)
	return m, nil
}

func (s *PostgresStore) CleanupInactiveSessions(ctx context.Context, maxAgeSecs int64) (int, error) {
	const op = "store.PostgresStore.CleanupInactiveSessions"
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM mira_sessions WHERE last_activity < now() - ($1 || ' seconds')::interval`, maxAgeSecs)
	if err != nil {
		return 0, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *PostgresStore) AnalysesMissingEmbeddings(ctx context.Context, limit int) ([]Analysis, error) {
	const op = "store.PostgresStore.AnalysesMissingEmbeddings"
	q := `SELECT message_id, COALESCE(routed_to_heads,'{}'), COALESCE(has_embedding,false)
	      FROM mira_analyses WHERE array_length(routed_to_heads,1) > 0 AND NOT has_embedding LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limitOrDefault(limit))
	if err != nil {
		return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	defer rows.Close()
	var out []Analysis
	for rows.Next() {
		var a Analysis
		if err := rows.Scan(&a.MessageID, &a.RoutedToHeads, &a.HasEmbedding); err != nil {
			return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DecaySalience(ctx context.Context, olderThanDays int, decay float64) (int, error) {
	const op = "store.PostgresStore.DecaySalience"
	const q = `
UPDATE mira_analyses SET salience = original_salience * power($2::float8, EXTRACT(EPOCH FROM (now()-last_recalled))/86400.0)
WHERE last_recalled IS NOT NULL AND last_recalled < now() - ($1 || ' days')::interval`
	ct, err := s.pool.Exec(ctx, q, olderThanDays, decay)
	if err != nil {
		return 0, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 50
	}
	return n
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ptrOrZero(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func ptrOrZeroInt(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
