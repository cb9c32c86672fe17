package store

import "context"

// RelationalStore is the C3 contract (spec.md §4.3).
type RelationalStore interface {
	// InsertMessage is atomic; it increments Session.MessageCounter for
	// m.SessionID (I-5) and returns the assigned positive id (I-1).
	InsertMessage(ctx context.Context, m Message) (uint64, error)

	// UpsertAnalysis preserves OriginalSalience on conflict (I-2, R-2
	// idempotent on identical input).
	UpsertAnalysis(ctx context.Context, a Analysis) error

	// InsertOrUpsertFact enforces the (ProjectID, Key) uniqueness when Key
	// is present and returns the resulting id.
	InsertOrUpsertFact(ctx context.Context, f MemoryFact) (uint64, error)

	// UpdateFactStatusOnAccess conditionally bumps SessionCount when the
	// touching session differs from LastSessionID, applying I-3 promotion.
	// It must only be called when the fact is actually used in a prompt,
	// never during search (spec.md §4.7 Access tracking).
	UpdateFactStatusOnAccess(ctx context.Context, factID uint64, sessionID string) error

	// LoadRecent returns the n most recent messages for session, timestamp
	// desc (R-1: InsertMessage then LoadRecent(session,1) returns it).
	LoadRecent(ctx context.Context, sessionID string, n int) ([]Message, error)

	// LoadWithAnalysis is a join returning full enriched rows.
	LoadWithAnalysis(ctx context.Context, sessionID string, n int) ([]MessageWithAnalysis, error)

	// QueryFactsByScope composes ScopeFilter into a single allow-list
	// predicate (spec.md §9).
	QueryFactsByScope(ctx context.Context, filter ScopeFilter, extra FactQuery) ([]MemoryFact, error)

	// GetFact loads a single fact by id.
	GetFact(ctx context.Context, id uint64) (MemoryFact, error)

	// MessageExists reports whether a message row with this id exists,
	// letting the Reconciler's orphan-vector sweep recognize message-keyed
	// vector points (spec.md §4.6 step 6) in addition to fact-keyed ones.
	MessageExists(ctx context.Context, id uint64) (bool, error)

	// GetMessage loads a single message by id, letting the embedding
	// backfill sweep recover the owning SessionID it needs to build an
	// I-8-compliant vector payload from a bare Analysis row.
	GetMessage(ctx context.Context, id uint64) (Message, error)

	// CleanupInactiveSessions drops sessions whose last activity is older
	// than maxAgeSecs and returns the number removed. Session cache state
	// (internal/sessioncache) is not touched.
	CleanupInactiveSessions(ctx context.Context, maxAgeSecs int64) (int, error)

	// AnalysesMissingEmbeddings supports the Reconciler's embedding
	// backfill sweep: analysis rows with non-empty RoutedToHeads but
	// HasEmbedding=false.
	AnalysesMissingEmbeddings(ctx context.Context, limit int) ([]Analysis, error)

	// DecaySalience applies spec.md §4.10's salience-decay sweep.
	DecaySalience(ctx context.Context, olderThanDays int, decay float64) (int, error)

	GetSession(ctx context.Context, sessionID string) (Session, error)
	EnsureSession(ctx context.Context, sessionID string) (Session, error)

	Close() error
}

// MessageWithAnalysis is a joined row for LoadWithAnalysis.
type MessageWithAnalysis struct {
	Message
	Analysis Analysis
}

// FactQuery further narrows QueryFactsByScope beyond the scope tuple.
type FactQuery struct {
	ExcludeArchived   bool
	ExcludeSuspicious bool
	FactTypes         []FactType
	Limit             int
}
