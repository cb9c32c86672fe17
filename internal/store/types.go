// Package store implements the Relational Store (C3): durable Message,
// Analysis, MemoryFact and Session rows. Session cache state, operations
// with their events and artifacts, and the budget ledger are persisted by
// their own packages (sessioncache, operation, budget).
package store

import "time"

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is immutable once created (spec.md §3, I-1: id unique process-wide
// and positive).
type Message struct {
	ID         uint64
	SessionID  string
	Role       Role
	Content    string
	Timestamp  time.Time
	ResponseID string
	ParentID   *uint64
}

// Analysis is one-to-one with Message. OriginalSalience is set on first
// insert and never rewritten afterward (I-2); decay mutates Salience only.
type Analysis struct {
	MessageID          uint64
	Mood               string
	Intensity          float32
	Salience           float32
	OriginalSalience    float32
	Intent              string
	Topics              []string
	Summary             string
	RelationshipImpact  string
	ContainsCode        bool
	Language            string
	ProgrammingLang     string
	AnalysisVersion     int
	RoutedToHeads       []string
	HasEmbedding        bool
	AnalyzedAt          time.Time
	LastRecalled        *time.Time
	RecallCount         int
}

// FactType enumerates the kinds of MemoryFact.
type FactType string

const (
	FactGeneral    FactType = "general"
	FactPreference FactType = "preference"
	FactDecision   FactType = "decision"
	FactPattern    FactType = "pattern"
	FactContext    FactType = "context"
	FactPersona    FactType = "persona"
	FactSystem     FactType = "system"
	FactCapability FactType = "capability"
	FactHealth     FactType = "health"
)

// UserFactTypes are the fact_types eligible for semantic recall (spec.md
// §4.7 "user-fact types"), grounded on original_source's USER_FACT_TYPES_SQL.
var UserFactTypes = []FactType{FactGeneral, FactPreference, FactDecision, FactPattern, FactContext, FactPersona}

// FactStatus is the promotion lifecycle state of a MemoryFact (I-3).
type FactStatus string

const (
	FactCandidate FactStatus = "candidate"
	FactConfirmed FactStatus = "confirmed"
	FactArchived  FactStatus = "archived"
)

// Scope is the visibility tuple tag on a MemoryFact.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeUser    Scope = "user"
	ScopeProject Scope = "project"
	ScopeTeam    Scope = "team"
)

// MemoryFact is a durable, deduplicated knowledge unit used across sessions.
type MemoryFact struct {
	ID             uint64
	ProjectID      *int64
	Key            *string
	Content        string
	FactType       FactType
	Category       string
	Confidence     float32
	Status         FactStatus
	SessionCount   int
	FirstSessionID string
	LastSessionID  string
	UserID         *string
	Scope          Scope
	TeamID         *int64
	Branch         *string
	UpdatedAt      time.Time
	StaleSince     *time.Time
	Suspicious     bool
	HasEmbedding   bool
}

// IsConfirmed implements I-3's promotion rule.
func (f MemoryFact) IsConfirmed() bool {
	return f.SessionCount >= 3 || f.Confidence >= 0.8
}

// Session tracks a conversational stream's counters (I-5).
type Session struct {
	SessionID       string
	CreatedAt       time.Time
	LastActivity    time.Time
	TotalMessages   int
	TotalSummaries  int
	Active          bool
	MessageCounter  int
}

// ScopeFilter composes the multi-tenant visibility predicate of spec.md §9
// "Multi-tenant visibility". It must be built once and reused by every read
// path rather than inlined per call.
type ScopeFilter struct {
	UserID    *string
	TeamID    *int64
	ProjectID *int64
}
