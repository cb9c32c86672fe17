// Package sessioncache implements Session State & Prefix Cache (C9):
// per-session static-prefix hashing so repeated calls can reuse a
// provider's prompt cache, plus per-file content hashes so only changed
// files are re-sent.
//
// Grounded on
// original_source/backend/src/cache/session_state_store.rs's
// session_cache_state + session_file_hashes schema and its
// get/upsert/invalidate/cleanup_old_states/get_aggregate_stats operations.
package sessioncache

import "time"

// FileContentHash tracks one file's last-sent content hash within a session.
type FileContentHash struct {
	Path          string
	ContentHash   string
	TokenEstimate int64
	SentAt        time.Time
}

// ContextHashes is the set of hashes that together determine whether a
// session's static prefix is still valid.
type ContextHashes struct {
	ProjectContext    *string
	MemoryContext     *string
	CodeIntelligence  *string
	FileContext       *string
	FileContents      map[string]FileContentHash
}

// State is one session's cache tracking row.
type State struct {
	SessionID               string
	StaticPrefixHash        string
	LastCallAt               time.Time
	ContextHashes            ContextHashes
	StaticPrefixTokens       int64
	LastReportedCachedTokens int64
	TotalRequests            int64
	TotalCachedTokens        int64
}

// CacheHitRate is total_cached_tokens as a fraction of tokens that would
// have been sent without caching (approximated by total_requests *
// static_prefix_tokens, matching the original's reporting metric).
func (s State) CacheHitRate() float64 {
	possible := float64(s.TotalRequests) * float64(s.StaticPrefixTokens)
	if possible <= 0 {
		return 0
	}
	return float64(s.TotalCachedTokens) / possible
}

// AggregateStats mirrors CacheAggregateStats.
type AggregateStats struct {
	TotalSessions     int64
	TotalRequests     int64
	TotalCachedTokens int64
	AvgPrefixTokens   float64
}
