// Package vectorstore implements the Vector Multi-Store (C4): N named
// collections, one per embedding head, with cosine (or configured metric)
// similarity search. Point ids are borrowed from the relational store
// (spec.md §3 Ownership) — this package never invents an id.
package vectorstore

import "context"

// Result is a single nearest-neighbor hit.
type Result struct {
	PointID  uint64
	Score    float64 // distance under the configured metric; smaller is closer for cosine distance
	Payload  map[string]string
}

// Store is the per-head vector collection abstraction (spec.md §4.4).
type Store interface {
	// EnsureCollection is idempotent.
	EnsureCollection(ctx context.Context, head string, dim int) error
	// Upsert writes with wait=true semantics: the point is visible to the
	// next Search call before Upsert returns.
	Upsert(ctx context.Context, head string, pointID uint64, vector []float32, payload map[string]string) error
	// Search returns up to k nearest neighbors honoring filter (exact-match
	// AND over payload fields).
	Search(ctx context.Context, head string, query []float32, k int, filter map[string]string) ([]Result, error)
	// Delete is best-effort idempotent: deleting a missing point is not an
	// error (R-3).
	Delete(ctx context.Context, head string, pointID uint64) error
	// ListPointIDs supports the Reconciler's orphan-purge sweep (I-4).
	ListPointIDs(ctx context.Context, head string) ([]uint64, error)
	Close() error
}

// RequiredPayloadFields lists the payload keys that must accompany every
// point so scope filters can run server-side (I-8).
var RequiredPayloadFields = []string{"session_id", "project_id", "team_id", "branch", "fact_type"}
