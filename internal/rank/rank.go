// Package rank implements the Ranker (C8): boost functions applied to raw
// vector-search distances, plus the quality gate and truncation around them.
//
// Grounded exactly on
// original_source/crates/mira-server/src/db/memory/ranking.rs: constants,
// formulas, and boost-composition order are taken verbatim from that file.
// Smaller distance is better throughout.
package rank

import (
	"math"
	"sort"
	"time"
)

const (
	// EntityMatchBoost is the per-entity-match multiplier (10% per match).
	EntityMatchBoost = 0.90
	// MaxEntityBoostMatches caps the number of matches the boost compounds over.
	MaxEntityBoostMatches = 3
	// SameBranchBoost rewards memories authored on the caller's current branch.
	SameBranchBoost = 0.85
	// MainBranchBoost rewards memories authored on main/master.
	MainBranchBoost = 0.95
	// TeamScopeBoost rewards memories shared with the caller's team.
	TeamScopeBoost = 0.90
	// QualityGateDistance drops raw-distance matches at or above this threshold
	// before any boost is applied.
	QualityGateDistance = 0.85
	// recencyHalfLifeDays and recencyMaxBoost parametrize apply_recency_boost's
	// "distance * (1 - 0.05 * exp(-days_ago/90))" formula.
	recencyHalfLifeDays = 90.0
	recencyMaxBoost     = 0.05
	// stalenessKneeDays and stalenessMaxPenalty resolve SPEC_FULL.md's Open
	// Question: original_source references apply_staleness_penalty but the
	// retrieval pack doesn't carry its body, so this picks a 14-day knee
	// (linear ramp to a 30% distance penalty, then flat) as a conservative,
	// documented default (see DESIGN.md).
	stalenessKneeDays  = 14.0
	stalenessMaxPenalty = 0.30
)

// Row is the scored candidate shape recall feeds into the ranker, mirroring
// RecallRow's inlined-metadata fields (avoids N+1 lookups during ranking).
type Row struct {
	ID         uint64
	Content    string
	Distance   float32
	Branch     *string
	TeamID     *int64
	FactType   string
	Category   string
	Status     string
	UpdatedAt  *time.Time
	StaleSince *time.Time
}

// ApplyEntityBoost reduces distance by up to 3 compounded 10% steps.
func ApplyEntityBoost(distance float32, matchCount int) float32 {
	if matchCount <= 0 {
		return distance
	}
	capped := matchCount
	if capped > MaxEntityBoostMatches {
		capped = MaxEntityBoostMatches
	}
	return distance * float32(math.Pow(EntityMatchBoost, float64(capped)))
}

// ApplyBranchBoost boosts same-branch and main/master memories.
func ApplyBranchBoost(distance float32, memoryBranch, currentBranch *string) float32 {
	if memoryBranch != nil && currentBranch != nil && *memoryBranch == *currentBranch {
		return distance * SameBranchBoost
	}
	if memoryBranch != nil && (*memoryBranch == "main" || *memoryBranch == "master") {
		return distance * MainBranchBoost
	}
	return distance
}

// ApplyTeamBoost boosts memories shared with the caller's team.
func ApplyTeamBoost(distance float32, memoryTeamID, callerTeamID *int64) float32 {
	if callerTeamID != nil && memoryTeamID != nil && *memoryTeamID == *callerTeamID {
		return distance * TeamScopeBoost
	}
	return distance
}

// ApplyRecencyBoost applies up to a 5% distance reduction with a 90-day
// half-life, clamping future timestamps (clock skew) to zero days-ago.
func ApplyRecencyBoost(distance float32, updatedAt *time.Time) float32 {
	if updatedAt == nil {
		return distance
	}
	daysAgo := time.Since(*updatedAt).Hours() / 24
	if daysAgo < 0 {
		daysAgo = 0
	}
	boost := 1.0 - recencyMaxBoost*math.Exp(-daysAgo/recencyHalfLifeDays)
	return distance * float32(boost)
}

// ApplyStalenessPenalty increases distance for memories whose linked code
// has drifted since the memory was recorded (stale_since set). Linear ramp
// from 0 at day 0 to stalenessMaxPenalty at stalenessKneeDays, flat after.
func ApplyStalenessPenalty(distance float32, staleSince *time.Time) float32 {
	if staleSince == nil {
		return distance
	}
	daysStale := time.Since(*staleSince).Hours() / 24
	if daysStale < 0 {
		daysStale = 0
	}
	ratio := daysStale / stalenessKneeDays
	if ratio > 1 {
		ratio = 1
	}
	return distance * float32(1.0+stalenessMaxPenalty*ratio)
}

// Rank filters rows below the quality gate, applies every boost (order is
// commutative -- each is an independent multiplicative factor, resolving
// SPEC_FULL.md's Open Question on simultaneous-boost ordering), sorts
// ascending by distance, and truncates to limit.
func Rank(rows []Row, currentBranch *string, callerTeamID *int64, entityMatchCounts map[uint64]int, limit int) []Row {
	filtered := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.Distance >= QualityGateDistance {
			continue
		}
		filtered = append(filtered, r)
	}

	for i := range filtered {
		r := &filtered[i]
		r.Distance = ApplyBranchBoost(r.Distance, r.Branch, currentBranch)
		if mc, ok := entityMatchCounts[r.ID]; ok {
			r.Distance = ApplyEntityBoost(r.Distance, mc)
		}
		r.Distance = ApplyTeamBoost(r.Distance, r.TeamID, callerTeamID)
		r.Distance = ApplyRecencyBoost(r.Distance, r.UpdatedAt)
		r.Distance = ApplyStalenessPenalty(r.Distance, r.StaleSince)
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Distance < filtered[j].Distance })
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}
