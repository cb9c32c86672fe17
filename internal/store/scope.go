package store

import "fmt"

// ScopeSQL composes the (user_id, team_id, project_id, scope) visibility
// tuple into a single SQL predicate, implemented once so every read path
// shares it (spec.md §9 "Multi-tenant visibility must compose into a single
// SQL predicate... never inline per call"). alias is the table alias used in
// the surrounding query (e.g. "f" for memory_facts); argOffset is the pgx
// positional-parameter index to start from.
//
// The predicate allows a row when: it is global scope, OR it is user-scoped
// and owned by the caller's user_id, OR it is project-scoped and the
// caller's project_id matches, OR it is team-scoped and the caller's
// team_id matches.
func ScopeSQL(alias string, argOffset int) (predicate string, args []any) {
	a := alias
	if a != "" {
		a += "."
	}
	predicate = fmt.Sprintf(
		"(%[1]sscope = 'global' "+
			"OR (%[1]sscope = 'user' AND %[1]suser_id = $%[2]d) "+
			"OR (%[1]sscope = 'project' AND %[1]sproject_id = $%[3]d) "+
			"OR (%[1]sscope = 'team' AND %[1]steam_id = $%[4]d))",
		a, argOffset, argOffset+1, argOffset+2,
	)
	return predicate, nil
}

// Matches implements the same predicate in-memory, for the memory-backed
// RelationalStore and for unit tests, so both backends enforce identical
// visibility semantics.
func (f ScopeFilter) Matches(fact MemoryFact) bool {
	switch fact.Scope {
	case ScopeGlobal:
		return true
	case ScopeUser:
		return f.UserID != nil && fact.UserID != nil && *f.UserID == *fact.UserID
	case ScopeProject:
		return f.ProjectID != nil && fact.ProjectID != nil && *f.ProjectID == *fact.ProjectID
	case ScopeTeam:
		return f.TeamID != nil && fact.TeamID != nil && *f.TeamID == *fact.TeamID
	default:
		return false
	}
}
