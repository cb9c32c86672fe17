// Package recall implements the Recall Engine (C7): Recent, Semantic,
// Hybrid, and MultiHead retrieval modes over the Relational Store and
// Vector Multi-Store, with keyword fallback when no query embedding is
// available.
//
// Grounded on
// original_source/crates/mira-server/src/db/memory/recall.rs:
// recall_semantic_with_entity_boost_sync (fetch_limit = min(2*limit,100),
// quality gate before boosting) and search_memories_sync (keyword
// extraction: words > 3 chars, up to 5, ranked by match count then
// recency).
package recall

import (
	"context"
	"sort"
	"strings"

	"github.com/conarylabs/mira/internal/chunker"
	"github.com/conarylabs/mira/internal/miraerr"
	"github.com/conarylabs/mira/internal/rank"
	"github.com/conarylabs/mira/internal/store"
	"github.com/conarylabs/mira/internal/vectorstore"
)

// Mode selects a retrieval strategy.
type Mode string

const (
	ModeRecent    Mode = "recent"
	ModeSemantic  Mode = "semantic"
	ModeHybrid    Mode = "hybrid"
	ModeMultiHead Mode = "multi_head"
)

// Query bundles every input a recall strategy might need.
type Query struct {
	SessionID         string
	Text              string
	Embedding         []float32
	Heads             []chunker.Head
	Scope             store.ScopeFilter
	CurrentBranch     *string
	CallerTeamID      *int64
	EntityMatchCounts map[uint64]int
	Limit             int
}

// Engine executes recall modes against the Relational Store and the Vector
// Multi-Store.
type Engine struct {
	Rel store.RelationalStore
	Vec vectorstore.Store
}

func New(rel store.RelationalStore, vec vectorstore.Store) *Engine {
	return &Engine{Rel: rel, Vec: vec}
}

// fetchLimit widens the candidate set so boosting can re-rank within it
// before truncation, matching recall.rs's "(limit * 2).min(100)".
func fetchLimit(limit int) int {
	fl := limit * 2
	if fl > 100 {
		fl = 100
	}
	if fl < limit {
		fl = limit
	}
	return fl
}

// Recall dispatches to the requested mode and returns ranked, truncated rows.
func (e *Engine) Recall(ctx context.Context, mode Mode, q Query) ([]rank.Row, error) {
	const op = "recall.Engine.Recall"
	switch mode {
	case ModeRecent:
		return e.recallRecent(ctx, q)
	case ModeSemantic:
		return e.recallSemantic(ctx, q, chunker.HeadSemantic)
	case ModeHybrid:
		return e.recallHybrid(ctx, q)
	case ModeMultiHead:
		return e.recallMultiHead(ctx, q)
	default:
		return nil, miraerr.New(op, miraerr.Validation, errUnknownMode(mode))
	}
}

type errUnknownMode Mode

func (e errUnknownMode) Error() string { return "unknown recall mode: " + string(e) }

func (e *Engine) recallRecent(ctx context.Context, q Query) ([]rank.Row, error) {
	const op = "recall.Engine.recallRecent"
	msgs, err := e.Rel.LoadRecent(ctx, q.SessionID, fetchLimit(q.Limit))
	if err != nil {
		return nil, miraerr.New(op, miraerr.KindOf(err), err)
	}
	rows := make([]rank.Row, 0, len(msgs))
	for _, m := range msgs {
		ts := m.Timestamp
		rows = append(rows, rank.Row{ID: m.ID, Content: m.Content, UpdatedAt: &ts})
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// recallSemantic implements recall_semantic_with_entity_boost_sync: vector
// search on one head, hydrate each hit's fact metadata, filter to
// user-fact-types / non-archived / non-suspicious, then hand off to rank.Rank
// for the quality gate + boost + truncate sequence.
func (e *Engine) recallSemantic(ctx context.Context, q Query, head chunker.Head) ([]rank.Row, error) {
	const op = "recall.Engine.recallSemantic"
	if len(q.Embedding) == 0 {
		return e.recallKeyword(ctx, q)
	}

	fl := fetchLimit(q.Limit)
	hits, err := e.Vec.Search(ctx, string(head), q.Embedding, fl, nil)
	if err != nil {
		return nil, miraerr.New(op, miraerr.KindOf(err), err)
	}

	userTypes := make(map[store.FactType]bool, len(store.UserFactTypes))
	for _, t := range store.UserFactTypes {
		userTypes[t] = true
	}

	rows := make([]rank.Row, 0, len(hits))
	for _, h := range hits {
		fact, err := e.Rel.GetFact(ctx, h.PointID)
		if err != nil {
			continue // fact deleted after the vector write: skip, Reconciler handles the orphan (I-4)
		}
		if !q.Scope.Matches(fact) || !userTypes[fact.FactType] || fact.Status == store.FactArchived || fact.Suspicious {
			continue
		}
		rows = append(rows, factToRow(fact, float32(h.Score)))
	}

	return rank.Rank(rows, q.CurrentBranch, q.CallerTeamID, q.EntityMatchCounts, q.Limit), nil
}

func factToRow(f store.MemoryFact, distance float32) rank.Row {
	row := rank.Row{
		ID:       f.ID,
		Content:  f.Content,
		Distance: distance,
		Branch:   f.Branch,
		TeamID:   f.TeamID,
		FactType: string(f.FactType),
		Category: f.Category,
		Status:   string(f.Status),
	}
	if !f.UpdatedAt.IsZero() {
		t := f.UpdatedAt
		row.UpdatedAt = &t
	}
	row.StaleSince = f.StaleSince
	return row
}

func (e *Engine) recallHybrid(ctx context.Context, q Query) ([]rank.Row, error) {
	recent, err := e.recallRecent(ctx, Query{SessionID: q.SessionID, Limit: fetchLimit(q.Limit)})
	if err != nil {
		return nil, err
	}
	semantic, err := e.recallSemantic(ctx, q, chunker.HeadSemantic)
	if err != nil {
		return nil, err
	}
	fused := fuseRows(recent, semantic)
	if q.Limit > 0 && len(fused) > q.Limit {
		fused = fused[:q.Limit]
	}
	return fused, nil
}

func (e *Engine) recallMultiHead(ctx context.Context, q Query) ([]rank.Row, error) {
	heads := q.Heads
	if len(heads) == 0 {
		heads = []chunker.Head{chunker.HeadSemantic}
	}
	perHead := make([][]rank.Row, 0, len(heads))
	for _, h := range heads {
		rows, err := e.recallSemantic(ctx, q, h)
		if err != nil {
			return nil, err
		}
		perHead = append(perHead, rows)
	}
	if len(perHead) == 1 {
		return perHead[0], nil
	}
	return fuseRows(perHead[0], perHead[1:]...), nil
}

// fuseRows fuses two or more ranked row lists by RRF over their ids, then
// re-hydrates content from whichever source first produced each id.
func fuseRows(first []rank.Row, rest ...[]rank.Row) []rank.Row {
	byID := make(map[uint64]rank.Row)
	lists := make([][]uint64, 0, 1+len(rest))

	addList := func(rows []rank.Row) {
		ids := make([]uint64, 0, len(rows))
		for _, r := range rows {
			if _, ok := byID[r.ID]; !ok {
				byID[r.ID] = r
			}
			ids = append(ids, r.ID)
		}
		lists = append(lists, ids)
	}
	addList(first)
	for _, r := range rest {
		addList(r)
	}

	fusedIDs := fuseRRF(lists...)
	out := make([]rank.Row, 0, len(fusedIDs))
	for _, id := range fusedIDs {
		out = append(out, byID[id])
	}
	return out
}

// recallKeyword is the fallback path when no query embedding is available,
// grounded on search_memories_sync: tokens > 3 chars, up to 5, scored by
// match count then recency. Our RelationalStore has no raw LIKE search, so
// candidates come from QueryFactsByScope and are scored locally -- the
// match-count/recency ranking contract is identical even though the
// candidate fetch is no longer a SQL LIKE scan.
func (e *Engine) recallKeyword(ctx context.Context, q Query) ([]rank.Row, error) {
	const op = "recall.Engine.recallKeyword"
	keywords := extractKeywords(q.Text)

	candidates, err := e.Rel.QueryFactsByScope(ctx, q.Scope, store.FactQuery{
		ExcludeArchived:   true,
		ExcludeSuspicious: true,
		FactTypes:         store.UserFactTypes,
	})
	if err != nil {
		return nil, miraerr.New(op, miraerr.KindOf(err), err)
	}

	type scored struct {
		fact  store.MemoryFact
		count int
	}
	var out []scored
	for _, f := range candidates {
		if len(keywords) == 0 {
			if strings.Contains(strings.ToLower(f.Content), strings.ToLower(q.Text)) {
				out = append(out, scored{fact: f, count: 1})
			}
			continue
		}
		count := 0
		lower := strings.ToLower(f.Content)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				count++
			}
		}
		if count > 0 {
			out = append(out, scored{fact: f, count: count})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].fact.UpdatedAt.After(out[j].fact.UpdatedAt)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = len(out)
	}
	if limit > len(out) {
		limit = len(out)
	}
	rows := make([]rank.Row, 0, limit)
	for _, s := range out[:limit] {
		rows = append(rows, factToRow(s.fact, 0))
	}
	return rows, nil
}

// extractKeywords mirrors search_memories_sync: words longer than 3 chars,
// lower-cased, capped at 5.
func extractKeywords(query string) []string {
	var out []string
	for _, w := range strings.Fields(query) {
		if len(w) > 3 {
			out = append(out, strings.ToLower(w))
		}
		if len(out) == 5 {
			break
		}
	}
	return out
}
