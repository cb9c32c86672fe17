package recall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conarylabs/mira/internal/chunker"
	"github.com/conarylabs/mira/internal/store"
	"github.com/conarylabs/mira/internal/vectorstore"
)

func TestRecallRecent_ReturnsMessagesNewestFirst(t *testing.T) {
	rel := store.NewMemoryStore()
	ctx := context.Background()
	_, err := rel.InsertMessage(ctx, store.Message{SessionID: "s1", Role: store.RoleUser, Content: "first"})
	require.NoError(t, err)
	_, err = rel.InsertMessage(ctx, store.Message{SessionID: "s1", Role: store.RoleUser, Content: "second"})
	require.NoError(t, err)

	eng := New(rel, vectorstore.NewMemoryStore())
	rows, err := eng.Recall(ctx, ModeRecent, Query{SessionID: "s1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "second", rows[0].Content)
}

func TestRecallKeyword_ScoresByMatchCountThenRecency(t *testing.T) {
	rel := store.NewMemoryStore()
	ctx := context.Background()
	_, err := rel.InsertOrUpsertFact(ctx, store.MemoryFact{Content: "likes pizza and coffee", FactType: store.FactPreference, Scope: store.ScopeGlobal})
	require.NoError(t, err)
	_, err = rel.InsertOrUpsertFact(ctx, store.MemoryFact{Content: "likes pizza only", FactType: store.FactPreference, Scope: store.ScopeGlobal})
	require.NoError(t, err)

	eng := New(rel, vectorstore.NewMemoryStore())
	rows, err := eng.Recall(ctx, ModeSemantic, Query{Text: "pizza coffee", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	require.Contains(t, rows[0].Content, "coffee") // two keyword matches should rank first
}

func TestRecallMultiHead_SingleHeadShortCircuits(t *testing.T) {
	rel := store.NewMemoryStore()
	vec := vectorstore.NewMemoryStore()
	ctx := context.Background()
	id, err := rel.InsertOrUpsertFact(ctx, store.MemoryFact{Content: "x", FactType: store.FactGeneral, Scope: store.ScopeGlobal})
	require.NoError(t, err)
	require.NoError(t, vec.EnsureCollection(ctx, string(chunker.HeadSemantic), 2))
	require.NoError(t, vec.Upsert(ctx, string(chunker.HeadSemantic), id, []float32{1, 0}, nil))

	eng := New(rel, vec)
	rows, err := eng.Recall(ctx, ModeMultiHead, Query{Embedding: []float32{1, 0}, Heads: []chunker.Head{chunker.HeadSemantic}, Limit: 5})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
