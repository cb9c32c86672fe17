package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertMessage_IDUniqueAndPositive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seen := map[uint64]bool{}
	for i := 0; i < 50; i++ {
		id, err := s.InsertMessage(ctx, Message{SessionID: "s1", Role: RoleUser, Content: "hi"})
		require.NoError(t, err)
		require.Greater(t, id, uint64(0))
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestInsertMessage_ThenLoadRecentRoundTrips(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.InsertMessage(ctx, Message{SessionID: "s1", Role: RoleUser, Content: "hello"})
	require.NoError(t, err)

	msgs, err := s.LoadRecent(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, id, msgs[0].ID)
	require.Equal(t, "hello", msgs[0].Content)
}

func TestUpsertAnalysis_PreservesOriginalSalience(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.InsertMessage(ctx, Message{SessionID: "s1", Role: RoleUser, Content: "x"})
	require.NoError(t, err)

	require.NoError(t, s.UpsertAnalysis(ctx, Analysis{MessageID: id, Salience: 0.7}))
	require.NoError(t, s.UpsertAnalysis(ctx, Analysis{MessageID: id, Salience: 0.2}))
	require.NoError(t, s.UpsertAnalysis(ctx, Analysis{MessageID: id, Salience: 0.9}))

	rows, err := s.LoadWithAnalysis(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, float32(0.7), rows[0].Analysis.OriginalSalience)
	require.Equal(t, float32(0.9), rows[0].Analysis.Salience)
}

func TestUpsertAnalysis_IdempotentOnIdenticalInput(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.InsertMessage(ctx, Message{SessionID: "s1", Role: RoleUser, Content: "x"})
	require.NoError(t, err)

	a := Analysis{MessageID: id, Salience: 0.5}
	require.NoError(t, s.UpsertAnalysis(ctx, a))
	require.NoError(t, s.UpsertAnalysis(ctx, a))

	rows, err := s.LoadWithAnalysis(ctx, "s1", 1)
	require.NoError(t, err)
	require.Equal(t, float32(0.5), rows[0].Analysis.Salience)
}

func TestFactPromotion_IsMonotonic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := "k1"
	id, err := s.InsertOrUpsertFact(ctx, MemoryFact{Key: &key, Content: "fact", Confidence: 0.9, Scope: ScopeGlobal})
	require.NoError(t, err)

	f, err := s.GetFact(ctx, id)
	require.NoError(t, err)
	require.Equal(t, FactConfirmed, f.Status)

	// A later low-confidence write to the same key must not revert it.
	_, err = s.InsertOrUpsertFact(ctx, MemoryFact{Key: &key, Content: "fact updated", Confidence: 0.1, Scope: ScopeGlobal})
	require.NoError(t, err)

	f2, err := s.GetFact(ctx, id)
	require.NoError(t, err)
	require.Equal(t, FactConfirmed, f2.Status)
}

func TestUpdateFactStatusOnAccess_PromotesAfterThreeSessions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, err := s.InsertOrUpsertFact(ctx, MemoryFact{Content: "fact", Confidence: 0.1, Scope: ScopeGlobal, LastSessionID: "s0"})
	require.NoError(t, err)

	for _, sid := range []string{"s1", "s2", "s3"} {
		require.NoError(t, s.UpdateFactStatusOnAccess(ctx, id, sid))
	}
	f, err := s.GetFact(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 3, f.SessionCount)
	require.Equal(t, FactConfirmed, f.Status)
}

func TestScopeFilter_Matches(t *testing.T) {
	uid := "u1"
	pid := int64(7)
	tid := int64(3)
	filter := ScopeFilter{UserID: &uid, ProjectID: &pid, TeamID: &tid}

	require.True(t, filter.Matches(MemoryFact{Scope: ScopeGlobal}))
	require.True(t, filter.Matches(MemoryFact{Scope: ScopeUser, UserID: &uid}))
	require.False(t, filter.Matches(MemoryFact{Scope: ScopeUser, UserID: strPtr("other")}))
	require.True(t, filter.Matches(MemoryFact{Scope: ScopeProject, ProjectID: &pid}))
	require.True(t, filter.Matches(MemoryFact{Scope: ScopeTeam, TeamID: &tid}))
}

func strPtr(s string) *string { return &s }
