package rank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }
func i64p(v int64) *int64   { return &v }

func TestApplyBranchBoost_SameBranch(t *testing.T) {
	got := ApplyBranchBoost(1.0, strp("feature-x"), strp("feature-x"))
	require.InDelta(t, 0.85, got, 0.001)
}

func TestApplyBranchBoost_MainOrMaster(t *testing.T) {
	require.InDelta(t, 0.95, ApplyBranchBoost(1.0, strp("main"), strp("feature-x")), 0.001)
	require.InDelta(t, 0.95, ApplyBranchBoost(1.0, strp("master"), strp("feature-x")), 0.001)
}

func TestApplyBranchBoost_DifferentOrNilBranch_NoBoost(t *testing.T) {
	require.InDelta(t, 1.0, ApplyBranchBoost(1.0, strp("feature-y"), strp("feature-x")), 0.001)
	require.InDelta(t, 1.0, ApplyBranchBoost(1.0, nil, strp("feature-x")), 0.001)
	require.InDelta(t, 1.0, ApplyBranchBoost(1.0, strp("feature-x"), nil), 0.001)
}

func TestApplyBranchBoost_SameBranchBeatsMain(t *testing.T) {
	same := ApplyBranchBoost(0.5, strp("feature-x"), strp("feature-x"))
	main := ApplyBranchBoost(0.5, strp("main"), strp("feature-x"))
	require.Less(t, same, main)
}

func TestApplyEntityBoost_CapsAtThreeMatches(t *testing.T) {
	at3 := ApplyEntityBoost(1.0, 3)
	at10 := ApplyEntityBoost(1.0, 10)
	require.InDelta(t, float64(at3), float64(at10), 0.0001)
	require.InDelta(t, 0.729, at3, 0.001)
}

func TestApplyEntityBoost_ZeroMatchesNoChange(t *testing.T) {
	require.Equal(t, float32(1.0), ApplyEntityBoost(1.0, 0))
}

func TestApplyRecencyBoost_RecentGetsNearMaxBoost(t *testing.T) {
	now := time.Now()
	boosted := ApplyRecencyBoost(1.0, &now)
	require.Less(t, boosted, float32(0.96))
	require.Greater(t, boosted, float32(0.94))
}

func TestApplyRecencyBoost_OldMemoryNegligibleBoost(t *testing.T) {
	old := time.Now().AddDate(0, 0, -365)
	boosted := ApplyRecencyBoost(1.0, &old)
	require.Greater(t, boosted, float32(0.99))
}

func TestApplyRecencyBoost_HalfLifeAt90Days(t *testing.T) {
	halfLife := time.Now().AddDate(0, 0, -90)
	boosted := ApplyRecencyBoost(1.0, &halfLife)
	require.Greater(t, boosted, float32(0.97))
	require.Less(t, boosted, float32(0.99))
}

func TestApplyRecencyBoost_NilReturnsUnchanged(t *testing.T) {
	require.Equal(t, float32(0.5), ApplyRecencyBoost(0.5, nil))
}

func TestApplyRecencyBoost_FutureClampedNoNegative(t *testing.T) {
	future := time.Now().AddDate(0, 0, 30)
	boosted := ApplyRecencyBoost(1.0, &future)
	require.Greater(t, boosted, float32(0.0))
	require.Less(t, boosted, float32(1.0))
}

func TestRank_QualityGateDropsHighDistance(t *testing.T) {
	rows := []Row{{ID: 1, Distance: 0.86}, {ID: 2, Distance: 0.5}}
	out := Rank(rows, nil, nil, nil, 10)
	require.Len(t, out, 1)
	require.Equal(t, uint64(2), out[0].ID)
}

func TestRank_TruncatesToLimitAfterBoosting(t *testing.T) {
	rows := []Row{
		{ID: 1, Distance: 0.1}, {ID: 2, Distance: 0.2}, {ID: 3, Distance: 0.3},
	}
	out := Rank(rows, nil, nil, nil, 2)
	require.Len(t, out, 2)
	require.Equal(t, uint64(1), out[0].ID)
}

func TestRank_TeamBoostImprovesRanking(t *testing.T) {
	callerTeam := i64p(5)
	rows := []Row{
		{ID: 1, Distance: 0.5, TeamID: i64p(5)},
		{ID: 2, Distance: 0.5, TeamID: i64p(9)},
	}
	out := Rank(rows, nil, callerTeam, nil, 10)
	require.Equal(t, uint64(1), out[0].ID)
}
