package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UpsertSearchDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureCollection(ctx, "semantic", 3))

	require.NoError(t, s.Upsert(ctx, "semantic", 1, []float32{1, 0, 0}, map[string]string{"session_id": "s1"}))
	require.NoError(t, s.Upsert(ctx, "semantic", 2, []float32{0, 1, 0}, map[string]string{"session_id": "s2"}))

	results, err := s.Search(ctx, "semantic", []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, uint64(1), results[0].PointID)

	filtered, err := s.Search(ctx, "semantic", []float32{1, 0, 0}, 5, map[string]string{"session_id": "s2"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	require.Equal(t, uint64(2), filtered[0].PointID)
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureCollection(ctx, "code", 2))
	require.NoError(t, s.Delete(ctx, "code", 999))
	require.NoError(t, s.Delete(ctx, "code", 999))
}

func TestMemoryStore_ListPointIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureCollection(ctx, "code", 2))
	require.NoError(t, s.Upsert(ctx, "code", 42, []float32{1, 1}, nil))
	require.NoError(t, s.Upsert(ctx, "code", 7, []float32{2, 2}, nil))

	ids, err := s.ListPointIDs(ctx, "code")
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{7, 42}, ids)
}
