package context

import (
	stdctx "context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAssemble_DropsNearDuplicateSources(t *testing.T) {
	a := New(0, 0)
	sources := []Source{
		{Name: "a", Content: "the quick brown fox jumps over the lazy dog", Priority: 2},
		{Name: "b", Content: "the quick brown fox jumps over the lazy dog today", Priority: 1},
	}
	out := a.Assemble(stdctx.Background(), sources, nil)
	require.Len(t, out.Sources, 1)
	require.Equal(t, "a", out.Sources[0].Name)
	require.Contains(t, out.DroppedNames, "b")
}

func TestAssemble_TruncatesToBudget(t *testing.T) {
	a := New(5, 0)
	sources := []Source{
		{Name: "a", Content: "short", Priority: 2},
		{Name: "b", Content: "this is a much longer piece of content that will not fit", Priority: 1},
	}
	out := a.Assemble(stdctx.Background(), sources, nil)
	require.Len(t, out.Sources, 1)
	require.Equal(t, "a", out.Sources[0].Name)
}

func TestAssemble_OraclePopulatesHintWhenFast(t *testing.T) {
	a := New(0, 0)
	oracle := func(ctx stdctx.Context, srcs []Source) (string, error) {
		return "hint", nil
	}
	out := a.Assemble(stdctx.Background(), []Source{{Name: "a", Content: "x"}}, oracle)
	require.Equal(t, "hint", out.OracleHint)
}

func TestAssemble_OracleNeverBlocksOnTimeout(t *testing.T) {
	a := New(0, 0)
	oracle := func(ctx stdctx.Context, srcs []Source) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return "too late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	start := time.Now()
	out := a.Assemble(stdctx.Background(), []Source{{Name: "a", Content: "x"}}, oracle)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Empty(t, out.OracleHint)
}

func TestAssemble_OracleErrorYieldsEmptyHint(t *testing.T) {
	a := New(0, 0)
	oracle := func(ctx stdctx.Context, srcs []Source) (string, error) {
		return "", errors.New("boom")
	}
	out := a.Assemble(stdctx.Background(), []Source{{Name: "a", Content: "x"}}, oracle)
	require.Empty(t, out.OracleHint)
}
