package operation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conarylabs/mira/internal/objectstore"
)

func TestEngine_StartEmitArtifactComplete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	objs := objectstore.NewMemoryStore()
	seq := NewSequencer()
	engine := NewEngine(store, NewArtifactManager(objs, seq), seq)

	op, err := engine.Start(ctx, "sess-1", "code_generation", "add a helper")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, op.Status)

	artifact, err := engine.EmitArtifact(ctx, op.ID, "code", "pkg/helper.go", "package pkg\n", "go")
	require.NoError(t, err)
	require.True(t, artifact.IsNewFile)
	require.NotEmpty(t, artifact.ContentHash)

	// Second artifact at the same path diffs against current content, not
	// the previous artifact in this operation.
	artifact2, err := engine.EmitArtifact(ctx, op.ID, "code", "pkg/helper.go", "package pkg\n\nfunc Helper() {}\n", "go")
	require.NoError(t, err)
	require.False(t, artifact2.IsNewFile)
	require.NotEmpty(t, artifact2.Diff)

	require.NoError(t, engine.Complete(ctx, op.ID, "done"))

	events, err := store.ListEvents(ctx, op.ID)
	require.NoError(t, err)
	require.Len(t, events, 6) // started, 2x(preview+completed), completed
	for i := 1; i < len(events); i++ {
		require.Greater(t, events[i].SequenceNumber, events[i-1].SequenceNumber)
	}

	final, err := store.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, "done", final.Result)
}

func TestContentHash_Deduplicates(t *testing.T) {
	require.Equal(t, ContentHash("same"), ContentHash("same"))
	require.NotEqual(t, ContentHash("same"), ContentHash("different"))
}

func TestEngine_Fail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seq := NewSequencer()
	engine := NewEngine(store, NewArtifactManager(nil, seq), seq)

	op, err := engine.Start(ctx, "sess-1", "refactor", "rename a symbol")
	require.NoError(t, err)

	require.NoError(t, engine.Fail(ctx, op.ID, errBoom))

	final, err := store.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, final.Status)
	require.Equal(t, errBoom.Error(), final.Error)
}

var errBoom = sentinelErr("boom")
