package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conarylabs/mira/internal/classifier"
	"github.com/conarylabs/mira/internal/config"
	"github.com/conarylabs/mira/internal/objectstore"
	"github.com/conarylabs/mira/internal/operation"
	"github.com/conarylabs/mira/internal/recall"
	"github.com/conarylabs/mira/internal/testsupport"
	"github.com/conarylabs/mira/internal/transport"
)

func TestWire_MemoryBackends(t *testing.T) {
	cfg := config.Defaults()
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.APIKey = "test-key"
	cfg.Embedding.Dimensions = 8

	deps, err := wire(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, deps.rel)
	require.NotNil(t, deps.vec)
	require.NotNil(t, deps.recallEng)
	require.NotNil(t, deps.cache)
	require.NotNil(t, deps.reconciler)
	require.Nil(t, deps.tracker) // no postgres DSN configured

	d, methods := buildDispatcher(deps)
	require.ElementsMatch(t, []string{transport.MethodRemember, transport.MethodRecall}, methods)

	result := d.Dispatch(context.Background(), transport.ToolCall{
		Method: transport.MethodRecall,
		Params: []byte(`{"session_id":"s1","query":"hello","mode":"recent"}`),
	})
	require.Nil(t, result.Error)

	deps.Close()
}

// TestBuildDispatcher_RememberRoutesThroughClassifyAndEmbed exercises the
// "remember" method end to end against in-memory backends (a HashEmbedder
// stands in for a real provider, same as the reconcile/embedpipeline
// package tests).
func TestBuildDispatcher_RememberRoutesThroughClassifyAndEmbed(t *testing.T) {
	fx := testsupport.NewFixture(8)
	seq := operation.NewSequencer()
	engine := operation.NewEngine(operation.NewMemoryStore(), operation.NewArtifactManager(objectstore.NewMemoryStore(), seq), seq)

	deps := &components{
		rel:        fx.Rel,
		vec:        fx.Vec,
		pipeline:   fx.Pipeline,
		classifier: classifier.NewHeuristicClassifier(classifier.DefaultConfig()),
		recallEng:  recall.New(fx.Rel, fx.Vec),
		engine:     engine,
		ops:        newSessionOpIndex(),
	}

	d, _ := buildDispatcher(deps)
	result := d.Dispatch(context.Background(), transport.ToolCall{
		Method: transport.MethodRemember,
		Params: []byte(`{"session_id":"s1","role":"user","content":"we decided that the deploy key rotates weekly and is stored in the vault going forward for every environment we run in production and staging","project_id":"p1"}`),
	})
	require.Nil(t, result.Error)
	require.NotEmpty(t, result.Data)

	opID, ok := deps.ops.get("s1")
	require.True(t, ok)
	require.NotEmpty(t, opID)
}
