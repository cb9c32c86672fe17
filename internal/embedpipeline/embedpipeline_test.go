package embedpipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conarylabs/mira/internal/chunker"
	"github.com/conarylabs/mira/internal/vectorstore"
)

type fakeEmbedder struct {
	calls int
	dim   int
}

func (f *fakeEmbedder) Dimensions() int        { return f.dim }
func (f *fakeEmbedder) ModelName() string      { return "fake" }
func (f *fakeEmbedder) SetProjectID(string)    {}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestGenerateForHeads_SingleBatchedCallAcrossHeads(t *testing.T) {
	emb := &fakeEmbedder{dim: 1}
	p := New(chunker.HeadChunker{}, emb, vectorstore.NewMemoryStore(), chunker.Options{MaxTokens: 50})

	results, err := p.GenerateForHeads(context.Background(), "hello world, this is a test message", []chunker.Head{chunker.HeadSemantic, chunker.HeadSummary})
	require.NoError(t, err)
	require.Equal(t, 1, emb.calls) // I-9: one batched call regardless of head count
	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, len(r.Chunks), len(r.Vectors))
	}
}

func TestGenerateForHeads_EmptyHeadsShortCircuits(t *testing.T) {
	emb := &fakeEmbedder{dim: 1}
	p := New(chunker.HeadChunker{}, emb, vectorstore.NewMemoryStore(), chunker.Options{})
	results, err := p.GenerateForHeads(context.Background(), "content", nil)
	require.NoError(t, err)
	require.Nil(t, results)
	require.Equal(t, 0, emb.calls)
}

func TestStoreAll_UpsertsEveryHead(t *testing.T) {
	emb := &fakeEmbedder{dim: 1}
	store := vectorstore.NewMemoryStore()
	p := New(chunker.HeadChunker{}, emb, store, chunker.Options{MaxTokens: 50})

	results, err := p.GenerateForHeads(context.Background(), "some content to embed across heads", []chunker.Head{chunker.HeadSemantic, chunker.HeadCode})
	require.NoError(t, err)
	require.NoError(t, p.StoreAll(context.Background(), 1, map[string]string{"session_id": "s1"}, results))

	ids, err := store.ListPointIDs(context.Background(), string(chunker.HeadSemantic))
	require.NoError(t, err)
	require.NotEmpty(t, ids)
}

func TestPointID_FirstChunkIsBareMessageID(t *testing.T) {
	require.Equal(t, uint64(42), PointID(42, 0))
}

func TestPointID_LaterChunksDoNotCollideWithOtherMessages(t *testing.T) {
	// message 1's second chunk must never equal message 2's first chunk.
	require.NotEqual(t, PointID(2, 0), PointID(1, 1))
	require.NotEqual(t, PointID(2, 0), PointID(1, 2))
}
