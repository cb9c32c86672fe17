package embedclient

import (
	"context"
	"testing"

	"github.com/conarylabs/mira/internal/miraerr"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	calls    int
	batches  []int
	failN    int // fail the first N calls with ProviderUnavailable
	dim      int
}

func (f *fakeTransport) modelName() string { return "fake" }

func (f *fakeTransport) call(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.batches = append(f.batches, len(texts))
	if f.calls <= f.failN {
		return nil, miraerr.New("fake", miraerr.ProviderUnavailable, context.DeadlineExceeded)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func newFakeEmbedder(ft *fakeTransport) *base {
	return &base{t: ft, dimensions: ft.dim, maxAttempts: 3}
}

func TestEmbedBatch_SplitsAtMaxBatchItems(t *testing.T) {
	ft := &fakeTransport{dim: 4}
	e := newFakeEmbedder(ft)

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = "x"
	}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 250)
	require.Equal(t, []int{100, 100, 50}, ft.batches)
}

func TestEmbedBatch_RetriesTransientFailure(t *testing.T) {
	ft := &fakeTransport{dim: 4, failN: 2}
	e := newFakeEmbedder(ft)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Equal(t, 3, ft.calls)
}

func TestEmbedBatch_DimensionMismatchIsFatal(t *testing.T) {
	ft := &fakeTransport{dim: 4}
	e := newFakeEmbedder(ft)

	_, err := e.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)

	ft.dim = 8
	_, err = e.EmbedBatch(context.Background(), []string{"b"})
	require.Error(t, err)
	require.Equal(t, miraerr.Fatal, miraerr.KindOf(err))
}

func TestEmbedBatch_EmptyShortCircuits(t *testing.T) {
	ft := &fakeTransport{dim: 4}
	e := newFakeEmbedder(ft)

	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vecs)
	require.Equal(t, 0, ft.calls)
}
