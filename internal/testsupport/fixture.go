package testsupport

import (
	"github.com/conarylabs/mira/internal/chunker"
	"github.com/conarylabs/mira/internal/embedpipeline"
	"github.com/conarylabs/mira/internal/store"
	"github.com/conarylabs/mira/internal/vectorstore"
)

// Fixture bundles the in-memory backends a recall/embedpipeline/reconcile
// test needs, wired together the way production code wires the Postgres and
// Qdrant variants.
type Fixture struct {
	Rel      *store.MemoryStore
	Vec      *vectorstore.MemoryStore
	Embedder *HashEmbedder
	Pipeline *embedpipeline.Pipeline
}

// NewFixture builds a Fixture with a dims-sized HashEmbedder and the
// teacher's default Semantic-head chunking options.
func NewFixture(dims int) *Fixture {
	rel := store.NewMemoryStore()
	vec := vectorstore.NewMemoryStore()
	emb := NewHashEmbedder(dims)
	pipe := embedpipeline.New(chunker.HeadChunker{}, emb, vec, chunker.Options{})
	return &Fixture{Rel: rel, Vec: vec, Embedder: emb, Pipeline: pipe}
}
