// Package testsupport provides deterministic in-memory fakes for the memory
// core's tests: a hash-based embedder and pre-wired store/vectorstore pairs,
// replacing hand-rolled fakes so every package tests against the same
// doubles.
//
// Grounded on the teacher's internal/testhelpers/fakes.go fake-provider
// pattern, rewritten against this module's Embedder/RelationalStore/
// vectorstore.Store interfaces instead of the teacher's LLM client.
package testsupport

import (
	"context"
	"hash/fnv"
)

// HashEmbedder is a deterministic Embedder: it hashes each text into a
// dims-length vector, so identical input always produces identical output
// and different input (almost always) produces different vectors, which is
// enough to exercise nearest-neighbor search without a real provider.
type HashEmbedder struct {
	dims  int
	model string
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 8
	}
	return &HashEmbedder{dims: dims, model: "testsupport-hash"}
}

func (e *HashEmbedder) Dimensions() int     { return e.dims }
func (e *HashEmbedder) ModelName() string   { return e.model }
func (e *HashEmbedder) SetProjectID(string) {}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dims)
	h := fnv.New64a()
	seed := uint64(0)
	for i := range v {
		h.Reset()
		_, _ = h.Write([]byte{byte(i), byte(i >> 8)})
		_, _ = h.Write([]byte(text))
		seed = h.Sum64()
		// Map to [-1, 1] so cosine similarity behaves sensibly.
		v[i] = float32(int64(seed%2001)-1000) / 1000
	}
	return v
}
