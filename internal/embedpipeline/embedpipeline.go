// Package embedpipeline implements the Embedding Pipeline (C6): the fan
// chunks-across-heads / one batched embed call / regroup-by-head sequence
// that is, per the original's own comment, "the crown jewel of API
// optimization - saves 90% of API calls."
//
// Grounded on original_source/src/memory/features/embedding.rs's
// EmbeddingManager::generate_embeddings_for_heads and batch_embed_texts.
package embedpipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/conarylabs/mira/internal/chunker"
	"github.com/conarylabs/mira/internal/embedclient"
	"github.com/conarylabs/mira/internal/miraerr"
	"github.com/conarylabs/mira/internal/vectorstore"
)

// HeadResult is one head's chunks paired with their vectors, in order.
type HeadResult struct {
	Head    chunker.Head
	Chunks  []chunker.Chunk
	Vectors [][]float32
}

// Pipeline ties a Chunker and Embedder together with the single-batched-call
// discipline, then fans the resulting vectors out to the vector store.
type Pipeline struct {
	chunker  chunker.Chunker
	embedder embedclient.Embedder
	store    vectorstore.Store
	opts     chunker.Options

	// sf collapses concurrent GenerateForHeads calls for identical content,
	// generalizing batch_embed_texts's retry loop into a dedup layer: two
	// goroutines racing to embed the same message body share one call.
	sf singleflight.Group
}

func New(c chunker.Chunker, e embedclient.Embedder, s vectorstore.Store, opts chunker.Options) *Pipeline {
	return &Pipeline{chunker: c, embedder: e, store: s, opts: opts}
}

// GenerateForHeads implements generate_embeddings_for_heads: chunk per head,
// flatten into one text list, issue a single EmbedBatch call (which itself
// splits internally at embedclient.MaxBatchItems), then regroup by head.
func (p *Pipeline) GenerateForHeads(ctx context.Context, content string, heads []chunker.Head) ([]HeadResult, error) {
	const op = "embedpipeline.GenerateForHeads"
	if len(heads) == 0 {
		return nil, nil
	}

	type slot struct {
		head chunker.Head
		idx  int // index into results[head].Chunks
	}
	var allTexts []string
	var slots []slot
	results := make(map[chunker.Head]*HeadResult, len(heads))

	for _, head := range heads {
		chunks, err := p.chunker.Chunk(content, head, p.opts)
		if err != nil {
			return nil, miraerr.New(op, miraerr.Validation, err)
		}
		hr, ok := results[head]
		if !ok {
			hr = &HeadResult{Head: head}
			results[head] = hr
		}
		for _, c := range chunks {
			hr.Chunks = append(hr.Chunks, c)
			slots = append(slots, slot{head: head, idx: len(hr.Chunks) - 1})
			allTexts = append(allTexts, c.Text)
		}
	}

	if len(allTexts) == 0 {
		return nil, nil
	}

	key := contentKey(content, heads)
	vecsAny, err, _ := p.sf.Do(key, func() (interface{}, error) {
		return p.embedder.EmbedBatch(ctx, allTexts)
	})
	if err != nil {
		return nil, miraerr.New(op, miraerr.KindOf(err), err)
	}
	vecs := vecsAny.([][]float32)

	for i, s := range slots {
		results[s.head].Vectors = append(results[s.head].Vectors, nil)
		results[s.head].Vectors[s.idx] = vecs[i]
	}

	out := make([]HeadResult, 0, len(heads))
	for _, head := range heads {
		out = append(out, *results[head])
	}
	return out, nil
}

// chunkIDBits is the number of low bits reserved for chunk_index in the
// synthetic point id (Message.id << chunkIDBits) | chunk_index, per spec.md
// §4.6 step 6. 20 bits allows up to ~1M chunks per message per head while
// keeping message ids addressable well past 2^40, far beyond any realistic
// message count.
const chunkIDBits = 20

// PointID implements spec.md §4.6 step 6's point-id scheme: the first chunk
// of a head keeps the bare message id (so a single-chunk head, the common
// case, needs no translation to look itself up); later chunks get a
// synthetic id that cannot collide with another message's bare id while
// message ids stay below 1<<chunkIDBits. From there on a synthetic id can
// equal a bare id: PointID(1, 1) == PointID(1<<chunkIDBits|1, 0).
func PointID(messageID uint64, chunkIndex int) uint64 {
	if chunkIndex == 0 {
		return messageID
	}
	return (messageID << chunkIDBits) | uint64(chunkIndex)
}

// BaseMessageID inverts PointID for a synthetic later-chunk id, letting
// callers (the Reconciler's orphan-vector sweep) recover the owning message
// id regardless of which chunk produced the point. A bare first-chunk id
// (below the shift range) is returned unchanged.
func BaseMessageID(pointID uint64) uint64 {
	if pointID>>chunkIDBits == 0 {
		return pointID
	}
	return pointID >> chunkIDBits
}

// StoreAll upserts every head's vectors into the vector store, one goroutine
// per head via errgroup, matching the teacher's fan-out-with-errgroup idiom
// used for independent per-collection writes.
func (p *Pipeline) StoreAll(ctx context.Context, messageID uint64, payload map[string]string, results []HeadResult) error {
	const op = "embedpipeline.StoreAll"
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range results {
		r := r
		g.Go(func() error {
			if err := p.store.EnsureCollection(gctx, string(r.Head), dims(r.Vectors)); err != nil {
				return err
			}
			for i, v := range r.Vectors {
				pointID := PointID(messageID, i)
				if err := p.store.Upsert(gctx, string(r.Head), pointID, v, payload); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	return nil
}

func dims(vecs [][]float32) int {
	if len(vecs) == 0 {
		return 0
	}
	return len(vecs[0])
}

func contentKey(content string, heads []chunker.Head) string {
	h := sha256.New()
	h.Write([]byte(content))
	for _, head := range heads {
		h.Write([]byte{0})
		h.Write([]byte(head))
	}
	return hex.EncodeToString(h.Sum(nil))
}
