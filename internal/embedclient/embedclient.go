// Package embedclient implements the Embedding Client (C1): a batched
// text→vector call with retry/backoff, modeled as a capability interface
// rather than an inheritance hierarchy so OpenAI- and Google-backed
// implementations share no base type.
package embedclient

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/conarylabs/mira/internal/config"
	"github.com/conarylabs/mira/internal/miraerr"
	"github.com/conarylabs/mira/internal/obs"
)

// MaxBatchItems is the hard cap on items sent in a single provider call
// (spec.md §4.1's batching rule).
const MaxBatchItems = 100

// Embedder is the capability every provider variant implements: dimensions,
// model identity, batched embedding, and per-call project scoping. There is
// deliberately no shared base struct — OpenAIEmbedder and GoogleEmbedder each
// own their transport details.
type Embedder interface {
	Dimensions() int
	ModelName() string
	SetProjectID(projectID string)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// transport is the minimal HTTP-call shape each provider variant implements;
// EmbedBatch on the shared helper drives batching/retry/dimension-checking
// uniformly over it.
type transport interface {
	modelName() string
	call(ctx context.Context, texts []string) ([][]float32, error)
}

// Build constructs an Embedder for the configured provider, mirroring the
// teacher's provider-dispatch-by-name factory.
func Build(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		return newOpenAI(cfg), nil
	case "google":
		return newGoogle(cfg), nil
	default:
		return nil, miraerr.New("embedclient.Build", miraerr.Fatal, errUnsupportedProvider(cfg.Provider))
	}
}

type errUnsupportedProvider string

func (e errUnsupportedProvider) Error() string { return "unsupported embedding provider: " + string(e) }

// base implements the shared batching/retry/dimension-validation logic once;
// provider variants embed it and supply only the wire call.
type base struct {
	t           transport
	dimensions  int
	maxAttempts int
	timeout     time.Duration
	projectID   string

	checked bool
}

func (b *base) Dimensions() int        { return b.dimensions }
func (b *base) ModelName() string      { return b.t.modelName() }
func (b *base) SetProjectID(id string) { b.projectID = id }

// EmbedBatch splits texts into chunks of ≤ MaxBatchItems, issues one
// provider call per chunk with exponential backoff+jitter on transient
// failure, and validates the embedding dimension on the first successful
// call (a mismatch thereafter is Fatal, per spec.md §4.1).
func (b *base) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedclient.EmbedBatch"
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) == 1 {
		obs.LoggerWithTrace(ctx).Warn().Str("op", op).Msg("single-item embed call; prefer batching")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchItems {
		end := start + MaxBatchItems
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]
		vecs, err := b.callWithRetry(ctx, op, chunk)
		if err != nil {
			return nil, err
		}
		for _, v := range vecs {
			if err := b.validateDimension(v); err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (b *base) validateDimension(v []float32) error {
	if !b.checked {
		b.checked = true
		if b.dimensions == 0 {
			b.dimensions = len(v)
			return nil
		}
	}
	if len(v) != b.dimensions {
		return miraerr.New("embedclient.validateDimension", miraerr.Fatal,
			dimensionMismatch{want: b.dimensions, got: len(v)})
	}
	return nil
}

type dimensionMismatch struct{ want, got int }

func (d dimensionMismatch) Error() string {
	return "embedding dimension mismatch: expected fixed per-model size"
}

func (b *base) callWithRetry(ctx context.Context, op string, chunk []string) ([][]float32, error) {
	maxAttempts := b.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	timeout := b.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		vecs, err := b.t.call(cctx, chunk)
		cancel()
		if err == nil {
			if len(vecs) != len(chunk) {
				return nil, miraerr.New(op, miraerr.ProviderUnavailable, countMismatch{want: len(chunk), got: len(vecs)})
			}
			return vecs, nil
		}
		lastErr = err
		kind := miraerr.KindOf(err)
		if kind == miraerr.ProviderUnavailable || kind == miraerr.Timeout {
			if attempt == maxAttempts-1 {
				break
			}
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 200 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff/2 + 1)))
			select {
			case <-ctx.Done():
				return nil, miraerr.New(op, miraerr.Timeout, ctx.Err())
			case <-time.After(backoff + jitter):
			}
			continue
		}
		return nil, err
	}
	return nil, miraerr.New(op, miraerr.ProviderUnavailable, lastErr)
}

type countMismatch struct{ want, got int }

func (c countMismatch) Error() string { return "unexpected embedding count from provider" }
