package embedclient

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/conarylabs/mira/internal/config"
	"github.com/conarylabs/mira/internal/miraerr"
)

type openAIEmbedder struct {
	base
}

type openAITransport struct {
	sdk   openai.Client
	model string
}

func newOpenAI(cfg config.EmbeddingConfig) Embedder {
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	t := &openAITransport{sdk: openai.NewClient(opts...), model: model}
	e := &openAIEmbedder{}
	e.t = t
	e.dimensions = cfg.Dimensions
	e.maxAttempts = cfg.MaxAttempts
	e.timeout = cfg.Timeout
	return e
}

func (t *openAITransport) modelName() string { return t.model }

// call issues a single batched embeddings request through the SDK, matching
// the teacher's provider-client-owns-its-wire-format split (internal/llm/openai)
// and the Embeddings.New call shape used by the pack's other openai-go
// consumers (vvoland-cagent's dmr/openai provider clients).
func (t *openAITransport) call(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedclient.openai.call"
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: t.model,
	}

	resp, err := t.sdk.Embeddings.New(ctx, params)
	if err != nil {
		return nil, miraerr.New(op, classifyOpenAIErr(ctx, err), err)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	return out, nil
}

// classifyOpenAIErr maps the SDK's *openai.Error status code to the shared
// error taxonomy, falling back to ProviderUnavailable for anything that
// isn't a recognizable API error (network failures, decode errors), same as
// the sibling Google transport's blanket-ProviderUnavailable treatment.
func classifyOpenAIErr(ctx context.Context, err error) miraerr.Kind {
	if ctx.Err() != nil {
		return miraerr.Timeout
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return miraerr.QuotaExceeded
		case apiErr.StatusCode >= 500:
			return miraerr.ProviderUnavailable
		case apiErr.StatusCode >= 400:
			return miraerr.Validation
		}
	}
	return miraerr.ProviderUnavailable
}
