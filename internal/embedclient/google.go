package embedclient

import (
	"context"
	"fmt"

	"github.com/conarylabs/mira/internal/config"
	"github.com/conarylabs/mira/internal/miraerr"
	"google.golang.org/genai"
)

type googleEmbedder struct {
	base
}

type googleTransport struct {
	client *genai.Client
	model  string
}

func newGoogle(cfg config.EmbeddingConfig) Embedder {
	model := cfg.Model
	if model == "" {
		model = "text-embedding-004"
	}
	client, _ := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.APIKey})
	t := &googleTransport{client: client, model: model}
	e := &googleEmbedder{}
	e.t = t
	e.dimensions = cfg.Dimensions
	e.maxAttempts = cfg.MaxAttempts
	e.timeout = cfg.Timeout
	return e
}

func (t *googleTransport) modelName() string { return t.model }

func (t *googleTransport) call(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedclient.google.call"
	if t.client == nil {
		return nil, miraerr.New(op, miraerr.Fatal, fmt.Errorf("google embedding client not configured"))
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}
	resp, err := t.client.Models.EmbedContent(ctx, t.model, contents, nil)
	if err != nil {
		return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}
