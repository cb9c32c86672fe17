package classifier

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/conarylabs/mira/internal/obs"
)

// LLMClassifier calls an Anthropic model with a classification prompt and
// parses its JSON answer, grounded on classify_message in
// original_source/src/services/memory/classification.rs and on the
// teacher's internal/llm/anthropic/client.go Messages.New call shape.
// On any failure it falls back to defaults exactly as the original does:
// "Classification failed, using defaults" -> salience 0.5, is_code false.
type LLMClassifier struct {
	base
	sdk   anthropic.Client
	model string
}

func NewLLMClassifier(cfg Config, apiKey, model string) *LLMClassifier {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &LLMClassifier{base: base{cfg: cfg}, sdk: anthropic.NewClient(opts...), model: model}
}

const classifyPrompt = `Classify the following message. Respond with only a JSON object of the
shape {"salience": <0..1 float>, "is_code": <bool>, "lang": <string>, "topics": [<string>...]}.
No prose, no markdown fences.

Message:
`

type classifyResponse struct {
	Salience float32  `json:"salience"`
	IsCode   bool     `json:"is_code"`
	Lang     string   `json:"lang"`
	Topics   []string `json:"topics"`
}

func (l *LLMClassifier) Classify(ctx context.Context, content string) (Classification, error) {
	log := obs.LoggerWithTrace(ctx)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(l.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(classifyPrompt + content)),
		},
	}
	resp, err := l.sdk.Messages.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Msg("classification failed, using defaults")
		return defaultClassification(), nil
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	var parsed classifyResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(text.String())), &parsed); err != nil {
		log.Error().Err(err).Msg("classification response unparseable, using defaults")
		return defaultClassification(), nil
	}

	return Classification{Salience: parsed.Salience, IsCode: parsed.IsCode, Language: parsed.Lang, Topics: parsed.Topics}, nil
}

// defaultClassification matches the original's graceful-failure constant.
func defaultClassification() Classification {
	return Classification{Salience: 0.5, IsCode: false}
}

func (l *LLMClassifier) MakeRoutingDecision(ctx context.Context, content, role string, customSalience *float32) (RoutingDecision, error) {
	return route(ctx, l.base, l.Classify, content, role, customSalience)
}
