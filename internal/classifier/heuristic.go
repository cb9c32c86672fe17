package classifier

import (
	"context"
	"regexp"
	"strings"
)

// HeuristicClassifier is the always-available, provider-free fallback.
// Grounded on internal/agent/memory/evolving.go's classifyMemoryType
// keyword scan, generalized from memory-type classification to the
// salience/is_code/topics shape classification.rs's Classification needs.
type HeuristicClassifier struct {
	base
}

func NewHeuristicClassifier(cfg Config) *HeuristicClassifier {
	return &HeuristicClassifier{base: base{cfg: cfg}}
}

var codeFenceRe = regexp.MustCompile("```|^\\s*(func |def |class |import |package |#include)")

var topicKeywords = map[string]string{
	"how to":     "procedure",
	"steps":      "procedure",
	"workflow":   "procedure",
	"algorithm":  "procedure",
	"prefer":     "preference",
	"i like":     "preference",
	"i don't like": "preference",
	"decided":    "decision",
	"decision":   "decision",
	"summary":    "summary",
	"tl;dr":      "summary",
}

// Classify estimates salience from content length and keyword density, and
// flags code via a fenced-block or common-keyword regex. It never errors:
// the heuristic is the fallback of last resort and must always answer.
func (h *HeuristicClassifier) Classify(ctx context.Context, content string) (Classification, error) {
	lower := strings.ToLower(content)
	isCode := codeFenceRe.MatchString(content)

	var topics []string
	for kw, topic := range topicKeywords {
		if strings.Contains(lower, kw) && !containsTopic(topics, topic) {
			topics = append(topics, topic)
		}
	}

	salience := float32(0.3)
	switch {
	case len(content) > 400:
		salience = 0.6
	case len(content) > 120:
		salience = 0.45
	}
	if isCode {
		salience += 0.2
	}
	if len(topics) > 0 {
		salience += 0.15
	}
	if salience > 1.0 {
		salience = 1.0
	}

	return Classification{Salience: salience, IsCode: isCode, Topics: topics}, nil
}

func (h *HeuristicClassifier) MakeRoutingDecision(ctx context.Context, content, role string, customSalience *float32) (RoutingDecision, error) {
	return route(ctx, h.base, h.Classify, content, role, customSalience)
}
