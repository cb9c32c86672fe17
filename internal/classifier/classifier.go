// Package classifier implements the Classifier (C5): decides a message's
// salience, code-ness, language, and topics, then turns that into a routing
// decision over embedding heads.
//
// Grounded on original_source/src/services/memory/classification.rs's
// MessageClassifier: classify_message (LLM call, graceful fallback to
// defaults on failure), should_embed_content (threshold gate), and
// determine_embedding_heads (per-head routing rules).
package classifier

import (
	"context"

	"github.com/conarylabs/mira/internal/chunker"
)

// Classification is the raw output of a classify call.
type Classification struct {
	Salience float32
	IsCode   bool
	Language string
	Topics   []string
}

// RoutingDecision is what a caller does with a Classification.
type RoutingDecision struct {
	Heads       []chunker.Head
	ShouldEmbed bool
	SkipReason  string
}

// Classifier is the capability surface consumed by the Embedding Pipeline.
type Classifier interface {
	Classify(ctx context.Context, content string) (Classification, error)
	MakeRoutingDecision(ctx context.Context, content, role string, customSalience *float32) (RoutingDecision, error)
}

// Config mirrors MessageClassifier::with_config's three tunables.
type Config struct {
	MinSalienceThreshold float32
	CodeRoutingEnabled   bool
	SummaryRoutingEnabled bool
}

// DefaultConfig matches MessageClassifier::new's defaults.
func DefaultConfig() Config {
	return Config{
		MinSalienceThreshold:  0.2,
		CodeRoutingEnabled:    true,
		SummaryRoutingEnabled: true,
	}
}

// base implements should_embed_content and determine_embedding_heads once,
// shared by every concrete Classifier so the routing rules never drift
// between the LLM-backed and heuristic implementations.
type base struct {
	cfg Config
}

// shouldEmbed implements should_embed_content: drop below-threshold content,
// and drop "trivial" content (no topics, not code) unless salience is very
// high. The original compares against 3.0, which a 0..1 salience score can
// never reach; this keeps the topics/is_code branch and uses 0.5 as the
// "very high" cutoff instead.
func (b base) shouldEmbed(c Classification, effectiveSalience float32) (bool, string) {
	if effectiveSalience < b.cfg.MinSalienceThreshold {
		return false, "below salience threshold"
	}
	if len(c.Topics) == 0 && !c.IsCode && effectiveSalience < 0.5 {
		return false, "trivial content"
	}
	return true, ""
}

// heads implements determine_embedding_heads.
func (b base) heads(c Classification, role string) []chunker.Head {
	var out []chunker.Head
	if c.Salience >= 0.3 {
		out = append(out, chunker.HeadSemantic)
	}
	if b.cfg.CodeRoutingEnabled && c.IsCode {
		out = append(out, chunker.HeadCode)
	}
	if b.cfg.SummaryRoutingEnabled && role == "system" && containsTopic(c.Topics, "summary") {
		out = append(out, chunker.HeadSummary)
	}
	if len(out) == 0 && c.Salience >= 0.5 {
		out = append(out, chunker.HeadSemantic)
	}
	return out
}

func containsTopic(topics []string, needle string) bool {
	for _, t := range topics {
		if contains(t, needle) {
			return true
		}
	}
	return false
}

func contains(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// route is the shared make_routing_decision body: classify, gate, route.
func route(ctx context.Context, b base, classify func(context.Context, string) (Classification, error), content, role string, customSalience *float32) (RoutingDecision, error) {
	c, err := classify(ctx, content)
	if err != nil {
		return RoutingDecision{}, err
	}
	effective := c.Salience
	if customSalience != nil {
		effective = *customSalience
	}
	if ok, reason := b.shouldEmbed(c, effective); !ok {
		return RoutingDecision{ShouldEmbed: false, SkipReason: reason}, nil
	}
	heads := b.heads(c, role)
	if len(heads) == 0 {
		return RoutingDecision{ShouldEmbed: false, SkipReason: "no suitable heads for content"}, nil
	}
	return RoutingDecision{Heads: heads, ShouldEmbed: true}, nil
}
