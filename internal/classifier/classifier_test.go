package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conarylabs/mira/internal/chunker"
)

func TestHeuristicClassifier_LowSalienceSkipsEmbedding(t *testing.T) {
	h := NewHeuristicClassifier(DefaultConfig())
	salience := float32(0.1)
	decision, err := h.MakeRoutingDecision(context.Background(), "ok", "user", &salience)
	require.NoError(t, err)
	require.False(t, decision.ShouldEmbed)
}

func TestHeuristicClassifier_CodeRoutesToCodeAndSemantic(t *testing.T) {
	h := NewHeuristicClassifier(DefaultConfig())
	content := "```go\nfunc main() {}\n```"
	decision, err := h.MakeRoutingDecision(context.Background(), content, "user", nil)
	require.NoError(t, err)
	require.True(t, decision.ShouldEmbed)
	require.Contains(t, decision.Heads, chunker.HeadCode)
	require.Contains(t, decision.Heads, chunker.HeadSemantic)
}

func TestHeuristicClassifier_SummaryRoutesOnSystemRoleWithSummaryTopic(t *testing.T) {
	h := NewHeuristicClassifier(DefaultConfig())
	salience := float32(1.0)
	c := Classification{Salience: 1.0, Topics: []string{"summary"}}
	decision := h.base.heads(c, "system")
	require.Contains(t, decision, chunker.HeadSummary)
	require.Contains(t, decision, chunker.HeadSemantic)
	_ = salience
}

func TestBase_ShouldEmbed_TrivialContentRejected(t *testing.T) {
	b := base{cfg: DefaultConfig()}
	ok, reason := b.shouldEmbed(Classification{Salience: 0.3}, 0.3)
	require.False(t, ok)
	require.Equal(t, "trivial content", reason)
}

func TestBase_Heads_EmptyOnLowSalienceNoMatch(t *testing.T) {
	b := base{cfg: DefaultConfig()}
	heads := b.heads(Classification{Salience: 0.1}, "user")
	require.Empty(t, heads) // below 0.3 and below 0.5 default -> nothing
}
