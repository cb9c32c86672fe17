package chunker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummaryChunk_AtMostOne(t *testing.T) {
	var c HeadChunker
	chunks, err := c.Chunk("line one\nline two\nline three", HeadSummary, Options{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestCodeChunk_SplitsOnFuncBoundary(t *testing.T) {
	var c HeadChunker
	src := "func A() {\n  return 1\n}\n\nfunc B() {\n  return 2\n}\n"
	chunks, err := c.Chunk(src, HeadCode, Options{MaxTokens: 1})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
}

func TestChunk_DeterministicGivenSameInputs(t *testing.T) {
	var c HeadChunker
	text := "some reasonably long sentence that will be split into several overlapping windows for testing determinism."
	opt := Options{MaxTokens: 4, Overlap: 1, Version: 1}
	a, err := c.Chunk(text, HeadSemantic, opt)
	require.NoError(t, err)
	b, err := c.Chunk(text, HeadSemantic, opt)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestSlidingWindowChunk_ProducesOverlap(t *testing.T) {
	var c HeadChunker
	text := "aaaa bbbb cccc dddd eeee ffff gggg hhhh"
	chunks, err := c.Chunk(text, HeadSemantic, Options{MaxTokens: 2, Overlap: 1})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	require.Equal(t, "ffff gggg hhhh", chunks[1].Text) // "ffff" ends the first window and opens the second
}
