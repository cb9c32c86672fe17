package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAgentFile_Defaults(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"scope":"project","agent_type":"reviewer","tool_access":"read_only","thinking_level":"high"}`)
	af, err := ParseAgentFile(raw)
	require.NoError(t, err)
	require.Equal(t, ToolAccessReadOnly, af.ToolAccess.Mode)
	require.Equal(t, defaultTimeoutMs, af.TimeoutMs)
	require.Equal(t, defaultMaxIterations, af.MaxIterations)
}

func TestParseAgentFile_CustomToolAccess(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"scope":"project","agent_type":"builder","tool_access":{"custom":["code.search","remember"]},"thinking_level":"adaptive","timeout_ms":60000,"max_iterations":5}`)
	af, err := ParseAgentFile(raw)
	require.NoError(t, err)
	require.Empty(t, af.ToolAccess.Mode)
	require.Equal(t, []string{"code.search", "remember"}, af.ToolAccess.Custom)
	require.Equal(t, 60000, af.TimeoutMs)
	require.Equal(t, 5, af.MaxIterations)
}

func TestParseAgentFileList(t *testing.T) {
	t.Parallel()
	raw := []byte(`[
		{"scope":"project","agent_type":"a","tool_access":"full","thinking_level":"low"},
		{"scope":"user","agent_type":"b","tool_access":"read_only","thinking_level":"low"}
	]`)
	list, err := ParseAgentFileList(raw)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, ToolAccessFull, list[0].ToolAccess.Mode)
}
