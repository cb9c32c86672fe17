package transport

import (
	"encoding/json"
	"fmt"
)

// ToolAccess is a tagged enum: either a fixed mode ("read_only" | "full") or
// a custom allow-list ({custom: [tool, ...]}), per spec.md §6.4.
type ToolAccess struct {
	Mode   string   `json:"-"`
	Custom []string `json:"-"`
}

const (
	ToolAccessReadOnly = "read_only"
	ToolAccessFull     = "full"
)

func (t ToolAccess) MarshalJSON() ([]byte, error) {
	if t.Mode == "" {
		return json.Marshal(struct {
			Custom []string `json:"custom"`
		}{t.Custom})
	}
	return json.Marshal(t.Mode)
}

func (t *ToolAccess) UnmarshalJSON(data []byte) error {
	var mode string
	if err := json.Unmarshal(data, &mode); err == nil {
		t.Mode = mode
		t.Custom = nil
		return nil
	}
	var custom struct {
		Custom []string `json:"custom"`
	}
	if err := json.Unmarshal(data, &custom); err != nil {
		return fmt.Errorf("tool_access: unrecognized shape: %w", err)
	}
	t.Mode = ""
	t.Custom = custom.Custom
	return nil
}

// ThinkingLevel enumerates the agent's reasoning-effort tag.
type ThinkingLevel string

const (
	ThinkingLow      ThinkingLevel = "low"
	ThinkingHigh     ThinkingLevel = "high"
	ThinkingAdaptive ThinkingLevel = "adaptive"
)

const (
	defaultTimeoutMs    = 300000
	defaultMaxIterations = 25
)

// AgentFile is the parsed contract of a project's .mira/agents.json custom
// agent definition (spec.md §6.3/§6.4).
type AgentFile struct {
	Scope         string        `json:"scope"`
	AgentType     string        `json:"agent_type"`
	ToolAccess    ToolAccess    `json:"tool_access"`
	ThinkingLevel ThinkingLevel `json:"thinking_level"`
	TimeoutMs     int           `json:"timeout_ms"`
	MaxIterations int           `json:"max_iterations"`
}

// ParseAgentFile decodes raw JSON and fills in the documented defaults for
// omitted timeout_ms / max_iterations.
func ParseAgentFile(raw []byte) (AgentFile, error) {
	var af AgentFile
	if err := json.Unmarshal(raw, &af); err != nil {
		return AgentFile{}, fmt.Errorf("parse agent file: %w", err)
	}
	if af.TimeoutMs == 0 {
		af.TimeoutMs = defaultTimeoutMs
	}
	if af.MaxIterations == 0 {
		af.MaxIterations = defaultMaxIterations
	}
	return af, nil
}

// ParseAgentFileList decodes a top-level JSON array of agent definitions, the
// shape .mira/agents.json actually takes.
func ParseAgentFileList(raw []byte) ([]AgentFile, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse agent file list: %w", err)
	}
	out := make([]AgentFile, 0, len(entries))
	for _, e := range entries {
		af, err := ParseAgentFile(e)
		if err != nil {
			return nil, err
		}
		out = append(out, af)
	}
	return out, nil
}
