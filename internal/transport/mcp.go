package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolCall is the inbound MCP tool-dispatch envelope (spec.md §6.2:
// "Tool calls arrive as {method, params}"), shaped after the
// mcp.CallToolParams{Name, Arguments} type consumed elsewhere in this
// codebase's MCP client.
type ToolCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ToolResult is the outbound MCP response: either Data or Error is set,
// never both (spec.md §6.2: "returns a data envelope or an error").
type ToolResult struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ToolError      `json:"error,omitempty"`
}

type ToolError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Recognized MCP method names (spec.md §6.2), grouped by concern.
const (
	MethodCodeSearch              = "code.search"
	MethodCodeRepoStats           = "code.repo_stats"
	MethodCodeComplexityHotspots  = "code.complexity_hotspots"
	MethodCodeElementsByType      = "code.elements_by_type"
	MethodCodeSupportedLanguages  = "code.supported_languages"
	MethodCodeDeleteRepositoryData = "code.delete_repository_data"

	MethodUploadStart    = "upload_start"
	MethodUploadChunk    = "upload_chunk"
	MethodUploadComplete = "upload_complete"
	MethodDownloadRequest = "download_request"
	MethodCleanupSession = "cleanup_session"

	MethodSessionStart = "session_start"
	MethodSetProject   = "set_project"
	MethodRemember     = "remember"
	MethodRecall       = "recall"
	MethodForget       = "forget"
	MethodTask         = "task"
	MethodGoal         = "goal"
)

func okResult(data any) (ToolResult, error) {
	if data == nil {
		return ToolResult{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Data: raw}, nil
}

func errResult(code ErrorCode, message string) ToolResult {
	return ToolResult{Error: &ToolError{Code: code, Message: message}}
}

// methodDescriptions gives each recognized method the one-line description
// its MCP tool registration needs; argument shape and validation stay owned
// by the Handler registered on the Dispatcher for that method.
var methodDescriptions = map[string]string{
	MethodCodeSearch:               "Search indexed source files by semantic or lexical query.",
	MethodCodeRepoStats:            "Return repository-level code index statistics.",
	MethodCodeComplexityHotspots:   "List the most complex code elements by cyclomatic complexity.",
	MethodCodeElementsByType:       "List indexed code elements filtered by element type.",
	MethodCodeSupportedLanguages:   "List programming languages the code index supports.",
	MethodCodeDeleteRepositoryData: "Delete all indexed data for a repository.",
	MethodUploadStart:              "Begin a chunked file upload.",
	MethodUploadChunk:              "Append one chunk to an in-progress upload.",
	MethodUploadComplete:           "Finalize a chunked upload and trigger indexing.",
	MethodDownloadRequest:          "Request a download of a stored artifact.",
	MethodCleanupSession:           "Release server-side resources held for a session.",
	MethodSessionStart:             "Start or resume a memory-core session.",
	MethodSetProject:               "Bind the current session to a project id.",
	MethodRemember:                 "Persist a message and route it through classification and embedding.",
	MethodRecall:                   "Search memory for relevant facts and prior messages.",
	MethodForget:                   "Mark a fact archived so it is excluded from recall.",
	MethodTask:                     "Create or update a tracked task.",
	MethodGoal:                     "Create or update a tracked goal.",
}

// NewMCPServer registers one MCP tool per entry in methods, each forwarding
// its call arguments straight through Dispatcher.Dispatch. Grounded on
// sgx-labs-statelessagent's mcp.NewServer + registerTools(mcp.AddTool...)
// pattern, generalized from that file's per-tool typed inputs to this
// package's single generic params-passthrough since every method's actual
// argument shape is owned by its registered Handler, not by the MCP layer.
func NewMCPServer(d *Dispatcher, methods []string, name, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	for _, method := range methods {
		desc := methodDescriptions[method]
		if desc == "" {
			desc = "Invoke the " + method + " Mira method."
		}
		mcp.AddTool(server, &mcp.Tool{Name: method, Description: desc}, dispatchHandler(d, method))
	}
	return server
}

// NewMCPHTTPHandler mounts server on the SDK's streamable-HTTP transport,
// the network-facing counterpart to the *mcp.StdioTransport CLI tools in the
// pack use (vvoland-cagent's StartHTTPServer/mcp.NewStreamableHTTPHandler).
func NewMCPHTTPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

func dispatchHandler(d *Dispatcher, method string) func(context.Context, *mcp.CallToolRequest, map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		raw, err := json.Marshal(args)
		if err != nil {
			return textToolResult(fmt.Sprintf("invalid arguments: %v", err), true), nil, nil
		}
		result := d.Dispatch(ctx, ToolCall{Method: method, Params: raw})
		if result.Error != nil {
			return textToolResult(result.Error.Message, true), nil, nil
		}
		return textToolResult(string(result.Data), false), nil, nil
	}
}

func textToolResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}
