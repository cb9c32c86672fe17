package transport

import (
	"context"
	"sync"

	"github.com/conarylabs/mira/internal/miraerr"
)

// Handler processes one ToolCall's params and returns data to wrap in a
// ToolResult, or an error. miraerr.Kind on the returned error selects the
// ToolError code (NotFound -> not_found, Validation -> bad_request,
// everything else -> internal).
type Handler func(ctx context.Context, params []byte) (any, error)

// Dispatcher is the in-process method router both server loops forward
// onto: NewMCPServer wraps it in one MCP tool per registered method, and
// Hub's "sync"/"cancel" commands go through the same error-mapping via
// codeForError.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(method string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = h
}

// Dispatch routes call.Method to its registered Handler and always returns a
// populated ToolResult (spec.md §7: "never leaves a request unanswered").
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) ToolResult {
	d.mu.RLock()
	h, ok := d.handlers[call.Method]
	d.mu.RUnlock()
	if !ok {
		return errResult(CodeNotFound, "unknown method: "+call.Method)
	}

	data, err := h(ctx, call.Params)
	if err != nil {
		return errResult(codeForError(err), err.Error())
	}
	result, err := okResult(data)
	if err != nil {
		return errResult(CodeInternal, err.Error())
	}
	return result
}

func codeForError(err error) ErrorCode {
	switch miraerr.KindOf(err) {
	case miraerr.NotFound:
		return CodeNotFound
	case miraerr.Validation:
		return CodeBadRequest
	default:
		return CodeInternal
	}
}
