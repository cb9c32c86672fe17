// Package transport defines the named wire contracts for Mira's inbound
// surfaces (WebSocket chat stream and MCP tool dispatch), a thin in-process
// Dispatcher that routes both onto the same handler map, and the server
// loops (Hub for WebSocket, NewMCPServer for MCP) that drive real traffic
// through it.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/conarylabs/mira/internal/obs"
)

// WSServerMessageType tags outbound WebSocket frames (spec.md §6.1).
type WSServerMessageType string

const (
	WSConnectionReady WSServerMessageType = "connection_ready"
	WSStatus          WSServerMessageType = "status"
	WSError           WSServerMessageType = "error"
	WSData            WSServerMessageType = "data"
	WSPing            WSServerMessageType = "ping"
	WSPong            WSServerMessageType = "pong"
)

// WSServerMessage is the outbound envelope; exactly one payload field is
// populated depending on Type.
type WSServerMessage struct {
	Type      WSServerMessageType `json:"type"`
	Message   string              `json:"message,omitempty"`
	Detail    string              `json:"detail,omitempty"`
	Code      string              `json:"code,omitempty"`
	Data      json.RawMessage     `json:"data,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
	Ts        *int64              `json:"ts,omitempty"`
}

// WSClientCommandType tags inbound client frames (spec.md §6.1).
type WSClientCommandType string

const (
	WSCommandSync   WSClientCommandType = "sync"
	WSCommandCancel WSClientCommandType = "cancel"
	WSCommandPing   WSClientCommandType = "ping"
)

// WSClientCommand is the inbound envelope.
type WSClientCommand struct {
	Type        WSClientCommandType `json:"type"`
	LastEventID string              `json:"last_event_id,omitempty"`
}

// ErrorCode enumerates the stable error codes the transport layer surfaces
// (spec.md §6.2: "an error with bad_request | not_found | internal").
type ErrorCode string

const (
	CodeBadRequest ErrorCode = "bad_request"
	CodeNotFound   ErrorCode = "not_found"
	CodeInternal   ErrorCode = "internal"
)

// NewDataMessage wraps a successful result in the data envelope.
func NewDataMessage(requestID string, data any) (WSServerMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return WSServerMessage{}, err
	}
	return WSServerMessage{Type: WSData, Data: raw, RequestID: requestID}, nil
}

// NewErrorMessage builds an error envelope the transport layer always has
// available as a fallback response (spec.md §7: "never leaves a request
// unanswered").
func NewErrorMessage(code ErrorCode, message string) WSServerMessage {
	return WSServerMessage{Type: WSError, Code: string(code), Message: message}
}

// HubHandler supplies the behavior behind the "sync"/"cancel" commands of
// spec.md §6.1. Hub itself only owns connection lifecycle and framing; the
// Operation Engine's event log is what actually answers a resume request.
type HubHandler interface {
	// Sync resumes the event stream for sessionID from lastEventID (empty
	// means "from the beginning") and returns the frames to emit in order.
	Sync(ctx context.Context, sessionID, lastEventID string) ([]WSServerMessage, error)
	// Cancel aborts whatever operation sessionID currently has in flight.
	Cancel(ctx context.Context, sessionID string) error
}

// Hub manages the WebSocket connections of spec.md §6.1's chat stream,
// grounded on the teacher pack's gorilla/websocket hub pattern
// (codeready-toolchain-tarsy's WSHub/HandleWS): an upgrader, a
// connection-keyed map guarded by a mutex, a welcome frame, and a read loop
// that answers ping and forwards sync/cancel to the injected HubHandler.
type Hub struct {
	handler   HubHandler
	heartbeat time.Duration
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]string // conn -> session id
}

// NewHub builds a Hub that upgrades any origin (spec.md's inbound surface is
// authenticated upstream of this layer) and pings idle connections every
// heartbeat interval.
func NewHub(handler HubHandler, heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &Hub{
		handler:   handler,
		heartbeat: heartbeat,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:     make(map[*websocket.Conn]string),
	}
}

// ServeHTTP upgrades the request, sends connection_ready, and blocks
// answering client commands until the socket closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		obs.LoggerWithTrace(r.Context()).Warn().Err(err).Msg("ws: upgrade failed")
		return
	}
	h.mu.Lock()
	h.conns[conn] = sessionID
	h.mu.Unlock()
	defer h.drop(conn)

	if err := conn.WriteJSON(WSServerMessage{Type: WSConnectionReady}); err != nil {
		return
	}

	done := make(chan struct{})
	go h.heartbeatLoop(conn, done)
	defer close(done)

	for {
		var cmd WSClientCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				obs.LoggerWithTrace(r.Context()).Warn().Err(err).Msg("ws: unexpected close")
			}
			return
		}
		h.handle(r.Context(), conn, sessionID, cmd)
	}
}

func (h *Hub) handle(ctx context.Context, conn *websocket.Conn, sessionID string, cmd WSClientCommand) {
	switch cmd.Type {
	case WSCommandPing:
		_ = conn.WriteJSON(WSServerMessage{Type: WSPong})
	case WSCommandSync:
		if h.handler == nil {
			_ = conn.WriteJSON(NewErrorMessage(CodeInternal, "sync not supported"))
			return
		}
		msgs, err := h.handler.Sync(ctx, sessionID, cmd.LastEventID)
		if err != nil {
			_ = conn.WriteJSON(NewErrorMessage(codeForError(err), err.Error()))
			return
		}
		for _, m := range msgs {
			if conn.WriteJSON(m) != nil {
				return
			}
		}
	case WSCommandCancel:
		if h.handler == nil {
			return
		}
		if err := h.handler.Cancel(ctx, sessionID); err != nil {
			_ = conn.WriteJSON(NewErrorMessage(codeForError(err), err.Error()))
		}
	}
}

func (h *Hub) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if conn.WriteJSON(WSServerMessage{Type: WSPing}) != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// ActiveConnections reports the number of live sockets.
func (h *Hub) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
