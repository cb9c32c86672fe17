package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestNewDataMessage(t *testing.T) {
	t.Parallel()
	msg, err := NewDataMessage("req-1", map[string]int{"count": 2})
	require.NoError(t, err)
	require.Equal(t, WSData, msg.Type)
	require.JSONEq(t, `{"count":2}`, string(msg.Data))
	require.Equal(t, "req-1", msg.RequestID)
}

func TestNewErrorMessage(t *testing.T) {
	t.Parallel()
	msg := NewErrorMessage(CodeBadRequest, "missing field")
	require.Equal(t, WSError, msg.Type)
	require.Equal(t, string(CodeBadRequest), msg.Code)
	require.Equal(t, "missing field", msg.Message)
}

type fakeHubHandler struct {
	lastSync  string
	cancelled []string
}

func (f *fakeHubHandler) Sync(ctx context.Context, sessionID, lastEventID string) ([]WSServerMessage, error) {
	f.lastSync = lastEventID
	msg, err := NewDataMessage("resume", map[string]string{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	return []WSServerMessage{msg}, nil
}

func (f *fakeHubHandler) Cancel(ctx context.Context, sessionID string) error {
	f.cancelled = append(f.cancelled, sessionID)
	return nil
}

func TestHub_ConnectionReadyThenSyncAndCancel(t *testing.T) {
	handler := &fakeHubHandler{}
	hub := NewHub(handler, time.Hour)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?session_id=s1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var ready WSServerMessage
	require.NoError(t, conn.ReadJSON(&ready))
	require.Equal(t, WSConnectionReady, ready.Type)

	require.NoError(t, conn.WriteJSON(WSClientCommand{Type: WSCommandSync, LastEventID: "42"}))
	var data WSServerMessage
	require.NoError(t, conn.ReadJSON(&data))
	require.Equal(t, WSData, data.Type)
	require.JSONEq(t, `{"session_id":"s1"}`, string(data.Data))
	require.Equal(t, "42", handler.lastSync)

	require.NoError(t, conn.WriteJSON(WSClientCommand{Type: WSCommandCancel}))
	require.NoError(t, conn.WriteJSON(WSClientCommand{Type: WSCommandPing}))
	var pong WSServerMessage
	require.NoError(t, conn.ReadJSON(&pong))
	require.Equal(t, WSPong, pong.Type)
	require.Equal(t, []string{"s1"}, handler.cancelled)
}

func TestHub_ActiveConnections(t *testing.T) {
	hub := NewHub(nil, time.Hour)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	require.Equal(t, 0, hub.ActiveConnections())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.ActiveConnections() == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()
}
