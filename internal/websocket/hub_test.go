package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
)

func newCapture() *domain.CapturedRequest {
	return &domain.CapturedRequest{
		Method:   "POST",
		Headers:  map[string]string{"Host": "localhost:8080"},
		Address:  "127.0.0.1:40000",
		FullPath: "/hook?x=1",
		Path:     "/hook",
		Query:    map[string]string{"x": "1"},
		Body:     map[string]string{"a": "b"},
		ID:       "capture-1",
		Port:     8080,
	}
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = ws.Close() })

	// First message confirms registration
	msg := readMessage(t, ws)
	require.Equal(t, TypeReady, msg.Type)
	require.NotEmpty(t, msg.ClientID)
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) ServerMessage {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var msg ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestNewHub(t *testing.T) {
	h := NewHub(zap.NewNop())
	assert.NotNil(t, h)
	assert.Equal(t, "stream", h.Name())
	assert.Zero(t, h.ClientCount())
}

func TestHub_Broadcast(t *testing.T) {
	h := NewHub(zap.NewNop())
	server := httptest.NewServer(http.HandlerFunc(h.HandleConnection))
	defer server.Close()
	defer h.Close()

	ws1 := dial(t, server)
	ws2 := dial(t, server)

	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, h.Handle(context.Background(), newCapture()))

	for _, ws := range []*websocket.Conn{ws1, ws2} {
		msg := readMessage(t, ws)
		assert.Equal(t, TypeCapture, msg.Type)
		require.NotNil(t, msg.Capture)
		assert.Equal(t, "capture-1", msg.Capture.ID)
		assert.Equal(t, 8080, msg.Capture.Port)
		assert.Equal(t, "/hook", msg.Capture.Request.Path)
		assert.Equal(t, "b", msg.Capture.Request.Body["a"])
	}
}

func TestHub_NoClients(t *testing.T) {
	h := NewHub(zap.NewNop())
	assert.NoError(t, h.Handle(context.Background(), newCapture()))
}

func TestHub_ClientDisconnect(t *testing.T) {
	h := NewHub(zap.NewNop())
	server := httptest.NewServer(http.HandlerFunc(h.HandleConnection))
	defer server.Close()

	ws := dial(t, server)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = ws.Close()

	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_Close(t *testing.T) {
	h := NewHub(zap.NewNop())
	server := httptest.NewServer(http.HandlerFunc(h.HandleConnection))
	defer server.Close()

	ws := dial(t, server)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	h.Close()
	assert.Zero(t, h.ClientCount())

	// The client sees the connection close
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)

	// A closed hub refuses new clients
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	late, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		defer late.Close()
		require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = late.ReadMessage()
		assert.Error(t, err)
	}
	assert.Zero(t, h.ClientCount())
}
