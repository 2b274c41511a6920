// Package websocket streams captures to connected WebSocket clients.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-http-capture/internal/domain"
	"github.com/sirosfoundation/go-http-capture/internal/storage"
)

// Message types sent to clients
const (
	TypeReady   = "ready"
	TypeCapture = "capture"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the per-client queue; a client that falls this far
	// behind is disconnected
	sendBuffer = 64
)

// ServerMessage is sent from the hub to a client
type ServerMessage struct {
	Type     string         `json:"type"`
	ClientID string         `json:"client_id,omitempty"`
	Capture  *storage.Entry `json:"capture,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans captures out to WebSocket clients. It is a capture observer.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
	closed    bool
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger.Named("websocket-hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Access is gated by the admin token middleware
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Name identifies the hub in logs
func (h *Hub) Name() string { return "stream" }

// HandleConnection upgrades the request and registers the client
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	ready, _ := json.Marshal(ServerMessage{Type: TypeReady, ClientID: c.id})
	c.send <- ready

	h.clientsMu.Lock()
	if h.closed {
		h.clientsMu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket client connected",
		zap.String("client_id", c.id),
		zap.String("remote_addr", r.RemoteAddr))

	go h.writePump(c)
	go h.readPump(c)
}

// Handle broadcasts req to every connected client
func (h *Hub) Handle(ctx context.Context, req *domain.CapturedRequest) error {
	msg, err := json.Marshal(ServerMessage{Type: TypeCapture, Capture: storage.NewEntry(req)})
	if err != nil {
		return fmt.Errorf("failed to encode capture: %w", err)
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("Dropping slow WebSocket client", zap.String("client_id", c.id))
			h.removeLocked(c)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// removeLocked must be called with clientsMu held
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *client) {
	h.clientsMu.Lock()
	h.removeLocked(c)
	h.clientsMu.Unlock()
}

// readPump discards client input and detects disconnects
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
		h.logger.Info("WebSocket client disconnected", zap.String("client_id", c.id))
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "closing"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
