package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-http-capture/internal/listener"
	"github.com/sirosfoundation/go-http-capture/internal/storage"
	"github.com/sirosfoundation/go-http-capture/internal/websocket"
)

// ServiceName is reported by the status endpoints
const ServiceName = "http-capture"

// maxListLimit caps GET /captures
const maxListLimit = 1000

// SessionSource reports the open capture ports
type SessionSource interface {
	Sessions() []listener.SessionInfo
}

// AdminHandlers contains handlers for the admin API
type AdminHandlers struct {
	sessions  SessionSource
	store     storage.Store  // nil when history is disabled
	hub       *websocket.Hub // nil when streaming is disabled
	observers func() int
	logger    *zap.Logger
}

// NewAdminHandlers creates a new AdminHandlers instance. store and hub may be nil.
func NewAdminHandlers(mgr *listener.Manager, store storage.Store, hub *websocket.Hub, logger *zap.Logger) *AdminHandlers {
	h := NewAdminHandlersFor(mgr, store, hub, logger)
	h.observers = mgr.Registry().Len
	return h
}

// NewAdminHandlersFor creates handlers over any session source
func NewAdminHandlersFor(sessions SessionSource, store storage.Store, hub *websocket.Hub, logger *zap.Logger) *AdminHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandlers{
		sessions:  sessions,
		store:     store,
		hub:       hub,
		observers: func() int { return 0 },
		logger:    logger,
	}
}

// Capabilities lists the enabled admin features
func (h *AdminHandlers) Capabilities() []string {
	caps := []string{CapabilitySessions}
	if h.store != nil {
		caps = append(caps, CapabilityHistory)
	}
	if h.hub != nil {
		caps = append(caps, CapabilityStream)
	}
	return caps
}

// Status reports service health and the open ports
// GET /status
func (h *AdminHandlers) Status(c *gin.Context) {
	sessions := h.sessions.Sessions()
	ports := make([]int, len(sessions))
	for i, s := range sessions {
		ports[i] = s.Port
	}

	c.JSON(http.StatusOK, StatusResponse{
		Status:       "ok",
		Service:      ServiceName,
		APIVersion:   CurrentAPIVersion,
		Capabilities: h.Capabilities(),
		Ports:        ports,
		Observers:    h.observers(),
	})
}

// ListSessions returns the open capture ports
// GET /sessions
func (h *AdminHandlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.Sessions()})
}

// ListCaptures returns stored captures, newest first
// GET /captures?port=&method=&path=&limit=
func (h *AdminHandlers) ListCaptures(c *gin.Context) {
	if !h.requireHistory(c) {
		return
	}

	filter := storage.Filter{
		Method: c.Query("method"),
		Path:   c.Query("path"),
		Limit:  100,
	}

	if v := c.Query("port"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid port"})
			return
		}
		filter.Port = port
	}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	entries, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list captures", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list captures"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"captures": entries, "count": len(entries)})
}

// GetCapture returns one stored capture
// GET /captures/:id
func (h *AdminHandlers) GetCapture(c *gin.Context) {
	if !h.requireHistory(c) {
		return
	}

	id := c.Param("id")
	entry, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Capture not found"})
			return
		}
		h.logger.Error("Failed to get capture", zap.Error(err), zap.String("capture_id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get capture"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// ClearCaptures removes every stored capture
// DELETE /captures
func (h *AdminHandlers) ClearCaptures(c *gin.Context) {
	if !h.requireHistory(c) {
		return
	}

	ctx := c.Request.Context()
	n, err := h.store.Count(ctx)
	if err == nil {
		err = h.store.Clear(ctx)
	}
	if err != nil {
		h.logger.Error("Failed to clear captures", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear captures"})
		return
	}

	h.logger.Info("Cleared capture history", zap.Int64("deleted", n))
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// Stream upgrades to a WebSocket receiving every new capture
// GET /captures/stream
func (h *AdminHandlers) Stream(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Capture streaming is disabled"})
		return
	}
	h.hub.HandleConnection(c.Writer, c.Request)
}

func (h *AdminHandlers) requireHistory(c *gin.Context) bool {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Capture history is disabled"})
		return false
	}
	return true
}
