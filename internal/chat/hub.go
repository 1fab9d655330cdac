// Package chat serves the conversation over WebSocket.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// Hub tracks open WebSocket connections per conversation owner. Several
// windows may share one owner; they all receive the same frames.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[*websocket.Conn]struct{}),
		logger: logger,
	}
}

// Register adds conn under owner.
func (h *Hub) Register(owner string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.active[owner]; !ok {
		h.active[owner] = make(map[*websocket.Conn]struct{})
	}
	h.active[owner][conn] = struct{}{}
	h.logger.Info("Chat connection registered", "owner", owner, "connections", len(h.active[owner]))
}

// Unregister removes conn. Unknown connections are ignored.
func (h *Hub) Unregister(owner string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.active[owner]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.active, owner)
	}
	h.logger.Info("Chat connection unregistered", "owner", owner)
}

// Count returns the number of connections for owner.
func (h *Hub) Count(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[owner])
}

func (h *Hub) snapshot(owner string) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(h.active[owner]))
	for c := range h.active[owner] {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast sends frame to every connection of owner.
func (h *Hub) Broadcast(owner string, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Failed to marshal chat frame", "error", err, "type", frame.Type)
		return
	}
	for _, conn := range h.snapshot(owner) {
		if err := writeRaw(conn, data); err != nil {
			h.logger.Debug("Chat broadcast write failed", "owner", owner, "error", err)
		}
	}
}

// CloseOwner closes every connection of owner with reason.
func (h *Hub) CloseOwner(owner, reason string) {
	h.mu.Lock()
	conns := h.active[owner]
	delete(h.active, owner)
	h.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
	}
	if len(conns) > 0 {
		h.logger.Info("Chat connections closed", "owner", owner, "reason", reason, "count", len(conns))
	}
}

func writeRaw(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
