package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/risk-assistant/internal/conversation"
	"github.com/ashureev/risk-assistant/internal/identity"
)

const maxMessageSize = 64 << 10

// Handler upgrades GET /ws/chat and runs turns for the caller's session.
type Handler struct {
	loop          *conversation.Loop
	registry      *conversation.Registry
	hub           *Hub
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a WebSocket chat handler.
func NewHandler(loop *conversation.Loop, registry *conversation.Registry, hub *Hub, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		loop:          loop,
		registry:      registry,
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// SessionReset pushes an empty transcript to the owner's open connections.
func (h *Handler) SessionReset(owner string) {
	s := h.registry.GetOrCreate(owner)
	h.hub.Broadcast(owner, TranscriptFrame(s.Snapshot()))
}

// SessionEvicted closes the owner's connections.
func (h *Handler) SessionEvicted(s *conversation.Session) {
	h.hub.CloseOwner(s.Owner(), "session expired")
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	owner := identity.OwnerKeyFromContext(r.Context())
	h.logger.Info("WebSocket connection request", "user_id", userID, "session_id", identity.SessionIDFromContext(r.Context()), "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(maxMessageSize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.hub.Register(owner, ws)
	defer h.hub.Unregister(owner, ws)

	ctx, cancel := context.WithCancel(conversation.WithChannel(r.Context(), "ws"))
	defer cancel()

	session := h.registry.GetOrCreate(owner)
	if err := h.writeJSON(ws, TranscriptFrame(session.Snapshot())); err != nil {
		h.logger.Debug("Failed to send initial transcript", "error", err)
		return
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	h.readLoop(ctx, ws, owner, &wg)
	cancel()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	// Same-origin page served by this process.
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, owner string, wg *sync.WaitGroup) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed", "owner", owner)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "owner", owner)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.writeJSON(ws, errorFrame("invalid message", "")); err != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case TypePing:
			if err := h.writeJSON(ws, Frame{Type: TypePong}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		case TypeMessage:
			// The turn runs beside the read loop so pings and overlapping
			// messages are still answered while the agent works.
			wg.Add(1)
			go func(content string) {
				defer wg.Done()
				h.runTurn(ctx, ws, owner, content)
			}(msg.Content)
		default:
			if err := h.writeJSON(ws, errorFrame("unknown message type: "+msg.Type, "")); err != nil {
				return
			}
		}
	}
}

func (h *Handler) runTurn(ctx context.Context, ws *websocket.Conn, owner, content string) {
	session := h.registry.GetOrCreate(owner)
	turn, err := h.loop.Submit(ctx, session, content, func(snap conversation.Snapshot) {
		h.hub.Broadcast(owner, stateFrame(snap))
	})

	var turnErr *conversation.TurnError
	switch {
	case err == nil:
		if turn.Ignored {
			return
		}
		h.hub.Broadcast(owner, TranscriptFrame(session.Snapshot()))
	case errors.As(err, &turnErr):
		h.hub.Broadcast(owner, errorFrame(turnErr.Err.Error(), turnErr.Question))
		h.hub.Broadcast(owner, TranscriptFrame(session.Snapshot()))
	default:
		if writeErr := h.writeJSON(ws, errorFrame(err.Error(), content)); writeErr != nil {
			h.logger.Debug("Failed to send error frame", "error", writeErr)
		}
	}
}

func (h *Handler) writeJSON(ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeRaw(ws, data)
}
