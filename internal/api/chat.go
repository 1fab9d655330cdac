package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/risk-assistant/internal/conversation"
	"github.com/ashureev/risk-assistant/internal/identity"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the JSON result of a turn.
type ChatResponse struct {
	SessionID string               `json:"session_id"`
	Question  string               `json:"question"`
	Answer    string               `json:"answer,omitempty"`
	Ignored   bool                 `json:"ignored,omitempty"`
	Entries   []conversation.Entry `json:"entries"`
}

// TurnFailure is returned with 502 when the agent could not answer.
type TurnFailure struct {
	Error    string `json:"error"`
	Question string `json:"question"`
}

// HandleChat handles POST /api/chat. Clients sending
// Accept: text/event-stream receive state, transcript and error events.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	owner := identity.OwnerKeyFromContext(r.Context())
	session := h.registry.GetOrCreate(owner)
	ctx := conversation.WithChannel(r.Context(), "http")

	h.logger.Info("Chat request",
		"user_id", identity.UserIDFromContext(r.Context()),
		"session_id", session.ID(),
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
	)

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		h.streamChat(w, r, session, req.Message)
		return
	}

	turn, err := h.loop.Submit(ctx, session, req.Message, nil)
	if err != nil {
		h.writeTurnError(w, err)
		return
	}
	JSON(w, http.StatusOK, ChatResponse{
		SessionID: session.ID(),
		Question:  turn.Question,
		Answer:    turn.Answer,
		Ignored:   turn.Ignored,
		Entries:   nonNilEntries(session.Snapshot()).Entries,
	})
}

func (h *Handler) writeTurnError(w http.ResponseWriter, err error) {
	var turnErr *conversation.TurnError
	switch {
	case errors.Is(err, conversation.ErrTurnInProgress), errors.Is(err, conversation.ErrSessionClosed):
		Error(w, http.StatusConflict, err.Error())
	case errors.As(err, &turnErr):
		JSON(w, http.StatusBadGateway, TurnFailure{Error: turnErr.Err.Error(), Question: turnErr.Question})
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

// sseStream writes headers lazily so errors raised before the first event
// can still be reported with a status code.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
	failed  error
}

func (s *sseStream) send(event string, v any) {
	if s.failed != nil {
		return
	}
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.failed = err
		return
	}
	if err := writeSSE(s.w, event, string(data)); err != nil {
		s.failed = err
		return
	}
	s.flusher.Flush()
}

func (h *Handler) streamChat(w http.ResponseWriter, r *http.Request, session *conversation.Session, message string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	stream := &sseStream{w: w, flusher: flusher}
	ctx := conversation.WithChannel(r.Context(), "sse")

	_, err := h.loop.Submit(ctx, session, message, func(snap conversation.Snapshot) {
		stream.send("state", map[string]string{"state": string(snap.State), "question": snap.Question})
	})
	if err != nil && !stream.started {
		h.writeTurnError(w, err)
		return
	}
	if err != nil {
		var turnErr *conversation.TurnError
		failure := TurnFailure{Error: err.Error()}
		if errors.As(err, &turnErr) {
			failure = TurnFailure{Error: turnErr.Err.Error(), Question: turnErr.Question}
		}
		stream.send("error", failure)
	}
	stream.send("transcript", nonNilEntries(session.Snapshot()))
	if stream.failed != nil {
		h.logger.Warn("Failed to write SSE event", "error", stream.failed, "session_id", session.ID())
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
