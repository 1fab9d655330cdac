// Package api provides HTTP handlers for the risk assistant API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/risk-assistant/internal/agent"
	"github.com/ashureev/risk-assistant/internal/conversation"
	"github.com/ashureev/risk-assistant/internal/dataset"
	"github.com/ashureev/risk-assistant/internal/dictionary"
	"github.com/ashureev/risk-assistant/internal/identity"
	"github.com/ashureev/risk-assistant/internal/middleware"
)

const defaultMaxRequestBodySize = 1 << 20

// Page labels shown by every surface.
const (
	Title       = "Risk Assistant"
	PageTitle   = "Digital Assistant"
	Subtitle    = "Ask me anything!"
	Placeholder = "Your question…"
)

// AgentInfo describes the configured query agent.
type AgentInfo interface {
	Provider() string
	Model() string
	GetStats() agent.Stats
	Health(ctx context.Context) error
}

// Pinger checks backing storage.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of Handler.
type Deps struct {
	Loop               *conversation.Loop
	Registry           *conversation.Registry
	Store              Pinger
	Agent              AgentInfo
	Datasets           []dataset.Summary
	Dictionary         string
	DictionaryTables   []dictionary.Table
	RateLimiter        *middleware.RateLimiter
	MaxRequestBodySize int64
	// OnReset runs after a caller's session is discarded.
	OnReset func(ownerKey string)
	Logger  *slog.Logger
}

// Handler serves the JSON and SSE API.
type Handler struct {
	loop        *conversation.Loop
	registry    *conversation.Registry
	store       Pinger
	agent       AgentInfo
	datasets    []dataset.Summary
	dictionary  string
	tables      []dictionary.Table
	rateLimiter *middleware.RateLimiter
	maxBody     int64
	onReset     func(string)
	logger      *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	if d.MaxRequestBodySize <= 0 {
		d.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handler{
		loop:        d.Loop,
		registry:    d.Registry,
		store:       d.Store,
		agent:       d.Agent,
		datasets:    d.Datasets,
		dictionary:  d.Dictionary,
		tables:      d.DictionaryTables,
		rateLimiter: d.RateLimiter,
		maxBody:     d.MaxRequestBodySize,
		onReset:     d.OnReset,
		logger:      d.Logger,
	}
}

// RegisterRoutes mounts the API under /api. Identity middleware must run first.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HandleHealth)
		r.Get("/config", h.HandleConfig)
		r.Get("/dictionary", h.HandleDictionary)
		r.Get("/transcript", h.HandleTranscript)
		r.Post("/session/reset", h.HandleReset)
		r.Group(func(r chi.Router) {
			if h.rateLimiter != nil {
				r.Use(middleware.RateLimit(h.rateLimiter, func(r *http.Request) string {
					return identity.UserIDFromContext(r.Context())
				}))
			}
			r.Post("/chat", h.HandleChat)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type healthResponse struct {
	Status   string      `json:"status"`
	Sessions int         `json:"sessions"`
	Agent    agent.Stats `json:"agent"`
}

// HandleHealth handles GET /api/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if err := h.agent.Health(ctx); err != nil {
		h.logger.Warn("Agent health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "agent unavailable")
		return
	}
	JSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Sessions: h.registry.Len(),
		Agent:    h.agent.GetStats(),
	})
}

type configResponse struct {
	Title       string            `json:"title"`
	PageTitle   string            `json:"page_title"`
	Subtitle    string            `json:"subtitle"`
	Placeholder string            `json:"placeholder"`
	Provider    string            `json:"provider"`
	Model       string            `json:"model"`
	Datasets    []dataset.Summary `json:"datasets"`
}

// HandleConfig handles GET /api/config.
func (h *Handler) HandleConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, configResponse{
		Title:       Title,
		PageTitle:   PageTitle,
		Subtitle:    Subtitle,
		Placeholder: Placeholder,
		Provider:    h.agent.Provider(),
		Model:       h.agent.Model(),
		Datasets:    h.datasets,
	})
}

type dictionaryResponse struct {
	Template string             `json:"template"`
	Tables   []dictionary.Table `json:"tables"`
}

// HandleDictionary handles GET /api/dictionary.
func (h *Handler) HandleDictionary(w http.ResponseWriter, _ *http.Request) {
	tables := h.tables
	if tables == nil {
		tables = []dictionary.Table{}
	}
	JSON(w, http.StatusOK, dictionaryResponse{Template: h.dictionary, Tables: tables})
}

// HandleTranscript handles GET /api/transcript. Callers without a session
// get an empty idle transcript.
func (h *Handler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	owner := identity.OwnerKeyFromContext(r.Context())
	s, ok := h.registry.Get(owner)
	if !ok {
		JSON(w, http.StatusOK, conversation.Snapshot{State: conversation.StateIdle, Entries: []conversation.Entry{}})
		return
	}
	JSON(w, http.StatusOK, nonNilEntries(s.Snapshot()))
}

// HandleReset handles POST /api/session/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	owner := identity.OwnerKeyFromContext(r.Context())
	discarded := h.registry.Discard(owner)
	if discarded && h.onReset != nil {
		h.onReset(owner)
	}
	h.logger.Info("Session reset", "user_id", identity.UserIDFromContext(r.Context()), "discarded", discarded)
	JSON(w, http.StatusOK, map[string]bool{"reset": discarded})
}

func nonNilEntries(s conversation.Snapshot) conversation.Snapshot {
	if s.Entries == nil {
		s.Entries = []conversation.Entry{}
	}
	return s
}
