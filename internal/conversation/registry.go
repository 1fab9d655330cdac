package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EvictFunc is called after a session is removed by the sweeper.
type EvictFunc func(s *Session)

// Registry maps owner keys to their session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	onEvict  EvictFunc
	logger   *slog.Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
		now:      time.Now,
	}
}

// OnEvict registers fn to run for every session the sweeper evicts.
func (r *Registry) OnEvict(fn EvictFunc) {
	r.mu.Lock()
	r.onEvict = fn
	r.mu.Unlock()
}

// GetOrCreate returns the owner's session, creating one if needed.
func (r *Registry) GetOrCreate(owner string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[owner]; ok {
		return s
	}
	s := newSession(owner, r.now())
	r.sessions[owner] = s
	r.logger.Debug("Session created", "owner", owner, "session_id", s.ID())
	return s
}

// Get returns the owner's session if one exists.
func (r *Registry) Get(owner string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[owner]
	return s, ok
}

// Discard closes and removes the owner's session. The next GetOrCreate
// starts a fresh transcript.
func (r *Registry) Discard(owner string) bool {
	r.mu.Lock()
	s, ok := r.sessions[owner]
	delete(r.sessions, owner)
	r.mu.Unlock()
	if ok {
		s.close()
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than ttl and returns how many were removed.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	var expired []*Session
	for owner, s := range r.sessions {
		if s.idleSince(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, owner)
		}
	}
	onEvict := r.onEvict
	r.mu.Unlock()

	now := r.now()
	for _, s := range expired {
		s.close()
		r.logger.Info("Session evicted", "owner", s.Owner(), "session_id", s.ID(), "entries", s.Len(), "age", now.Sub(s.CreatedAt()))
		if onEvict != nil {
			onEvict(s)
		}
	}
	return len(expired)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		r.logger.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if n := r.Sweep(ttl); n > 0 {
					r.logger.Info("Session sweep completed", "evicted", n, "remaining", r.Len())
				}
			case <-ctx.Done():
				r.logger.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
