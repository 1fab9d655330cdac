package agent

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// Service wraps a backend with a per-call deadline, logging, and counters.
type Service struct {
	backend  QueryAgent
	provider string
	model    string
	timeout  time.Duration
	logger   *slog.Logger

	calls    atomic.Int64
	failures atomic.Int64
}

// Stats contains agent statistics.
type Stats struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Calls    int64  `json:"calls"`
	Failures int64  `json:"failures"`
}

// NewService wraps backend. A zero timeout leaves deadlines to the caller.
func NewService(backend QueryAgent, provider, model string, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend:  backend,
		provider: provider,
		model:    model,
		timeout:  timeout,
		logger:   logger,
	}
}

// Answer forwards to the backend.
func (s *Service) Answer(ctx context.Context, prompt string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.calls.Add(1)
	start := time.Now()
	answer, err := s.backend.Answer(ctx, prompt)
	elapsed := time.Since(start)
	if err != nil {
		s.failures.Add(1)
		s.logger.Warn("Agent call failed", "provider", s.provider, "model", s.model, "duration", elapsed, "error", err)
		return "", err
	}
	s.logger.Info("Agent call completed", "provider", s.provider, "model", s.model, "duration", elapsed, "answer_length", len(answer))
	return answer, nil
}

// GetStats returns agent statistics.
func (s *Service) GetStats() Stats {
	return Stats{
		Provider: s.provider,
		Model:    s.model,
		Calls:    s.calls.Load(),
		Failures: s.failures.Load(),
	}
}

// Provider returns the configured provider name.
func (s *Service) Provider() string { return s.provider }

// Model returns the configured model name.
func (s *Service) Model() string { return s.model }

// Healther is implemented by backends that can report readiness.
type Healther interface {
	Health(ctx context.Context) error
}

// Health reports backend readiness. Backends without a health check are
// always ready.
func (s *Service) Health(ctx context.Context) error {
	if h, ok := s.backend.(Healther); ok {
		return h.Health(ctx)
	}
	return nil
}

// Close releases backend resources.
func (s *Service) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
