package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/risk-assistant/internal/config"
)

// New builds the configured backend wrapped in a Service.
func New(ctx context.Context, cfg config.AgentConfig, tools *Toolbox, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := Options{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		MaxSteps:    cfg.MaxSteps,
		MaxTokens:   cfg.MaxTokens,
		Logger:      logger,
	}

	var backend QueryAgent
	switch cfg.Provider {
	case config.ProviderOpenAI:
		backend = NewOpenAIAgent(opts, tools)
	case config.ProviderAnthropic:
		backend = NewAnthropicAgent(opts, tools)
	case config.ProviderGemini:
		g, err := NewGeminiAgent(ctx, opts, tools)
		if err != nil {
			return nil, err
		}
		backend = g
	case config.ProviderGRPC:
		r, err := NewRemoteAgent(DefaultGrpcClientConfig(cfg.Addr, cfg.APIKey), logger)
		if err != nil {
			return nil, err
		}
		backend = r
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownProvider, cfg.Provider)
	}

	logger.Info("Query agent initialized", "provider", cfg.Provider, "model", cfg.Model)
	return NewService(backend, cfg.Provider, cfg.Model, cfg.Timeout, logger), nil
}
