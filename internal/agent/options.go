package agent

import (
	"log/slog"
	"net/http"
	"time"
)

// Options tune a hosted model backend.
type Options struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxSteps    int
	MaxTokens   int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func (o Options) withDefaults(baseURL string) Options {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = 8
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 2048
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
