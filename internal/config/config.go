// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Agent providers.
const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderGRPC      = "grpc"
)

var (
	// ErrMissingAPIKey is returned when no credential is configured for the agent provider.
	ErrMissingAPIKey = errors.New("agent api key not configured")
	// ErrUnknownProvider is returned for an unsupported AGENT_PROVIDER value.
	ErrUnknownProvider = errors.New("unknown agent provider")
)

var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderGemini:    "gemini-2.5-flash",
	ProviderAnthropic: "claude-sonnet-4-5",
	ProviderGRPC:      "",
}

var providerKeyEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGRPC:      "AGENT_GRPC_TOKEN",
}

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	LogLevel           string
	LogFile            string
	KPIPath            string
	ActivityPath       string
	SessionTTL         time.Duration
	SweepInterval      time.Duration
	MaxRequestBodySize int64
	Agent              AgentConfig
	Query              QueryConfig
	RateLimit          RateLimitConfig
	ConversationLog    ConversationLogConfig
	Events             EventsConfig
}

// AgentConfig selects and tunes the query agent backend.
type AgentConfig struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Addr        string
	Temperature float64
	MaxSteps    int
	MaxTokens   int
	Timeout     time.Duration
}

// QueryConfig bounds the read-only SQL tool.
type QueryConfig struct {
	RowLimit int
	Timeout  time.Duration
}

// RateLimitConfig controls per-user chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// EventsConfig configures the optional NATS turn event bus.
type EventsConfig struct {
	NATSURL   string
	NATSToken string
	Subject   string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	provider := strings.ToLower(strings.TrimSpace(getEnv("AGENT_PROVIDER", "")))
	if provider == "" {
		provider = ProviderOpenAI
	}
	model := strings.TrimSpace(getEnv("AGENT_MODEL", ""))
	if model == "" {
		model = defaultModels[provider]
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFile:            getEnv("LOG_FILE", ""),
		KPIPath:            getEnv("KPI_CSV_PATH", "kpi.csv"),
		ActivityPath:       getEnv("ACTIVITY_CSV_PATH", "activity.csv"),
		SessionTTL:         getEnvDuration("SESSION_TTL", 60*time.Minute),
		SweepInterval:      getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		Agent: AgentConfig{
			Provider:    provider,
			APIKey:      resolveAPIKey(provider),
			Model:       model,
			BaseURL:     getEnv("AGENT_BASE_URL", ""),
			Addr:        getEnv("AGENT_ADDR", "localhost:50051"),
			Temperature: getEnvFloat("AGENT_TEMPERATURE", 0),
			MaxSteps:    getEnvInt("AGENT_MAX_STEPS", 8),
			MaxTokens:   getEnvInt("AGENT_MAX_TOKENS", 2048),
			Timeout:     getEnvDuration("AGENT_TIMEOUT", 120*time.Second),
		},
		Query: QueryConfig{
			RowLimit: getEnvInt("QUERY_ROW_LIMIT", 200),
			Timeout:  getEnvDuration("QUERY_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
		Events: EventsConfig{
			NATSURL:   getEnv("NATS_URL", ""),
			NATSToken: getEnv("NATS_TOKEN", ""),
			Subject:   getEnv("NATS_SUBJECT", "riskassistant.turns"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// resolveAPIKey prefers AGENT_API_KEY and falls back to the provider's conventional variable.
func resolveAPIKey(provider string) string {
	if key := strings.TrimSpace(os.Getenv("AGENT_API_KEY")); key != "" {
		return key
	}
	if env, ok := providerKeyEnv[provider]; ok {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.KPIPath == "" {
		return fmt.Errorf("KPI_CSV_PATH cannot be empty")
	}
	if c.ActivityPath == "" {
		return fmt.Errorf("ACTIVITY_CSV_PATH cannot be empty")
	}
	if _, ok := defaultModels[c.Agent.Provider]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Agent.Provider)
	}
	if c.Agent.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Agent.Provider == ProviderGRPC && c.Agent.Addr == "" {
		return fmt.Errorf("AGENT_ADDR cannot be empty for the grpc provider")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("AGENT_MAX_STEPS must be > 0")
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("AGENT_TIMEOUT must be > 0")
	}
	if c.Query.RowLimit <= 0 {
		return fmt.Errorf("QUERY_ROW_LIMIT must be > 0")
	}
	if c.SessionTTL <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_TTL and SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
