// Package cli wires configuration, data and the query agent into the
// riskassistant commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/ashureev/risk-assistant/internal/agent"
	"github.com/ashureev/risk-assistant/internal/config"
	"github.com/ashureev/risk-assistant/internal/conversation"
	"github.com/ashureev/risk-assistant/internal/dataset"
	"github.com/ashureev/risk-assistant/internal/dictionary"
	"github.com/ashureev/risk-assistant/internal/events"
	"github.com/ashureev/risk-assistant/internal/store"
)

// MissingAPIKeyMessage is printed when no agent API key is configured.
const MissingAPIKeyMessage = "API key not found. Please check your .env file."

// UserMessage converts a startup error into the line shown to the user.
func UserMessage(err error) string {
	var srcErr *dataset.SourceError
	switch {
	case errors.Is(err, config.ErrMissingAPIKey):
		return MissingAPIKeyMessage
	case errors.As(err, &srcErr):
		return srcErr.Error()
	default:
		return err.Error()
	}
}

// App holds every long-lived dependency of a command.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Datasets   dataset.Set
	Store      *store.SQLiteStore
	Agent      *agent.Service
	ConvLog    agent.ConversationLogger
	Publisher  events.Publisher
	Registry   *conversation.Registry
	Loop       *conversation.Loop
	Dictionary string

	logFile io.Closer
}

// Flags are the global command-line options.
type Flags struct {
	EnvFile      string
	KPIPath      string
	ActivityPath string
}

// loadConfig reads the env file and environment, then applies flag overrides.
func loadConfig(flags Flags) (*config.Config, error) {
	if err := godotenv.Load(flags.EnvFile); err != nil {
		slog.Debug("No .env file found, using environment variables", "path", flags.EnvFile)
	}
	if flags.KPIPath != "" {
		if err := os.Setenv("KPI_CSV_PATH", flags.KPIPath); err != nil {
			return nil, err
		}
	}
	if flags.ActivityPath != "" {
		if err := os.Setenv("ACTIVITY_CSV_PATH", flags.ActivityPath); err != nil {
			return nil, err
		}
	}
	return config.Load()
}

// newLogger builds the JSON logger. console selects stdout; otherwise logs
// only go to LOG_FILE so terminal output stays clean.
func newLogger(cfg *config.Config, console bool) (*slog.Logger, io.Closer, error) {
	var writers []io.Writer
	if console {
		writers = append(writers, os.Stdout)
	}
	var closer io.Closer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	if len(writers) == 0 {
		return slog.New(slog.DiscardHandler), nil, nil
	}
	handler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: cfg.SlogLevel()})
	return slog.New(handler), closer, nil
}

// Bootstrap loads configuration and data and builds the agent. Errors are
// suitable for UserMessage.
func Bootstrap(ctx context.Context, flags Flags, console bool) (*App, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	logger, logFile, err := newLogger(cfg, console)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	app := &App{Config: cfg, Logger: logger, logFile: logFile}

	if err := app.init(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	set, err := dataset.Load(ctx, dataset.DefaultSources(cfg.KPIPath, cfg.ActivityPath))
	if err != nil {
		return err
	}
	a.Datasets = set
	for _, name := range set.Names() {
		ds := set[name]
		a.Logger.Info("Dataset loaded", "name", name, "path", ds.Path(), "rows", ds.Len(), "columns", len(ds.Columns()))
		if missing := dictionary.Check(name, ds.ColumnNames()); len(missing) > 0 {
			a.Logger.Warn("Dataset is missing dictionary columns", "name", name, "missing", missing)
		}
	}

	a.Store, err = store.NewSQLite(cfg.Query.Timeout)
	if err != nil {
		return fmt.Errorf("open query store: %w", err)
	}
	if err := store.LoadAll(ctx, a.Store, set); err != nil {
		return fmt.Errorf("load query store: %w", err)
	}

	toolbox := agent.NewToolbox(a.Store, cfg.Query.RowLimit, a.Logger)
	a.Agent, err = agent.New(ctx, cfg.Agent, toolbox, a.Logger)
	if err != nil {
		return fmt.Errorf("initialize query agent: %w", err)
	}

	a.ConvLog, err = agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, a.Logger)
	if err != nil {
		return err
	}

	a.Publisher = events.Noop()
	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.NATSToken, cfg.Events.Subject, a.Logger)
		if err != nil {
			return err
		}
		a.Publisher = pub
		a.Logger.Info("Turn events enabled", "subject", cfg.Events.Subject)
	}

	a.Dictionary = dictionary.Text()
	a.Registry = conversation.NewRegistry(a.Logger)
	a.Loop = conversation.NewLoop(a.Agent, a.Dictionary,
		conversation.WithConversationLogger(a.ConvLog),
		conversation.WithPublisher(a.Publisher),
		conversation.WithModel(a.Agent.Provider(), a.Agent.Model()),
		conversation.WithLogger(a.Logger),
	)
	return nil
}

// Summaries returns dataset summaries in name order.
func (a *App) Summaries() []dataset.Summary {
	out := make([]dataset.Summary, 0, len(a.Datasets))
	for _, name := range a.Datasets.Names() {
		out = append(out, a.Datasets[name].Summarize())
	}
	return out
}

// Close releases resources in reverse order of creation.
func (a *App) Close() {
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.ConvLog != nil {
		if err := a.ConvLog.Close(); err != nil {
			a.Logger.Warn("Failed to close conversation logger", "error", err)
		}
	}
	if a.Agent != nil {
		if err := a.Agent.Close(); err != nil {
			a.Logger.Warn("Failed to close query agent", "error", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("Failed to close query store", "error", err)
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
