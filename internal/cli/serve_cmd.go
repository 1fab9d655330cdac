package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/ashureev/risk-assistant/internal/api"
	"github.com/ashureev/risk-assistant/internal/chat"
	"github.com/ashureev/risk-assistant/internal/dictionary"
	"github.com/ashureev/risk-assistant/internal/identity"
	"github.com/ashureev/risk-assistant/internal/middleware"
	"github.com/ashureev/risk-assistant/web"
)

func newServeCmd(flags *Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat web page, JSON API and WebSocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := Bootstrap(cmd.Context(), *flags, true)
			if err != nil {
				return err
			}
			defer app.Close()
			return serve(cmd.Context(), app)
		},
	}
}

// Router builds the HTTP routes for app. The returned stop function ends
// background work owned by the router.
func Router(app *App) (http.Handler, func()) {
	cfg := app.Config
	logger := app.Logger

	hub := chat.NewHub(logger)
	wsHandler := chat.NewHandler(app.Loop, app.Registry, hub, cfg.FrontendURL, cfg.IsDevelopment(), logger)
	app.Registry.OnEvict(wsHandler.SessionEvicted)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	apiHandler := api.NewHandler(api.Deps{
		Loop:               app.Loop,
		Registry:           app.Registry,
		Store:              app.Store,
		Agent:              app.Agent,
		Datasets:           app.Summaries(),
		Dictionary:         app.Dictionary,
		DictionaryTables:   dictionary.Tables(),
		RateLimiter:        limiter,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		OnReset:            wsHandler.SessionReset,
		Logger:             logger,
	})

	origins := []string{"*"}
	if cfg.FrontendURL != "" {
		origins = strings.Split(cfg.FrontendURL, ",")
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(origins, identity.SessionHeaderName))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)
	r.Get("/ws/chat", wsHandler.ServeHTTP)
	r.Handle("/*", web.SPAHandler())

	return r, limiter.Stop
}

func serve(ctx context.Context, app *App) error {
	cfg := app.Config
	handler, stopRouter := Router(app)
	defer stopRouter()

	// SSE responses stay open for the whole turn, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	app.Registry.StartSweeper(ctx, cfg.SessionTTL, cfg.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr, "provider", app.Agent.Provider(), "model", app.Agent.Model(), "dev", cfg.IsDevelopment())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("Server stopped successfully")
	return nil
}
