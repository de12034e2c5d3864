package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"qchat/internal/api"
	"qchat/internal/config"
	"qchat/internal/relay"
)

// Application wires the relay components and owns the HTTP server lifecycle.
// Initialization order: Registry → Router → Handler → API → HTTP.
type Application struct {
	config     *config.Config
	registry   *relay.Registry
	router     *relay.Router
	httpServer *http.Server
	log        *slog.Logger
}

// NewApplication builds a fully wired relay from configuration.
func NewApplication(cfg *config.Config, log *slog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	registry := relay.NewRegistry(log)
	router := relay.NewRouter(registry, log)
	wsHandler := relay.NewHandler(router, log)
	apiServer := api.NewServer(registry, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/health", apiServer)
	mux.Handle("/stats", apiServer)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		registry:   registry,
		router:     router,
		httpServer: httpServer,
		log:        log,
	}, nil
}

// Start begins serving and returns once the listener is up or startup failed.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info("starting relay", "addr", app.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info("relay started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the server down gracefully within the context deadline.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down relay")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn("http server shutdown error", "error", err)
		return err
	}

	app.log.Info("relay shutdown complete")
	return nil
}

// Addr returns the configured bind address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}

// Registry exposes the connection registry, mainly for tests and stats.
func (app *Application) Registry() *relay.Registry {
	return app.registry
}
