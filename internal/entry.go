// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/api"
	"github.com/starford/raido/internal/backend"
	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/mcpserver"
	"github.com/starford/raido/internal/notestore"
	"github.com/starford/raido/internal/sse"
	"github.com/starford/raido/internal/state"
	"github.com/starford/raido/internal/vault"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("remote", cfg.Remote.BaseURL),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	v, err := vault.New(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	// Local note collection and durable sync state share one SQLite file.
	notes, err := notestore.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init note store: %w", err)
	}
	defer notes.Close()

	stateDB, err := state.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init sync state: %w", err)
	}
	defer stateDB.Close()

	// Backend client with session refresh and invalid-session signalling.
	client, err := backend.NewHTTPClient(backend.Options{
		BaseURL:      cfg.Remote.BaseURL,
		SyncPath:     cfg.Remote.SyncPath,
		SnapshotPath: cfg.Remote.SnapshotPath,
		RefreshPath:  cfg.Remote.RefreshPath,
		Token:        cfg.Remote.Token,
		Logger:       logger,
		OnSessionInvalid: func() {
			logger.Warn("backend session invalid; re-authentication required")
		},
	})
	if err != nil {
		return fmt.Errorf("init backend client: %w", err)
	}

	// SSE broker.
	broker := sse.NewBroker()
	defer broker.Close()

	// Sync engine. Events fan out to the SSE stream and the vault mirror;
	// the mirror is attached after construction because it needs the
	// manager for recording local edits.
	events := &deferredEvents{}
	mgr, err := engine.NewManager(engine.Config{
		Notes:    notes,
		Queue:    state.NewQueueStore(stateDB),
		Metadata: state.NewMetadataStore(stateDB),
		Backend:  client,
		Events:   events,
		Device:   cfg.Remote.Device,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("init sync engine: %w", err)
	}

	mirror := vault.NewMirror(v, notes, mgr, logger)
	events.set(engine.MultiEvents(broker, mirror))

	// Establish the session: replay queued work, then reconcile.
	res := mgr.HandleSignIn(ctx, cfg.Remote.UserID)
	logger.Info("session established",
		slog.String("user_id", cfg.Remote.UserID),
		slog.Bool("queue_flushed", res.QueueFlushed),
		slog.Bool("snapshot_applied", res.SnapshotApplied))

	// Pick up vault edits made while the process was down.
	if err := mirror.ScanOnce(); err != nil {
		logger.Warn("initial vault scan failed", slog.String("error", err.Error()))
	}

	// Build API router.
	apiRouter := api.NewRouter(notes, mgr, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start vault watcher.
	g.Go(func() error {
		return vault.Watch(gCtx, mirror, logger)
	})

	// Periodic synchronization.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Remote.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				mgr.Synchronize(gCtx, engine.SyncOptions{})
			}
		}
	})

	// MCP server on stdio, when requested.
	if app.mcpStdio {
		g.Go(func() error {
			srv := mcpserver.New(notes, mgr)
			if err := srv.ServeStdio(); err != nil {
				logger.Warn("mcp server stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		mgr.HandleSignOut()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
