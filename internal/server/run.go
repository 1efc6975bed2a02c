package server

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

	"github.com/morezero/livequery/internal/config"
	"github.com/morezero/livequery/pkg/apps/counter"
	"github.com/morezero/livequery/pkg/apps/guestbook"
	"github.com/morezero/livequery/pkg/commsutil"
	"github.com/morezero/livequery/pkg/db"
	"github.com/morezero/livequery/pkg/events"
	"github.com/morezero/livequery/pkg/registry"
)

// NewAppRegistry registers every handler module served by this binary and seals the registry.
func NewAppRegistry() (*registry.Registry, error) {
	reg := registry.NewRegistry()
	for _, m := range []registry.Module{counter.Module(), guestbook.Module()} {
		if err := reg.Register(m); err != nil {
			return nil, fmt.Errorf("%s - failed to register module %q: %w", logPrefix, m.Prefix, err)
		}
	}
	reg.Seal()
	return reg, nil
}

// SetupLogging installs the default slog handler for the given level name.
func SetupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	SetupLogging(cfg.LogLevel)
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting livequery", logPrefix))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Data store
	var store Store
	if cfg.DatabaseURL == "" {
		slog.Info(fmt.Sprintf("%s - DATABASE_URL not set, using in-memory store", logPrefix))
		store = db.NewMemoryStore()
	} else {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
		}
		defer pool.Close()

		if cfg.RunMigrations {
			migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
			if err != nil {
				return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
			}
			if err := db.RunMigrations(ctx, pool, migrations); err != nil {
				return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
			}
		}
		store = db.NewRepository(pool)
	}

	// Step 2: Optional COMMS publishing of invalidation events
	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName, commsutil.ConnectOptions{})
		if err != nil {
			return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		defer nc.Drain()
		publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalSubject: cfg.InvalidationSubject})
		slog.Info(fmt.Sprintf("%s - Publishing invalidation events to COMMS at %s", logPrefix, cfg.COMMSURL))
	}

	// Step 3: Handler registry
	reg, err := NewAppRegistry()
	if err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Registered %d handlers: %v", logPrefix, reg.Len(), reg.Keys()))

	// Step 4: HTTP + websocket
	s := New(NewServerParams{Config: cfg, Registry: reg, Store: store, Publisher: publisher})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("%s - Listening on %s (websocket %s)", logPrefix, cfg.HTTPAddr, cfg.WSPath))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info(fmt.Sprintf("%s - livequery is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))
	case err := <-errCh:
		s.Close()
		return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.HealthCheckTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}
	s.Close()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}
