// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the command layer.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantfeed/flashcrawl/internal/config"
	"github.com/quantfeed/flashcrawl/internal/logging"
	"github.com/quantfeed/flashcrawl/internal/store"
)

// App holds the shared services every command needs: the logger, the flash
// store, and the ops HTTP listener. It is built once at startup and torn
// down once at exit.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Store  *store.FlashStore

	ops *http.Server
}

// New initializes services from the given config, failing fast when any
// critical dependency cannot be reached. The database schema is ensured at
// startup so commands never race table creation.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	st, err := store.New(ctx, store.Config{
		DSN:             cfg.Storage.DSN,
		MaxConns:        cfg.Storage.MaxConns,
		MinConns:        cfg.Storage.MinConns,
		MaxConnLifetime: time.Duration(cfg.Storage.ConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Store:  st,
	}
	a.startOpsServer(cfg.Server.Port)
	return a, nil
}

// startOpsServer serves liveness and metrics on a side listener. A failed
// bind is logged but never kills ingestion.
func (a *App) startOpsServer(port int) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})
	r.Handle("/metrics", promhttp.Handler())

	a.ops = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Info("ops server listening", zap.String("addr", a.ops.Addr))
		if err := a.ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("ops server failed", zap.Error(err))
		}
	}()
}

// Close tears down the ops server, the store, and flushes the logger. The
// calling context is usually already canceled by the time Close runs, so
// shutdown gets its own deadline.
func (a *App) Close() {
	if a.ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.ops.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("ops server shutdown", zap.Error(err))
		}
	}
	if a.Store != nil {
		a.Store.Close()
	}
	a.Logger.Sync() //nolint:errcheck // best-effort flush
}
