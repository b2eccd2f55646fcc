// Academic assistant HTTP server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"academic-assistant/handler"
	"academic-assistant/internal/app"
	"academic-assistant/internal/config"
	"academic-assistant/internal/documents"
	"academic-assistant/internal/observability"
)

const (
	sessionTTL    = 12 * time.Hour
	sweepInterval = 10 * time.Minute
	watchDebounce = 500 * time.Millisecond
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("failed to build assistant", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("failed to close stores", "err", closeErr)
		}
	}()

	h, err := handler.NewHandler(a.Assistant, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	h.Routes(r)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler(prometheus.DefaultGatherer))

	if cfg.WatchDocuments {
		if err := watchDocuments(ctx, a, logger); err != nil {
			slog.Error("failed to watch documents", "dir", a.Documents.Dir(), "err", err)
			os.Exit(1)
		}
	}
	go sweepSessions(ctx, a)

	// Uploads and summaries can run long, so there is no write timeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "err", err)
	}
}

// watchDocuments reindexes PDFs written to the data directory and purges
// the ones removed from it.
func watchDocuments(ctx context.Context, a *app.App, logger *slog.Logger) error {
	w, err := documents.NewWatcher(watchDebounce, logger)
	if err != nil {
		return err
	}
	events, err := w.Watch(ctx, a.Documents.Dir())
	if err != nil {
		_ = w.Close()
		return err
	}

	go func() {
		defer func() { _ = w.Close() }()
		for e := range events {
			switch e.Op {
			case documents.OpChanged:
				chunks, err := a.Assistant.Reindex(ctx, e.Name)
				if err != nil {
					logger.Warn("reindex failed", "document", e.Name, "err", err)
					continue
				}
				logger.Info("document reindexed", "document", e.Name, "chunks", chunks)
			case documents.OpRemoved:
				_ = a.Assistant.Forget(ctx, e.Name)
			}
		}
	}()
	return nil
}

func sweepSessions(ctx context.Context, a *app.App) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Assistant.ExpireSessions(ctx, sessionTTL); err != nil {
				slog.Warn("session sweep failed", "err", err)
			}
		}
	}
}
