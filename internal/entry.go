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
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/infrawiki/internal/api"
	"github.com/starford/infrawiki/internal/index"
	"github.com/starford/infrawiki/internal/lock"
	"github.com/starford/infrawiki/internal/mcpserver"
	"github.com/starford/infrawiki/internal/metrics"
	"github.com/starford/infrawiki/internal/nodeservice"
	"github.com/starford/infrawiki/internal/seed"
	"github.com/starford/infrawiki/internal/sse"
	"github.com/starford/infrawiki/internal/storage"
)

var registerMetrics sync.Once

// components is everything a command needs, wired from the configuration.
type components struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *index.DB
	index  *index.Index
	locks  *lock.Manager
	svc    *nodeservice.Service
}

func (c *components) Close() error {
	return c.db.Close()
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOut: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// open builds the storage, catalog, locks, index and node service. It does
// not rebuild the index.
func (a *application) open(svcOpts ...nodeservice.Option) (*components, error) {
	cfg := a.config
	logger := newLogger(cfg.App, a.logOut)
	slog.SetDefault(logger)

	logger.Info("config: loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("content_root", cfg.Content.Root),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Content.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create content root: %w", err)
	}
	store, err := storage.NewFS(cfg.Content.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	// Leftovers of operations interrupted by a crash.
	if n, err := store.Sweep(); err != nil {
		logger.Warn("storage: sweep failed", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("storage: swept leftovers", slog.Int("count", n))
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	registerMetrics.Do(func() { metrics.RegisterCollectors(prometheus.DefaultRegisterer) })

	ix := index.New(nodeservice.NewSource(store, logger),
		index.WithCatalog(db),
		index.WithLogger(logger),
		index.WithRebuildObserver(metrics.ObserveRebuild))
	locks := lock.New(
		lock.WithTimeout(cfg.Locks.Timeout),
		lock.WithObserver(metrics.ObserveLock))

	opts := append([]nodeservice.Option{
		nodeservice.WithLogger(logger),
		nodeservice.WithLimits(nodeservice.Limits{
			MaxAttachmentBytes: cfg.Limits.MaxAttachmentBytes,
			MaxAttachments:     cfg.Limits.MaxAttachments,
		}),
	}, svcOpts...)

	return &components{
		cfg:    cfg,
		logger: logger,
		store:  store,
		db:     db,
		index:  ix,
		locks:  locks,
		svc:    nodeservice.NewService(store, locks, ix, opts...),
	}, nil
}

// warmUp builds the index from disk and seeds the demo tree when asked to.
func (c *components) warmUp(ctx context.Context) {
	if _, err := c.index.Rebuild(ctx); err != nil {
		c.logger.Warn("index: initial rebuild failed", slog.String("error", err.Error()))
	}
	if !c.cfg.Content.SeedDemo {
		return
	}
	seeded, err := seed.EnsureDemo(ctx, c.svc, c.logger)
	if err != nil {
		c.logger.Warn("seed: demo tree failed", slog.String("error", err.Error()))
		return
	}
	if seeded {
		c.logger.Info("seed: demo tree created")
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	c, err := app.open(nodeservice.WithEvents(func(e nodeservice.Event) {
		broker.NodeChanged(sse.Change{Kind: e.Kind, Path: e.Path, OldPath: e.OldPath})
	}))
	if err != nil {
		return err
	}
	defer c.Close()
	c.warmUp(ctx)

	cfg := c.cfg
	logger := c.logger

	apiRouter := api.NewRouter(c.svc, api.RouterConfig{
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		Events:      broker,
		RateLimit:   cfg.App.HTTP.RateLimit.RPS,
		Burst:       cfg.App.HTTP.RateLimit.Burst,
	})

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
	r.Get("/health/ready", readyHandler(c.index))
	r.Handle("/metrics", promhttp.Handler())

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Content.Watch {
		g.Go(func() error {
			err := index.Watch(gCtx, c.index, cfg.Content.Root, cfg.Content.Debounce, logger, func(kind, path string) {
				broker.NodeChanged(sse.Change{Kind: kind, Path: path})
			})
			if err != nil {
				// The API keeps working without the watcher; offline edits
				// are picked up by the next rebuild.
				logger.Error("watcher: stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("http: listening", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("shutdown: signal received", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("shutdown: context cancelled")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http: shutdown failed", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("server stopped")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

func readyHandler(ix *index.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if ix.Stale() {
			_, _ = w.Write([]byte(`{"status":"ok","index":"stale"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","index":"fresh"}`))
	}
}

// ServeMCP serves the MCP tools on stdin/stdout until stdin closes. Logs go
// to stderr since stdout carries the protocol.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append(opts, WithLogOutput(os.Stderr)))
	if err != nil {
		return err
	}
	c, err := app.open()
	if err != nil {
		return err
	}
	defer c.Close()
	c.warmUp(ctx)

	c.logger.Info("mcp: serving on stdio", slog.String("version", app.version))
	return mcpserver.New(c.svc, app.version).ServeStdio()
}

// Reindex rebuilds the index and catalog from the content root and reports
// what differed from the catalog of the previous run.
func Reindex(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := app.open()
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.svc.Reindex(ctx); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	count, err := c.db.Count()
	if err != nil {
		return fmt.Errorf("reindex: count: %w", err)
	}
	c.logger.Info("reindex: done", slog.Int("nodes", count))
	return nil
}
