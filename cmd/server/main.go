// Package main is the entrypoint for the matchd API server.
package main

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

	"github.com/entityops/matchd/internal/api"
	"github.com/entityops/matchd/internal/api/handler"
	mw "github.com/entityops/matchd/internal/api/middleware"
	"github.com/entityops/matchd/internal/api/response"
	"github.com/entityops/matchd/internal/cache"
	"github.com/entityops/matchd/internal/config"
	"github.com/entityops/matchd/internal/engine"
	"github.com/entityops/matchd/internal/export"
	"github.com/entityops/matchd/internal/jobs"
	"github.com/entityops/matchd/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env,
		"engine_url", cfg.Engine.BaseURL, "fallback_simulation", cfg.Engine.FallbackSimulation)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Create store. Without DATABASE_URL jobs live in memory only.
	var jobStore store.Store
	if cfg.Database.URL != "" {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")

		jobStore = store.NewPostgresStore(pool)
	} else {
		slog.Warn("DATABASE_URL not set, jobs will not survive restarts")
		jobStore = store.NewMemoryStore()
	}

	// 3. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Create engine clients
	var live, fallback engine.Client
	if cfg.Engine.BaseURL != "" {
		live = engine.NewHTTPClient(cfg.Engine.BaseURL, cfg.Engine.Timeout)
	}
	if cfg.Engine.FallbackSimulation {
		fallback = engine.NewSimulator()
	}

	// 5. Create job manager
	bus := jobs.NewBus()
	manager := jobs.NewManager(jobStore, live, fallback, bus, redisCache, jobs.Options{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		RetryMax:      cfg.Engine.RetryMax,
	})
	manager.Start()
	defer manager.Stop()
	if err := manager.Recover(ctx); err != nil {
		return fmt.Errorf("recovering durable jobs: %w", err)
	}
	slog.Info("job manager started", "max_concurrent", cfg.Jobs.MaxConcurrent)

	exporter := export.NewExporter(jobStore)

	// 6. Build router with dependencies
	auth := mw.NewAuth(cfg.Auth.APIKeyHash)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Auth.RateLimitPerMin)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(jobStore, redisCache),

		CreateJobHandler: handler.NewCreateJobHandler(manager),
		ListJobsHandler:  handler.NewListJobsHandler(manager),
		GetJobHandler:    handler.NewGetJobHandler(manager),
		CancelJobHandler: handler.NewCancelJobHandler(manager),
		PauseJobHandler:  handler.NewPauseJobHandler(manager),
		ResumeJobHandler: handler.NewResumeJobHandler(manager),

		ResultsHandler: handler.NewResultsHandler(exporter),
		ExportHandler:  handler.NewExportHandler(exporter),
		EventsHandler:  handler.NewEventsHandler(bus),

		QueueStatsHandler: handler.NewQueueStatsHandler(manager),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks store and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"store": "ok",
			"cache": "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["store"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["store"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
