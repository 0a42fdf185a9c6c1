package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lfzhong/amazon-web-scrawler/internal/api"
	"github.com/lfzhong/amazon-web-scrawler/internal/browser"
	"github.com/lfzhong/amazon-web-scrawler/internal/config"
	"github.com/lfzhong/amazon-web-scrawler/internal/coordinator"
	"github.com/lfzhong/amazon-web-scrawler/internal/export"
	"github.com/lfzhong/amazon-web-scrawler/internal/ratelimit"
	"github.com/lfzhong/amazon-web-scrawler/internal/scraper"
	"github.com/lfzhong/amazon-web-scrawler/internal/session"
	"github.com/lfzhong/amazon-web-scrawler/internal/storage"
)

func main() {
	// Setup logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	storageStatePath := filepath.Join(cfg.Session.DataDir, "storage_state.json")

	// Browser setup
	b, err := browser.New(&browser.Options{
		Headless:         cfg.Scraper.Headless,
		Timeout:          time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
		Profile:          browser.NewProfile(),
		StorageStatePath: storageStatePath,
	})
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	// Session manager with a real login client
	sessions, err := session.NewManager(cfg.Session.DataDir, browser.NewLoginClient(b), b, logger)
	if err != nil {
		logger.Error("failed to initialize session manager", "error", err)
		os.Exit(1)
	}

	// Pacing: one randomized pacer throttles page fetches and widens on
	// blocking signals; a second pacer staggers worker launches.
	minDelay := time.Duration(cfg.Scraper.RateLimitMinMs) * time.Millisecond
	maxDelay := time.Duration(cfg.Scraper.RateLimitMaxMs) * time.Millisecond
	fetchPacer := ratelimit.NewBackoffPacer(minDelay, maxDelay)
	launchPacer := ratelimit.NewPacer(minDelay, maxDelay)

	fetcher := browser.NewFetcher(b, fetchPacer, cfg.Scraper.MaxRetries)

	// Domain services
	discovery := scraper.NewDiscovery(fetcher, logger)
	extractor := scraper.NewExtractor(fetcher, logger)
	runner := coordinator.New(extractor, launchPacer, coordinator.Options{
		Workers:        cfg.Scraper.ConcurrentWorkers,
		ProductTimeout: cfg.Scraper.ProductTimeout,
	}, logger)

	if err := os.MkdirAll(cfg.Export.Dir, 0o755); err != nil {
		logger.Error("failed to create export dir", "error", err)
		os.Exit(1)
	}
	exporter := export.NewExporter(cfg.Export.Dir, logger)

	artifacts, err := storage.NewArtifactRegistry(filepath.Join(cfg.Export.Dir, "artifacts.json"))
	if err != nil {
		logger.Error("failed to initialize artifact registry", "error", err)
		os.Exit(1)
	}

	// Initialize API handlers
	defaults := scraper.Options{
		MaxReviews: cfg.Scraper.MaxReviews,
		MaxPages:   cfg.Scraper.MaxPages,
	}
	handlers := api.NewHandlers(discovery, extractor, runner, exporter, artifacts, sessions, defaults, logger)

	// Setup Chi router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Scraper.RunTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API Routes
	r.Mount("/api/v1", handlers.Routes())

	// Start server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
