// Package main is the entry point for the taxonomy dashboard server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taxodash/server/internal/api"
	"github.com/taxodash/server/internal/artifactstore"
	"github.com/taxodash/server/internal/cache"
	"github.com/taxodash/server/internal/config"
	"github.com/taxodash/server/internal/dataset"
	"github.com/taxodash/server/internal/render"
	"github.com/taxodash/server/internal/selection"
	"github.com/taxodash/server/internal/service"
	"github.com/taxodash/server/internal/web"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting taxonomy dashboard on port %d", cfg.Server.Port)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Load the cell table once; it is immutable afterwards.
	table, err := dataset.LoadFile(cfg.Data.Path, dataset.LoadOptions{
		IndexColumn: cfg.Data.HasIndexColumn(),
		Schema: dataset.Schema{
			Categorical: cfg.Data.Categorical,
			Numeric:     cfg.Data.Numeric,
		},
	})
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}
	log.Printf("[Dataset] Loaded %d cells, %d columns from %s (fingerprint %s)",
		table.Len(), len(table.Registry()), cfg.Data.Path, table.Fingerprint())
	if missing := table.MissingExpected(); len(missing) > 0 {
		log.Printf("[Dataset] Missing expected columns, related views are disabled: %v", missing)
	}

	// Artifact store (optional SQLite persistence of computed aggregates)
	var (
		artifactStore *artifactstore.SQLiteStore
		store         cache.Store
		lister        api.ArtifactLister
	)
	if cfg.Cache.ArtifactPath != "" {
		artifactStore, err = artifactstore.NewSQLiteStore(cfg.Cache.ArtifactPath)
		if err != nil {
			log.Fatalf("Failed to open artifact store: %v", err)
		}
		defer artifactStore.Close()
		store, lister = artifactStore, artifactStore
		log.Printf("[Cache] Artifact store: %s", cfg.Cache.ArtifactPath)

		if cfg.Cache.ArtifactMaxAgeHours > 0 {
			cutoff := time.Now().Add(-time.Duration(cfg.Cache.ArtifactMaxAgeHours) * time.Hour)
			n, err := artifactStore.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				log.Printf("[Cache] Failed to prune artifacts: %v", err)
			} else if n > 0 {
				log.Printf("[Cache] Pruned %d artifact(s) older than %dh", n, cfg.Cache.ArtifactMaxAgeHours)
			}
		}
	}

	fingerprint := ""
	if cfg.Cache.FingerprintKeys {
		fingerprint = table.Fingerprint()
	}
	aggregates := cache.NewAggregateCache(store, fingerprint)

	// Plot and option caches
	cacheManager, err := cache.NewManager(cache.Config{
		PlotCacheSizeMB:  cfg.Cache.PlotSizeMB,
		PlotTTL:          time.Duration(cfg.Cache.PlotTTLMinutes) * time.Minute,
		OptionsCacheSize: cfg.Cache.OptionsCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	plotRenderer := render.NewPlotRenderer(render.Config{
		Width:     cfg.Render.Width,
		Height:    cfg.Render.Height,
		PointSize: cfg.Render.PointSize,
	})

	sessions := selection.NewStore(cfg.Session.IdleTimeout())
	go sessions.Run(ctx, time.Minute)

	dashboard := service.NewDashboardService(service.DashboardServiceConfig{
		Table:               table,
		Aggregates:          aggregates,
		Cache:               cacheManager,
		Renderer:            plotRenderer,
		Sessions:            sessions,
		MaxLegendCategories: cfg.Render.MaxLegendCategories,
		MaxPoints:           cfg.Render.MaxPoints,
	})

	warm := cfg.Cache.Warm
	if warm == nil {
		warm = service.DefaultWarmArtifacts
	}
	if len(warm) > 0 {
		start := time.Now()
		if err := dashboard.Warm(ctx, warm); err != nil {
			log.Fatalf("Failed to warm artifacts: %v", err)
		}
		log.Printf("[Cache] Warmed %d artifact(s) in %s", len(warm), time.Since(start).Round(time.Millisecond))
	}

	pages, err := web.NewRenderer()
	if err != nil {
		log.Fatalf("Failed to parse page templates: %v", err)
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Service:     dashboard,
		Artifacts:   lister,
		Pages:       pages,
		Title:       cfg.Server.Title,
		CORSOrigins: cfg.Server.CORSOrigins,
		CookieName:  cfg.Session.CookieName,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
