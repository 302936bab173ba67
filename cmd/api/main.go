package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"greenlight/api/internal/app"
	"greenlight/api/internal/archive"
	"greenlight/api/internal/config"
	"greenlight/api/internal/flows"
	"greenlight/api/internal/live"
	"greenlight/api/internal/minutes"
	"greenlight/api/internal/search"
	"greenlight/api/internal/tickets"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("invalid timezone %q: %v", cfg.Timezone, err)
	}

	store, err := live.NewStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer store.Close()

	var collab app.Collaborators

	var archiveStore *archive.PostgresStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := archive.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := archive.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		archiveStore = archive.NewPostgresStore(db)
		collab.Archive = archiveStore
	} else {
		log.Printf("DATABASE_URL not set, session history disabled")
	}

	if strings.TrimSpace(cfg.TicketsURL) != "" {
		collab.Tickets = tickets.NewClient(cfg.TicketsURL, cfg.TicketsToken)
	} else {
		log.Printf("TICKETS_URL not set, agenda sync disabled")
	}

	if strings.TrimSpace(cfg.DesignFileURL) != "" {
		collab.Flows = flows.NewScraper(cfg.DesignFileURL)
	}

	if strings.TrimSpace(cfg.MinutesDir) != "" {
		if err := os.MkdirAll(cfg.MinutesDir, 0o755); err != nil {
			log.Fatalf("failed to create minutes dir: %v", err)
		}
		collab.Minutes = minutes.New(cfg.MinutesDir)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	if meiliClient != nil || archiveStore != nil {
		var fallback search.ArchiveSearcher
		if archiveStore != nil {
			fallback = archiveStore
		}
		collab.Search = search.NewService(meiliClient, fallback)
	}

	service := app.New(cfg, store, loc, collab)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// WriteTimeout stays zero so event streams are not cut off.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Greenlight API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
