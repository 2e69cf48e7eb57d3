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

	"margin/sync/internal/app"
	"margin/sync/internal/bridge"
	"margin/sync/internal/config"
	"margin/sync/internal/room"
	"margin/sync/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var recordStore store.RecordStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		if err := store.EnsureSchema(ctx, db); err != nil {
			log.Fatalf("schema setup failed: %v", err)
		}
		recordStore = store.NewPostgresStore(db)
		log.Printf("Using PostgreSQL for document snapshots")
	} else {
		recordStore = store.NewMemoryStore()
		log.Printf("No DATABASE_URL set, documents are held in memory only")
	}

	opts := room.Options{
		Store:     recordStore,
		SaveDelay: cfg.SaveDelay,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		b, err := bridge.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer b.Close()
		opts.Bridge = b
		log.Printf("Cross-instance bridge enabled (instance %s)", b.InstanceID())
	}
	registry := room.NewRegistry(opts)

	httpServer := app.NewHTTPServer(registry, recordStore, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Sync server listening on %s", cfg.Addr)
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
	registry.Close(shutdownCtx)
}
