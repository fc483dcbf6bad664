// Package server exposes the extraction and retrieval engines over a JSON
// HTTP API plus a WebSocket event hub for progress notifications.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/cmdcenter/memorylane/internal/config"
	"github.com/cmdcenter/memorylane/internal/engine"
	"github.com/cmdcenter/memorylane/internal/importer"
	"github.com/cmdcenter/memorylane/internal/storage"
)

// Deps carries the constructed engine components the server serves.
type Deps struct {
	Retriever *engine.Retriever
	Extractor *engine.Extractor
	Resolver  *engine.EntityResolver
	Importer  *importer.TranscriptImporter
	Memories  storage.MemoryStore
	Entities  storage.EntityStore
}

// Start initializes and starts the HTTP server. Returns the actual address
// being listened on (useful for testing with port 0) and the event hub for
// wiring additional broadcasts. The server shuts down when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, deps Deps) (string, *EventHub, error) {
	hub := NewEventHub()
	go hub.Run()

	h := NewHandlers(deps.Retriever, deps.Extractor, deps.Resolver, deps.Importer,
		deps.Memories, deps.Entities, hub)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/retrieve", h.Retrieve)
	mux.HandleFunc("POST /api/feedback", h.Feedback)
	mux.HandleFunc("POST /api/extract", h.Extract)
	mux.HandleFunc("POST /api/import", h.StartImport)
	mux.HandleFunc("GET /api/import/status/{job_id}", h.ImportStatus)
	mux.HandleFunc("GET /api/memories", h.ListMemories)
	mux.HandleFunc("GET /api/entities", h.ListEntities)
	mux.HandleFunc("POST /api/entities/merge", h.MergeEntities)
	mux.HandleFunc("POST /api/maintenance/cleanup", h.Cleanup)
	mux.HandleFunc("POST /api/maintenance/backfill", h.Backfill)

	// Health endpoint, used by clients to probe the daemon.
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// WebSocket endpoint for progress events.
	mux.Handle("/ws", hub)

	rateLimiter := NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	handler := rateLimiter.Middleware(mux)
	handler = securityHeaders(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		hub.Stop()
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server: serve error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server: shutdown error: %v", err)
		}
		hub.Stop()
	}()

	log.Printf("Server: listening on %s", actualAddr)
	return actualAddr, hub, nil
}
