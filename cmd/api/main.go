package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bobarin/beatcut/internal/api"
	"github.com/bobarin/beatcut/internal/config"
	"github.com/bobarin/beatcut/internal/db"
	"github.com/bobarin/beatcut/internal/download"
	"github.com/bobarin/beatcut/internal/edit"
	"github.com/bobarin/beatcut/internal/ingest"
	"github.com/bobarin/beatcut/internal/library"
	"github.com/bobarin/beatcut/internal/media"
	"github.com/bobarin/beatcut/internal/queue"
	"github.com/bobarin/beatcut/internal/slotplan"
	"github.com/bobarin/beatcut/internal/storage"
	"github.com/bobarin/beatcut/internal/worker"
)

func main() {
	log.Println("Starting beatcut API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize storage (optional)
	var uploader worker.PayloadUploader
	if cfg.StorageEnabled() {
		st := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
		st.SignedURLSeconds = cfg.SupabaseSignedURLTTL
		uploader = st
		log.Println("Initialized Supabase storage")
	} else {
		log.Println("Supabase storage not configured, payloads are kept in the database only")
	}

	// Download cache, cleared on shutdown
	downloads, err := download.NewManager(download.Options{
		CacheDir: cfg.CacheDir,
		CapBytes: cfg.DownloadCapBytes,
	})
	if err != nil {
		log.Fatalf("Failed to create download cache: %v", err)
	}
	defer downloads.Close()
	log.Printf("Download cache at %s (cap %d bytes)", downloads.CacheDir(), downloads.CapBytes())

	ffmpegSvc := media.NewFFmpegService()

	blobs, err := ingest.NewBlobStore(filepath.Join(cfg.DataDir, "media"))
	if err != nil {
		log.Fatalf("Failed to create media store: %v", err)
	}
	ingester := ingest.New(blobs, database, ffmpegSvc, downloads)

	assembler := slotplan.NewAssembler(library.New(cfg.DataDir))
	pipeline := edit.New(assembler, downloads, ingester, edit.Config{
		AspectRatio:         cfg.AspectRatio,
		BackgroundColor:     cfg.BackgroundColor,
		LeadInFrames:        cfg.LeadInFrames,
		DownloadConcurrency: cfg.DownloadConcurrency,
		MediaBaseURL:        cfg.PublicBaseURL,
	})

	// Create API handler
	handler := api.NewHandler(database, database, q, pipeline, ingester)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	workerDone := make(chan struct{})
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		w := worker.New(database, q, uploader, pipeline)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go func() {
			w.Start(workerCtx, cfg.MaxConcurrentJobs)
			close(workerDone)
		}()
	} else {
		close(workerDone)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown worker and let in-flight jobs record their outcome
	if workerCancel != nil {
		workerCancel()
	}
	select {
	case <-workerDone:
	case <-ctx.Done():
		log.Println("WARNING: worker did not stop in time")
	}

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
