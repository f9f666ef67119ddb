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

	"github.com/saybook/saybook/internal/api"
	"github.com/saybook/saybook/internal/audio"
	"github.com/saybook/saybook/internal/config"
	"github.com/saybook/saybook/internal/events"
	"github.com/saybook/saybook/internal/health"
	"github.com/saybook/saybook/internal/pipeline"
	"github.com/saybook/saybook/internal/provider"
	"github.com/saybook/saybook/internal/storage"
	"github.com/saybook/saybook/internal/store"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/dev.example.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting SayBook Server v%s", version)
	log.Printf("Configuration loaded from: %s", *configPath)

	// Initialize storage adapter
	storageAdapter, err := storage.NewAdapter(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to create storage adapter: %v", err)
	}
	defer storageAdapter.Close()
	log.Printf("Storage adapter initialized: %s", cfg.Storage.Adapter)

	// Open the database
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	log.Printf("Database opened: %s", cfg.Database.Path)

	// Initialize provider registry
	providerRegistry := provider.NewRegistry()
	if err := providerRegistry.InitializeProviders(cfg.Providers); err != nil {
		log.Fatalf("Failed to initialize providers: %v", err)
	}
	defer providerRegistry.Close()

	log.Printf("Providers initialized:")
	log.Printf("  LLM: %v", providerRegistry.ListLLM())
	log.Printf("  TTS: %v", providerRegistry.ListTTS())

	llm, err := providerRegistry.DefaultLLM()
	if err != nil {
		log.Fatalf("No LLM provider available: %v", err)
	}
	tts, err := providerRegistry.DefaultTTS()
	if err != nil {
		log.Fatalf("No TTS provider available: %v", err)
	}

	// Event hub pushes pipeline progress to WebSocket subscribers
	hub := events.NewHub()

	// Audio post-processor (ffmpeg)
	speeder := audio.NewProcessor(cfg.Autopilot.FFmpegPath)

	// Pipeline services
	autopilot := pipeline.NewAutopilot(db, llm, tts, storageAdapter, speeder, hub,
		cfg.Autopilot.MaxSegmentChars, cfg.Autopilot.MaxSegmentRetries, cfg.Autopilot.TempDir)
	batch := pipeline.NewBatch(db, llm, tts, storageAdapter, speeder, hub,
		cfg.Autopilot.MaxSegmentChars, cfg.Autopilot.MaxSegmentRetries, cfg.Autopilot.TempDir)

	// Initialize health checks
	healthHandler := health.NewHandler(version)

	healthHandler.Register("storage", func(ctx context.Context) (health.Status, error) {
		if _, err := storageAdapter.Exists(ctx, ".healthcheck"); err != nil {
			return health.StatusUnhealthy, err
		}
		return health.StatusHealthy, nil
	})

	healthHandler.Register("database", func(ctx context.Context) (health.Status, error) {
		if err := db.Ping(ctx); err != nil {
			return health.StatusUnhealthy, err
		}
		return health.StatusHealthy, nil
	})

	healthHandler.Register("providers", func(ctx context.Context) (health.Status, error) {
		if len(providerRegistry.ListLLM()) == 0 || len(providerRegistry.ListTTS()) == 0 {
			return health.StatusDegraded, fmt.Errorf("missing providers")
		}
		return health.StatusHealthy, nil
	})

	// Set up HTTP server and routes
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health/live", healthHandler.LivenessHandler())
	mux.HandleFunc("/health/ready", healthHandler.ReadinessHandler())
	mux.HandleFunc("/health", healthHandler.HealthHandler())

	// Real-time event subscription
	mux.HandleFunc("/ws", hub.ServeWS)

	// Project and chapter endpoints
	projectHandler := api.NewProjectHandler(db)
	mux.HandleFunc("/api/v1/projects", projectHandler.Projects)
	mux.HandleFunc("/api/v1/projects/", projectHandler.ProjectSubresource)
	mux.HandleFunc("/api/v1/chapters/", projectHandler.ChapterSubresource)

	// Voice library and role binding
	voicesHandler := api.NewVoicesHandler(db, storageAdapter)
	mux.HandleFunc("/api/v1/voices", voicesHandler.Voices)
	mux.HandleFunc("/api/v1/vocab", voicesHandler.Vocabularies)
	mux.HandleFunc("/api/v1/roles/", voicesHandler.BindRoleVoice)

	// Stored audio playback
	audioHandler := api.NewAudioHandler(storageAdapter)
	mux.HandleFunc("/api/v1/audio/", audioHandler.ServeAudio)

	// Batch operations
	batchHandler := api.NewBatchHandler(batch)
	mux.HandleFunc("/api/v1/batch/llm-parse", batchHandler.LLMParse)
	mux.HandleFunc("/api/v1/batch/llm-status", batchHandler.LLMStatus)
	mux.HandleFunc("/api/v1/batch/llm-cancel", batchHandler.LLMCancel)
	mux.HandleFunc("/api/v1/batch/tts-generate", batchHandler.TTSGenerate)
	mux.HandleFunc("/api/v1/batch/voice-preview", batchHandler.VoicePreview)
	mux.HandleFunc("/api/v1/batch/voice-debug", batchHandler.VoiceDebug)
	mux.HandleFunc("/api/v1/batch/adjust-speed", batchHandler.AdjustSpeed)
	mux.HandleFunc("/api/v1/batch/batch-adjust-speed", batchHandler.BatchAdjustSpeed)

	// Autopilot control
	autopilotHandler := api.NewAutopilotHandler(autopilot, hub)
	mux.HandleFunc("/api/v1/autopilot/start", autopilotHandler.Start)
	mux.HandleFunc("/api/v1/autopilot/status", autopilotHandler.Status)
	mux.HandleFunc("/api/v1/autopilot/pause", autopilotHandler.Pause)
	mux.HandleFunc("/api/v1/autopilot/resume", autopilotHandler.Resume)
	mux.HandleFunc("/api/v1/autopilot/cancel", autopilotHandler.Cancel)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop active runs before closing the listener
	autopilot.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
