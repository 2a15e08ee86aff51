package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/verbatim-audio/verbatim/internal/api"
	"github.com/verbatim-audio/verbatim/internal/asr"
	"github.com/verbatim-audio/verbatim/internal/asr/gemini"
	"github.com/verbatim-audio/verbatim/internal/asr/remote"
	"github.com/verbatim-audio/verbatim/internal/config"
	"github.com/verbatim-audio/verbatim/internal/metrics"
	"github.com/verbatim-audio/verbatim/internal/session"
	"github.com/verbatim-audio/verbatim/internal/storage/sqlite"
	"github.com/verbatim-audio/verbatim/internal/transcription"
	"github.com/verbatim-audio/verbatim/internal/vad"
	"github.com/verbatim-audio/verbatim/internal/websocket"
	"github.com/verbatim-audio/verbatim/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Verbatim server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	m := metrics.New(prometheus.DefaultRegisterer)

	// Create the speech recognition engine
	var engine asr.Engine
	switch cfg.ASR.Provider {
	case "remote":
		engine, err = remote.NewEngine(remote.Config{
			Endpoint:      cfg.ASR.Endpoint,
			APIKey:        cfg.ASR.APIKey,
			Timeout:       time.Duration(cfg.ASR.TimeoutSeconds) * time.Second,
			MaxRetries:    cfg.ASR.MaxRetries,
			MaxConcurrent: cfg.ASR.MaxConcurrent,
		}, log)
	case "gemini":
		engine, err = gemini.NewEngine(cfg.ASR.GeminiAPIKey, cfg.ASR.GeminiModel, log)
	}
	if err != nil {
		log.Error("Failed to create speech recognition engine",
			logger.String("provider", cfg.ASR.Provider),
			logger.Error(err))
		os.Exit(1)
	}

	registry := asr.NewRegistry(engine, log)

	// Optionally warm up the default model before accepting clients
	if cfg.ASR.PreloadModel {
		log.Info("Preloading model", logger.String("model", cfg.ASR.DefaultModel))
		preloadCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := registry.Ensure(preloadCtx, cfg.ASR.DefaultModel); err != nil {
			log.Error("Failed to preload model",
				logger.String("model", cfg.ASR.DefaultModel),
				logger.Error(err))
			cancel()
			os.Exit(1)
		}
		cancel()
		m.ModelLoads.Inc()
	}

	// Create transcript storage when archiving is enabled
	var (
		store             transcription.TranscriptStore
		transcriptStorage *sqlite.TranscriptStorage
	)
	if cfg.Storage.Enabled {
		today := time.Now().Format("2006-01-02")
		dbPath := filepath.Join(cfg.Storage.SQLiteBasePath, fmt.Sprintf("verbatim-%s.db", today))

		if err := os.MkdirAll(cfg.Storage.SQLiteBasePath, 0755); err != nil {
			log.Error("Failed to create database directory",
				logger.Error(err),
				logger.String("path", cfg.Storage.SQLiteBasePath))
			os.Exit(1)
		}

		transcriptStorage, err = sqlite.NewTranscriptStorage(dbPath, log)
		if err != nil {
			log.Error("Failed to create SQLite storage", logger.Error(err))
			os.Exit(1)
		}
		defer transcriptStorage.Close()
		store = transcriptStorage
		log.Info("Using daily transcript database", logger.String("path", dbPath))
	}

	// Create the voice activity gate
	detector, err := vad.NewEnergyDetector(
		cfg.VAD.Threshold,
		cfg.VAD.WindowSamples,
		cfg.VAD.MinSpeechSecs,
		cfg.VAD.HangoverSecs,
	)
	if err != nil {
		log.Error("Failed to create VAD detector", logger.Error(err))
		os.Exit(1)
	}
	gate := vad.NewGate(detector, log)

	pipeline := transcription.NewPipeline(registry, store, m, log)

	manager := session.NewManager(
		cfg.Sessions,
		cfg.Audio,
		session.Config{
			Model:      cfg.ASR.DefaultModel,
			VADEnabled: true,
			BeamSize:   cfg.ASR.BeamSize,
		},
		gate,
		pipeline,
		registry,
		m,
		log,
	)
	managerCtx, managerCancel := context.WithCancel(context.Background())
	manager.Start(managerCtx)

	// Create API router
	wsHandler := websocket.NewHandler(manager, m, log)
	handler := api.NewHandler(manager, registry, cfg, wsHandler, transcriptStorage, log)
	router := api.NewRouter(handler, cfg)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", server.Addr), logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", logger.Error(err))
	}

	log.Info("Stopping session manager...")
	manager.Stop()
	managerCancel()
	log.Info("Session manager stopped.")

	log.Info("Server shutdown complete")
}
