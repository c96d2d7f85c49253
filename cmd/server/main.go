package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/yegors/co-voice/internal/agent"
	"github.com/yegors/co-voice/internal/ai"
	"github.com/yegors/co-voice/internal/ai/deepgram"
	"github.com/yegors/co-voice/internal/ai/gemini"
	"github.com/yegors/co-voice/internal/api"
	"github.com/yegors/co-voice/internal/config"
	"github.com/yegors/co-voice/internal/retrieval"
	"github.com/yegors/co-voice/internal/storage/sqlite"
	"github.com/yegors/co-voice/internal/templating"
	"github.com/yegors/co-voice/internal/transcription"
	"github.com/yegors/co-voice/internal/websocket"
	"github.com/yegors/co-voice/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Co-Voice server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Knowledge base persistence
	var chunkStorage *sqlite.ChunkStorage
	if cfg.Storage.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0755); err != nil {
			log.Error("Failed to create database directory", logger.Error(err), logger.String("path", cfg.Storage.SQLitePath))
			os.Exit(1)
		}
		chunkStorage, err = sqlite.NewChunkStorage(cfg.Storage.SQLitePath, log)
		if err != nil {
			log.Error("Failed to create SQLite storage", logger.Error(err))
			os.Exit(1)
		}
		defer chunkStorage.Close()
		log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))
	}

	// Generation, embeddings and fallback synthesis
	templateEngine := templating.NewEngine(cfg.Templating.InstructionTemplatePath, log)
	geminiClient, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:          cfg.Gemini.APIKey,
		BaseURL:         cfg.Gemini.BaseURL,
		GenerationModel: cfg.Gemini.GenerationModel,
		Temperature:     cfg.Gemini.Temperature,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
	}, templateEngine, log)
	if err != nil {
		log.Error("Failed to create Gemini client", logger.Error(err))
		os.Exit(1)
	}

	embedders := make([]ai.Embedder, 0, len(cfg.Retrieval.EmbeddingModels))
	for _, model := range cfg.Retrieval.EmbeddingModels {
		embedders = append(embedders, geminiClient.Embedder(model))
	}
	embedder, err := ai.NewEmbedderChain(log, embedders...)
	if err != nil {
		log.Error("Failed to create embedder chain", logger.Error(err))
		os.Exit(1)
	}

	indexOpts := retrieval.Options{
		ChunkTargetChars:  cfg.Retrieval.ChunkTargetChars,
		IngestConcurrency: cfg.Retrieval.IngestConcurrency,
	}
	if chunkStorage != nil {
		indexOpts.Store = chunkStorage
	}
	index := retrieval.NewIndex(embedder, indexOpts, log)

	if chunkStorage != nil {
		chunks, err := chunkStorage.LoadChunks(ctx)
		if err != nil {
			log.Error("Failed to load persisted knowledge base", logger.Error(err))
			os.Exit(1)
		}
		index.Load(chunks)
		log.Info("Knowledge base loaded", logger.Int("chunks", index.Len()))
	}

	// Speech recognition and synthesis
	deepgramClient := deepgram.NewClient(cfg.Deepgram.APIKey, deepgram.Options{
		BaseURL:          cfg.Deepgram.BaseURL,
		HandshakeTimeout: time.Duration(cfg.Deepgram.Listen.HandshakeTimeoutSecs) * time.Second,
		HTTPTimeout:      time.Duration(cfg.Deepgram.Speak.TimeoutSeconds) * time.Second,
	}, log)

	synthesizers := make([]ai.Synthesizer, 0, len(cfg.Agent.Synthesizers))
	for _, name := range cfg.Agent.Synthesizers {
		switch name {
		case "deepgram":
			synthesizers = append(synthesizers, deepgramClient.Speaker(deepgram.SpeakOptions{
				Model:      cfg.Deepgram.Speak.Model,
				Encoding:   cfg.Deepgram.Speak.Encoding,
				Container:  cfg.Deepgram.Speak.Container,
				SampleRate: cfg.Deepgram.Speak.SampleRate,
			}))
		case "gemini":
			synthesizers = append(synthesizers, geminiClient.Speaker(cfg.Gemini.TTSModel, cfg.Gemini.TTSVoice, cfg.Gemini.TTSSampleRate))
		}
	}
	synthesizer, err := ai.NewSynthesizerChain(log, synthesizers...)
	if err != nil {
		log.Error("Failed to create synthesizer chain", logger.Error(err))
		os.Exit(1)
	}

	pipeline := agent.NewPipeline(index, geminiClient, synthesizer, agent.PipelineConfig{
		TopK:            cfg.Agent.TopK,
		SegmentMaxChars: cfg.Agent.SegmentMaxChars,
		PreviewChars:    cfg.Agent.PreviewChars,
		ErrorMessage:    cfg.Agent.GenerationErrorMessage,
	}, log)

	listen := cfg.Deepgram.Listen
	transcriptionConfig := transcription.Config{
		Model:             listen.Model,
		Language:          listen.Language,
		SampleRate:        listen.SampleRate,
		Encoding:          listen.Encoding,
		SmartFormat:       listen.SmartFormat,
		InterimResults:    listen.InterimResults,
		EndpointingMs:     listen.EndpointingMs,
		BufferFrames:      listen.BufferFrames,
		ConnectTimeout:    time.Duration(listen.ConnectTimeoutSecs) * time.Second,
		KeepAliveInterval: time.Duration(listen.KeepAliveSecs) * time.Second,
		KeepAliveMessage:  deepgram.KeepAliveMessage(),
		MaxRetries:        listen.MaxRetries,
	}
	newTranscriber := func(sessionCtx context.Context) agent.Transcriber {
		return transcription.NewAdapter(sessionCtx, deepgramClient, transcriptionConfig, log)
	}

	manager := agent.NewManager(pipeline, newTranscriber, agent.SessionConfig{
		SystemPrompt:        cfg.Agent.SystemPrompt,
		MinFinalChars:       cfg.Agent.MinFinalChars,
		HistoryExchanges:    cfg.Agent.HistoryExchanges,
		CollaboratorTimeout: time.Duration(cfg.Agent.CollaboratorTimeoutSec) * time.Second,
	}, log)

	wsServer := websocket.NewServer(websocket.Config{
		SendQueueSize:  cfg.Server.SendQueueSize,
		PingInterval:   time.Duration(cfg.Server.PingIntervalSecs) * time.Second,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, func(client *websocket.Client) websocket.Session {
		return manager.CreateSession(client)
	}, log)

	var documents api.DocumentStore
	if chunkStorage != nil {
		documents = chunkStorage
	}
	handler := api.NewHandler(index, manager, documents, wsServer, cfg, log)
	router := api.NewRouter(handler, cfg, log)

	// --- Setup for multiple HTTP servers ---
	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}
	if len(cfg.Server.AdditionalPorts) > 0 {
		allPorts = append(allPorts, cfg.Server.AdditionalPorts...)
	}

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	routes := router.Routes()
	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      routes,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Sessions first so no run emits into a closing socket
	log.Info("Closing conversation sessions...", logger.Int("sessions", manager.Count()))
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Error("Session shutdown did not complete", logger.Error(err))
	}
	wsServer.CloseAll()

	cancel()

	log.Info("Shutting down HTTP servers...")
	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait()

	log.Info("Server fully stopped")
}
