package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"qa-agent/config"
	"qa-agent/llmclient"
	"qa-agent/memory"
	"qa-agent/rag"
	"qa-agent/web"

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	// Initialize logger with default level to load config
	tempLogger, err := config.InitLogger("info")
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Load config (which includes log level setting)
	cfg := config.Load(tempLogger)

	// Re-initialize logger with configured level
	logger, err := config.InitLogger(cfg.LogLevel)
	if err != nil {
		fmt.Printf("Failed to re-initialize logger with configured level: %v\n", err)
		os.Exit(1)
	}
	defer config.Cleanup()

	llm := llmclient.New(cfg, logger)

	store, err := newSessionStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open session store", zap.Error(err))
	}
	defer store.Close()

	mem := memory.New(cfg.SessionTTL, cfg.MaxHistoryLength, store, logger)

	engine, err := rag.New(cfg, llm, llm.Embed, mem, logger)
	if err != nil {
		logger.Fatal("Failed to initialize retrieval engine", zap.Error(err))
	}

	if _, err := os.Stat(cfg.CorpusPath); err == nil {
		if err := engine.Ingest(ctx, cfg.CorpusPath); err != nil {
			logger.Error("Corpus ingestion failed", zap.Error(err))
		}
	} else {
		logger.Warn("Corpus file not found, serving persisted index only",
			zap.String("path", cfg.CorpusPath))
	}
	if !engine.Ready() {
		logger.Fatal("No corpus index available, cannot serve questions",
			zap.String("corpus_path", cfg.CorpusPath))
	}

	// Create context that listens for interrupt signals
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mem.StartSweeper(ctx, cfg.SessionSweepInterval)

	if cfg.WatchCorpus {
		go func() {
			if err := engine.WatchCorpus(ctx, cfg.CorpusPath); err != nil && ctx.Err() == nil {
				logger.Error("Corpus watcher stopped", zap.Error(err))
			}
		}()
	}

	webServer := web.NewServer(engine, logger, cfg)
	if err := webServer.Start(ctx); err != nil {
		logger.Error("Web server error", zap.Error(err))
		os.Exit(1)
	}
}

func newSessionStore(cfg *config.Config) (memory.Store, error) {
	switch cfg.SessionStoreBackend {
	case "badger":
		return memory.NewBadgerStore(cfg.SessionStorePath, false, cfg.SessionTTL)
	default:
		return memory.NewFileStore(cfg.SessionStorePath, cfg.SessionTTL), nil
	}
}
