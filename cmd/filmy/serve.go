package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/filmyai/filmy/internal/api"
	"github.com/filmyai/filmy/internal/config"
	"github.com/filmyai/filmy/internal/db"
	"github.com/filmyai/filmy/internal/editor"
	"github.com/filmyai/filmy/internal/instruction"
	"github.com/filmyai/filmy/internal/llm"
	"github.com/filmyai/filmy/internal/logging"
	"github.com/filmyai/filmy/internal/playback"
	"github.com/filmyai/filmy/internal/status"
	"github.com/filmyai/filmy/internal/storage"
	"github.com/filmyai/filmy/internal/studio"
)

func serve() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting filmy", "version", Version, "addr", cfg.Addr(), "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	statuses, closeStatuses, err := newStatusStore(cfg, database, logger)
	if err != nil {
		return err
	}
	defer closeStatuses()

	files, err := storage.New(storage.Config{
		TempDir:          cfg.TempDir(),
		OutputDir:        cfg.OutputDir(),
		SupportedFormats: cfg.SupportedFormats(),
		MaxBytes:         cfg.MaxVideoSizeBytes(),
	}, logging.WithComponent(logger, "storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	gen, err := newGenerator(cfg, logger)
	if err != nil {
		return err
	}
	parser := instruction.NewStrategy(gen, logging.WithComponent(logger, "parser"))

	enc := cfg.Encode()
	edCfg := editor.DefaultConfig()
	edCfg.FFmpegPath = cfg.FFmpegPath()
	edCfg.FFprobePath = cfg.FFprobePath()
	edCfg.Encoding = editor.Encoding{
		Preset:       enc.Preset,
		CRF:          enc.CRF,
		VideoBitrate: enc.VideoBitrate,
		AudioBitrate: enc.AudioBitrate,
	}
	edCfg.EncodeTimeout = cfg.EncodeTimeout()
	edCfg.DenoiseChunk = cfg.DenoiseChunk()
	ed := editor.New(edCfg, logging.WithComponent(logger, "editor"))

	repo := studio.NewRepository(database.Conn())
	svc := studio.NewService(repo, parser, ed, files, statuses, cfg.MaxConcurrentEdits(), logger)
	runner := studio.NewRunner(svc, repo, logging.WithComponent(logger, "runner"))

	apiServer := api.NewServer(api.ServerConfig{
		Addr:               cfg.Addr(),
		Service:            svc,
		Playback:           playback.NewServer(logger),
		Logger:             logger,
		StartTime:          startTime,
		Version:            Version,
		APIKey:             cfg.APIKey(),
		CORSOrigins:        cfg.CORSOrigins(),
		SupportedFormats:   cfg.SupportedFormats(),
		StrictContentType:  cfg.StrictContentType(),
		MaxUploadBytes:     cfg.MaxVideoSizeBytes(),
		RateLimitPerMinute: cfg.RateLimitPerMinute(),
		StatusPollInterval: cfg.StatusPollInterval(),
		LLMEnabled:         parser.LLMEnabled(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Start(gctx)
		return nil
	})
	g.Go(apiServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func newStatusStore(cfg config.Config, database *db.DB, logger *slog.Logger) (status.Store, func(), error) {
	switch cfg.StatusBackend() {
	case "sqlite":
		logger.Info("using sqlite status store")
		return status.NewSQLiteStore(database.Conn()), func() {}, nil
	case "redis":
		rs, err := status.NewRedisStore(status.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword(),
			DB:       cfg.RedisDB(),
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize redis status store: %w", err)
		}
		return rs, func() { rs.Close() }, nil
	default:
		return status.NewMemoryStore(), func() {}, nil
	}
}

// newGenerator returns nil when no LLM key is configured.
func newGenerator(cfg config.Config, logger *slog.Logger) (instruction.TextGenerator, error) {
	if !cfg.LLMEnabled() {
		logger.Info("no llm api key configured, using rule-based parser only")
		return nil, nil
	}
	client, err := llm.New(llm.Config{
		APIKey:  cfg.LLMAPIKey(),
		BaseURL: cfg.LLMBaseURL(),
		Model:   cfg.LLMModel(),
		Timeout: cfg.LLMTimeout(),
	}, logging.WithComponent(logger, "llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}
	logger.Info("llm parser enabled", "model", client.Model())
	return client, nil
}
