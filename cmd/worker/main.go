package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"clementine/internal/adapter/repo"
	"clementine/internal/adapter/taskqueue"
	"clementine/internal/domain"
	"clementine/internal/infra"
	"clementine/internal/infra/credentials"
	"clementine/internal/outcome"
	"clementine/internal/pipeline"
	"clementine/internal/providers/genai"
	"clementine/internal/storage"
)

const migrationsDir = "migrations"

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	if err := infra.RunMigrations(pool, migrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("worker: migrations failed")
	}

	runner := infra.NewSQLRunner(pool, logger)

	store, err := buildObjectStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}
	uploader := storage.NewAdapter(store)

	geminiAPIKey := strings.TrimSpace(cfg.GeminiAPIKey)
	if geminiAPIKey == "" {
		credStore := credentials.NewStore(runner)
		keyFromStore, err := credStore.GeminiAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("worker: failed to load gemini api key from store")
		} else {
			geminiAPIKey = keyFromStore
		}
	}

	genaiClient, err := genai.NewClient(genai.Options{
		APIKey:     geminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		ImageModel: cfg.ImageModel,
		VideoModel: cfg.VideoModel,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: gemini client init failed")
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	registry := outcome.NewRegistry(map[domain.OutcomeType]outcome.Executor{
		domain.OutcomePhoto:   outcome.NewPhotoExecutor(uploader, httpClient),
		domain.OutcomeAIImage: outcome.NewAIImageExecutor(genaiClient, uploader, httpClient),
		domain.OutcomeAIVideo: outcome.NewAIVideoExecutor(genaiClient, uploader, httpClient, outcome.VideoOptions{
			PollInterval: cfg.VideoPollInterval,
			Timeout:      cfg.VideoTimeout,
		}),
	})

	jobs := repo.NewJobRepository(pool)
	sessions := repo.NewSessionRepository(pool)
	runnerTask := pipeline.NewRunner(jobs, sessions, registry, logger)

	queue := taskqueue.New(runner, logger, taskqueue.Options{
		PollInterval: cfg.QueuePollInterval,
		MaxAttempts:  cfg.QueueMaxAttempts,
		BackoffBase:  cfg.QueueBackoffBase,
		BackoffCap:   cfg.QueueBackoffCap,
		Lease:        cfg.QueueLease,
	})

	handler := func(ctx context.Context, task taskqueue.Task) error {
		return runnerTask.Run(ctx, task.JobID)
	}
	giveUp := func(ctx context.Context, task taskqueue.Task, cause error) {
		runnerTask.Abandon(ctx, task.JobID, cause)
	}

	logger.Info().Str("storage", cfg.StorageBackend).Msg("worker: consuming transform tasks")
	if err := queue.Consume(ctx, handler, giveUp); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("worker: consumer stopped")
	}
	logger.Info().Msg("worker: shut down")
}

func buildObjectStore(cfg *infra.Config) (storage.ObjectStore, error) {
	if cfg.StorageBackend == infra.StorageBackendS3 {
		return storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			BaseURL:   cfg.StorageBaseURL,
		})
	}

	path := cfg.StoragePath
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return storage.NewFileStore(path, cfg.StorageBaseURL)
}
