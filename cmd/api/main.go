package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"clementine/internal/adapter/repo"
	"clementine/internal/adapter/taskqueue"
	httpapi "clementine/internal/http"
	"clementine/internal/http/handlers"
	"clementine/internal/infra"
)

const migrationsDir = "migrations"

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	if err := infra.RunMigrations(pool, migrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("api: migrations failed")
	}

	runner := infra.NewSQLRunner(pool, logger)
	queue := taskqueue.New(runner, logger, taskqueue.Options{
		PollInterval: cfg.QueuePollInterval,
		MaxAttempts:  cfg.QueueMaxAttempts,
		BackoffBase:  cfg.QueueBackoffBase,
		BackoffCap:   cfg.QueueBackoffCap,
		Lease:        cfg.QueueLease,
	})

	app := handlers.NewApp(
		repo.NewJobRepository(pool),
		repo.NewSessionRepository(pool),
		queue,
		logger,
	)
	router := httpapi.NewRouter(app, logger, cfg.CORSAllowedOrigins)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api: listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: server stopped")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: shut down")
}
