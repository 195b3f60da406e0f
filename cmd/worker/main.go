package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"skytrack/internal/config"
	"skytrack/internal/db"
	"skytrack/internal/logger"
	"skytrack/internal/observability"
	"skytrack/internal/pubsub"
	"skytrack/internal/repository"
	"skytrack/internal/service"
	"skytrack/internal/worker"

	"github.com/joho/godotenv"
)

func main() {
	once := flag.Bool("once", false, "Run a single sweep and exit")
	flag.Parse()

	logger := logger.New()

	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}
	if cfg.GCPProjectID == "" {
		logger.Fatal().Msg("GCP_PROJECT_ID is required to requeue documents")
	}

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Environment, cfg.Release)
	if err != nil {
		logger.Warn().Err(err).Msg("Sentry disabled")
	}
	defer flush()

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	publisher, err := pubsub.NewPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal().Msgf("Failed to create publisher: %v", err)
	}
	defer publisher.Close()

	// Requeue only touches rows and the topic; storage and OCR stay unset.
	docs := service.NewDocumentService(repository.NewDocumentRepo(pool), nil, nil, publisher, cfg.PubSubDocumentTopic, logger)

	sweep := worker.SweepConfig{
		Interval:   time.Duration(cfg.SweepIntervalSec) * time.Second,
		StaleAfter: time.Duration(cfg.SweepStaleAfterSec) * time.Second,
		BatchSize:  cfg.SweepBatchSize,
	}
	if *once {
		if _, err := worker.SweepOnce(ctx, logger, docs, sweep); err != nil {
			logger.Fatal().Msgf("Sweep failed: %v", err)
		}
		return
	}
	if err := worker.RunSweeper(ctx, logger, docs, sweep); err != nil {
		logger.Fatal().Msgf("Document sweeper failed: %v", err)
	}
	logger.Info().Msg("Document sweeper stopped gracefully")
}
