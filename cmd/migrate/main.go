package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"skytrack/internal/config"
	"skytrack/internal/db"
	"skytrack/internal/logger"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

const usage = `usage: migrate [up|down|status]

  up      apply all pending migrations (default)
  down    roll back the most recent migration
  status  print the state of every migration
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	logger := logger.New()
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Msgf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}
	var run func(context.Context, *sql.DB) error
	switch command {
	case "up":
		run = db.Migrate
	case "down":
		run = db.Rollback
	case "status":
		run = db.Status
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err := run(ctx, sqlDB); err != nil {
		logger.Fatal().Err(err).Str("command", command).Msg("Migration failed")
	}
	logger.Info().Str("command", command).Msg("Migration command finished")
}
