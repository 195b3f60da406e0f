package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Requeuer sends stale documents back to the OCR queue.
type Requeuer interface {
	Requeue(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
}

type SweepConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	// ErrorBackoff is how long to wait after a failed sweep. Defaults to Interval.
	ErrorBackoff time.Duration
}

// RunSweeper requeues stale documents every Interval until ctx is cancelled.
func RunSweeper(ctx context.Context, logger zerolog.Logger, docs Requeuer, cfg SweepConfig) error {
	if cfg.BatchSize <= 0 || cfg.Interval <= 0 {
		return errors.New("sweep batch size and interval must be positive")
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = cfg.Interval
	}
	logger.Info().
		Dur("interval", cfg.Interval).
		Dur("stale_after", cfg.StaleAfter).
		Int("batch_size", cfg.BatchSize).
		Msg("Starting document sweeper")

	wait := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down document sweeper")
			return nil
		case <-time.After(wait):
		}

		n, err := SweepOnce(ctx, logger, docs, cfg)
		switch {
		case err != nil:
			wait = cfg.ErrorBackoff
		case n >= cfg.BatchSize:
			// A full batch likely left more behind.
			wait = 0
		default:
			wait = cfg.Interval
		}
	}
}

// SweepOnce runs a single sweep and logs its outcome.
func SweepOnce(ctx context.Context, logger zerolog.Logger, docs Requeuer, cfg SweepConfig) (int, error) {
	n, err := docs.Requeue(ctx, cfg.StaleAfter, cfg.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return n, nil
		}
		logger.Error().Err(err).Int("requeued", n).Msg("Document sweep failed")
		return n, err
	}
	if n > 0 {
		logger.Info().Int("requeued", n).Msg("Requeued stale documents")
	} else {
		logger.Debug().Msg("No stale documents")
	}
	return n, nil
}
