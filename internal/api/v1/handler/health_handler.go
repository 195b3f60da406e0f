package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"skytrack/internal/metrics"

	"github.com/rs/zerolog"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the database answers within 800ms.
func Health(db Pinger, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
		defer cancel()
		start := time.Now()
		err := db.Ping(ctx)
		metrics.ObserveDBPing(time.Since(start))

		w.Header().Set("Content-Type", "application/json")
		status, body := http.StatusOK, map[string]string{"status": "ok", "db": "ok"}
		if err != nil {
			logger.Warn().Err(err).Msg("Health check: database unreachable")
			status, body = http.StatusServiceUnavailable, map[string]string{"status": "degraded", "db": "unreachable"}
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
