package middleware

import (
	"context"
	"net/http"
	"strings"

	"skytrack/internal/metrics"

	"github.com/rs/zerolog"
	"google.golang.org/api/idtoken"
)

// PushAuthConfig describes which push deliveries are accepted.
type PushAuthConfig struct {
	// Bypass skips verification, for the Pub/Sub emulator.
	Bypass              bool
	Audience            string
	ServiceAccountEmail string
}

type tokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// PubSubAuth admits only pushes carrying a Google-signed OIDC token for the
// configured audience and issued to the push service account.
func PubSubAuth(cfg PushAuthConfig, logger zerolog.Logger) func(http.Handler) http.Handler {
	return pubSubAuth(cfg, idtoken.Validate, logger)
}

func pubSubAuth(cfg PushAuthConfig, validate tokenValidator, logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("middleware", "pubsub_auth").Logger()
	misconfigured := !cfg.Bypass && (cfg.Audience == "" || cfg.ServiceAccountEmail == "")
	if misconfigured {
		log.Error().Msg("PUBSUB_PUSH_AUDIENCE or PUBSUB_PUSH_SERVICE_ACCOUNT_EMAIL missing; push deliveries will be denied")
	}

	reject := func(w http.ResponseWriter, status int, outcome, msg string) {
		metrics.PushAuth.WithLabelValues(outcome).Inc()
		http.Error(w, msg, status)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Bypass {
				metrics.PushAuth.WithLabelValues("bypassed").Inc()
				next.ServeHTTP(w, r)
				return
			}
			if misconfigured {
				reject(w, http.StatusInternalServerError, "misconfigured", "Push authentication is not configured")
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				log.Warn().Str("path", r.URL.Path).Msg("Push request without a bearer token")
				reject(w, http.StatusUnauthorized, "missing_token", "Unauthorized: missing authorization header")
				return
			}

			payload, err := validate(r.Context(), token, cfg.Audience)
			if err != nil {
				log.Warn().Err(err).Msg("Push token failed validation")
				reject(w, http.StatusUnauthorized, "invalid_token", "Unauthorized: invalid token")
				return
			}

			email, _ := payload.Claims["email"].(string)
			verified, _ := payload.Claims["email_verified"].(bool)
			if email != cfg.ServiceAccountEmail || !verified {
				log.Warn().
					Str("token_email", email).
					Bool("email_verified", verified).
					Msg("Push token was not issued to the push service account")
				reject(w, http.StatusForbidden, "wrong_account", "Forbidden: unexpected service account")
				return
			}

			metrics.PushAuth.WithLabelValues("ok").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
