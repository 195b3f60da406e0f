package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"skytrack/internal/api/v1/handler"
	"skytrack/internal/config"
	"skytrack/internal/metrics"
	"skytrack/internal/middleware"
	"skytrack/internal/pubsub"
	"skytrack/internal/repository"
	"skytrack/internal/service"
	"skytrack/internal/session"
	"skytrack/internal/storage"
	"skytrack/internal/supabase"
	"skytrack/internal/web"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New wires repositories, services and handlers onto one router. The returned
// func releases the clients New opened; the pool stays owned by the caller.
func New(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (http.Handler, func(), error) {
	logger.Info().Str("environment", cfg.Environment).Msg("Router initialized")

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (http.Handler, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// 1. Auth backend. Missing config degrades to anonymous sessions.
	var (
		authBackend    web.AuthBackend
		sessionBackend session.Backend
	)
	if cfg.AuthConfigured() {
		client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.SupabaseJWTSecret, logger)
		if err != nil {
			return fail(fmt.Errorf("supabase client: %w", err))
		}
		authBackend, sessionBackend = client, client
	} else {
		logger.Warn().Msg("SUPABASE_URL or SUPABASE_ANON_KEY missing; sessions are disabled")
	}
	store := session.NewStore(cfg.SessionCookieName(), !cfg.IsDevelopment())

	// 2. Storage
	objectStore, err := storage.NewS3Store(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("s3 store: %w", err))
	}

	// 3. Pub/Sub publisher
	var publisher pubsub.Publisher
	if cfg.GCPProjectID != "" {
		p, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			return fail(fmt.Errorf("pubsub publisher: %w", err))
		}
		closers = append(closers, func() { _ = p.Close() })
		publisher = p
	} else {
		logger.Warn().Msg("GCP_PROJECT_ID missing; uploaded documents will not be queued for OCR")
	}

	// 4. PostHog
	var (
		flags     service.FlagService = service.NoopFlags{}
		analytics service.Analytics   = service.NoopAnalytics{}
	)
	phClient, err := service.NewPostHogClient(cfg.PostHogKey, cfg.PostHogHost, logger)
	if err != nil {
		return fail(fmt.Errorf("posthog client: %w", err))
	}
	if phClient != nil {
		closers = append(closers, func() { _ = phClient.Close() })
		flags = service.NewFlagService(phClient, logger)
		analytics = service.NewAnalytics(phClient, logger)
	}

	// 5. Redis for webhook idempotency
	var dedupe service.EventDeduper = service.NoopDeduper{}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("parse REDIS_URL: %w", err))
		}
		rdb := redis.NewClient(opts)
		closers = append(closers, func() { _ = rdb.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Msg("Redis unreachable; webhook events are processed without dedupe until it recovers")
		}
		cancel()
		dedupe = service.NewRedisDeduper(rdb, "stripe:event:")
	}

	// 6. Repositories & services
	profileRepo := repository.NewProfileRepo(pool)
	schoolRepo := repository.NewSchoolRepo(pool)
	subscriptionRepo := repository.NewSubscriptionRepo(pool)
	documentRepo := repository.NewDocumentRepo(pool)
	deadLetterRepo := repository.NewDeadLetterRepo(pool)

	provisioningSvc := service.NewProvisioningService(profileRepo, schoolRepo, logger)
	profileSvc := service.NewProfileService(profileRepo, schoolRepo, logger)
	subscriptionSvc := service.NewSubscriptionService(subscriptionRepo, profileRepo, schoolRepo, logger)

	stripeSvc, err := newStripeService(cfg, profileRepo, schoolRepo, subscriptionRepo, subscriptionSvc, dedupe, logger)
	if err != nil {
		return fail(err)
	}
	ocrClient, err := newOCRClient(cfg, logger)
	if err != nil {
		return fail(err)
	}
	documentSvc := service.NewDocumentService(documentRepo, objectStore, ocrClient, publisher, cfg.PubSubDocumentTopic, logger)
	deadLetterSvc := service.NewDeadLetterService(deadLetterRepo, documentRepo, logger)

	// 7. Handlers
	validate := validator.New(validator.WithRequiredStructEnabled())

	webHandler := web.NewHandler(cfg, authBackend, store, provisioningSvc, profileSvc, flags, analytics, validate, logger)
	profileHandler := handler.NewProfileHandler(profileSvc, flags, analytics, validate, logger)
	subscriptionHandler := handler.NewSubscriptionHandler(stripeSvc, subscriptionSvc, validate, logger)
	documentHandler := handler.NewDocumentHandler(documentSvc, analytics, validate, logger)
	deadLetterHandler := handler.NewDeadLetterHandler(deadLetterSvc, logger)

	// 8. Middleware
	sessionMiddleware := middleware.Session(sessionBackend, store, logger)
	pubsubAuthMiddleware := middleware.PubSubAuth(middleware.PushAuthConfig{
		Bypass:              cfg.PubSubEmulatorHost != "",
		Audience:            cfg.PubSubPushAudience,
		ServiceAccountEmail: cfg.PubSubPushServiceAccountEmail,
	}, logger)

	apiRouter, api := SetupHumaAPI(cfg, sessionMiddleware, pubsubAuthMiddleware, logger)
	RegisterRoutes(api, profileHandler, subscriptionHandler, documentHandler, deadLetterHandler, logger)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.SiteURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// 9. Root router
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handler.Health(pool, logger))
	r.Handle("/metrics", metrics.Handler())
	if stripeSvc != nil {
		r.Post("/api/webhooks/stripe", handler.NewWebhookHandler(stripeSvc, logger).ServeHTTP)
	}
	r.Mount("/api/v1", http.StripPrefix("/api/v1", c.Handler(apiRouter)))

	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware)
		webHandler.Register(r)
	})

	return middleware.LoggerMiddleware(logger)(r), cleanup, nil
}

// newStripeService fails fast on incomplete Stripe config. Development runs
// without a secret key get billing disabled instead.
func newStripeService(
	cfg *config.Config,
	profiles repository.ProfileRepository,
	schools repository.SchoolRepository,
	subs repository.SubscriptionRepository,
	subSvc service.SubscriptionService,
	dedupe service.EventDeduper,
	logger zerolog.Logger,
) (*service.StripeService, error) {
	gateway, err := service.NewStripeGateway(cfg.StripeSecretKey)
	if err != nil {
		if cfg.IsDevelopment() {
			logger.Warn().Err(err).Msg("Billing disabled")
			return nil, nil
		}
		return nil, err
	}
	if cfg.StripeWebhookSecret == "" {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET is not set")
	}
	return service.NewStripeService(cfg, gateway, profiles, schools, subs, subSvc, dedupe, logger), nil
}

// newOCRClient fails fast without an OCR key outside development.
func newOCRClient(cfg *config.Config, logger zerolog.Logger) (service.OCRClient, error) {
	client, err := service.NewOCRClient(cfg.OCRBaseURL, cfg.OCRAPIKey, cfg.OCRModel, time.Duration(cfg.OCRTimeoutSec)*time.Second)
	if err != nil {
		if cfg.IsDevelopment() {
			logger.Warn().Err(err).Msg("OCR disabled")
			return nil, nil
		}
		return nil, err
	}
	return client, nil
}
