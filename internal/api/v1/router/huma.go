package router

import (
	"net/http"

	"skytrack/internal/api/v1/handler"
	"skytrack/internal/config"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	processDocumentPath = "/documents/process"
	deadLetterPath      = "/documents/dead-letter"
)

// SetupHumaAPI creates the Huma API served under /api/v1. Paths seen here
// have the /api/v1 prefix stripped.
func SetupHumaAPI(
	cfg *config.Config,
	sessionMiddleware func(http.Handler) http.Handler,
	pubsubAuthMiddleware func(http.Handler) http.Handler,
	logger zerolog.Logger,
) (*chi.Mux, huma.API) {
	chiRouter := chi.NewRouter()

	// Apply middleware based on path
	chiRouter.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/openapi.json" || r.URL.Path == "/openapi.yaml" || r.URL.Path == "/docs" || r.URL.Path == "/schemas" {
				next.ServeHTTP(w, r)
				return
			}
			// Pub/Sub push deliveries carry a Google-signed token, not a session
			if r.URL.Path == processDocumentPath || r.URL.Path == deadLetterPath {
				pubsubAuthMiddleware(next).ServeHTTP(w, r)
				return
			}
			sessionMiddleware(next).ServeHTTP(w, r)
		})
	})

	humaConfig := huma.DefaultConfig("SkyTrack API v1", cfg.Release)
	humaConfig.Info.Description = "Profiles, billing, feature flags and training documents"
	humaConfig.Servers = []*huma.Server{{URL: cfg.SiteURL + "/api/v1"}}

	api := humachi.New(chiRouter, humaConfig)

	logger.Info().Str("version", cfg.Release).Msg("Huma API initialized for /api/v1")
	return chiRouter, api
}

// RegisterRoutes registers all Huma operations
func RegisterRoutes(
	api huma.API,
	profileHandler *handler.ProfileHandler,
	subscriptionHandler *handler.SubscriptionHandler,
	documentHandler *handler.DocumentHandler,
	deadLetterHandler *handler.DeadLetterHandler,
	logger zerolog.Logger,
) {
	// ========== PROFILE OPERATIONS ==========
	huma.Register(api, huma.Operation{
		OperationID: "getProfile",
		Method:      http.MethodGet,
		Path:        "/profile",
		Summary:     "Get profile",
		Description: "Retrieves the profile of the signed-in user",
		Tags:        []string{"profile"},
	}, profileHandler.GetProfile)

	huma.Register(api, huma.Operation{
		OperationID: "updateProfile",
		Method:      http.MethodPatch,
		Path:        "/profile",
		Summary:     "Update profile",
		Description: "Updates display name, program type and preferences",
		Tags:        []string{"profile"},
	}, profileHandler.UpdateProfile)

	huma.Register(api, huma.Operation{
		OperationID: "selectRole",
		Method:      http.MethodPost,
		Path:        "/profile/role",
		Summary:     "Select role",
		Description: "Changes the user's role. Admins that own a school cannot leave SCHOOL_ADMIN",
		Tags:        []string{"profile"},
	}, profileHandler.SelectRole)

	huma.Register(api, huma.Operation{
		OperationID: "getFlag",
		Method:      http.MethodGet,
		Path:        "/flags/{key}",
		Summary:     "Evaluate feature flag",
		Description: "Evaluates a feature flag for the signed-in user",
		Tags:        []string{"flags"},
	}, profileHandler.GetFlag)

	// ========== SUBSCRIPTION OPERATIONS ==========
	huma.Register(api, huma.Operation{
		OperationID: "getSubscription",
		Method:      http.MethodGet,
		Path:        "/subscription",
		Summary:     "Get subscription",
		Description: "Returns the subscription covering the user, or the school's for school admins",
		Tags:        []string{"subscriptions"},
	}, subscriptionHandler.GetSubscription)

	huma.Register(api, huma.Operation{
		OperationID: "createCheckoutSession",
		Method:      http.MethodPost,
		Path:        "/subscriptions/checkout",
		Summary:     "Start checkout",
		Description: "Creates a Stripe Checkout session for a plan and returns its URL",
		Tags:        []string{"subscriptions"},
	}, subscriptionHandler.Checkout)

	huma.Register(api, huma.Operation{
		OperationID: "createPortalSession",
		Method:      http.MethodPost,
		Path:        "/subscriptions/portal",
		Summary:     "Open billing portal",
		Description: "Creates a Stripe billing portal session and returns its URL",
		Tags:        []string{"subscriptions"},
	}, subscriptionHandler.Portal)

	huma.Register(api, huma.Operation{
		OperationID:   "createSubscription",
		Method:        http.MethodPost,
		Path:          "/subscriptions",
		Summary:       "Create subscription",
		Description:   "Creates an incomplete subscription to be confirmed client side",
		Tags:          []string{"subscriptions"},
		DefaultStatus: http.StatusCreated,
	}, subscriptionHandler.CreateSubscription)

	huma.Register(api, huma.Operation{
		OperationID: "cancelSubscription",
		Method:      http.MethodPost,
		Path:        "/subscriptions/cancel",
		Summary:     "Cancel subscription",
		Description: "Cancels the current subscription at the end of the billing period",
		Tags:        []string{"subscriptions"},
	}, subscriptionHandler.CancelSubscription)

	// ========== DOCUMENT OPERATIONS ==========
	huma.Register(api, huma.Operation{
		OperationID:   "createDocumentUploadURL",
		Method:        http.MethodPost,
		Path:          "/documents/upload-url",
		Summary:       "Get document upload URL",
		Description:   "Creates a document record and returns a presigned upload URL",
		Tags:          []string{"documents"},
		DefaultStatus: http.StatusCreated,
	}, documentHandler.UploadURL)

	huma.Register(api, huma.Operation{
		OperationID: "completeDocumentUpload",
		Method:      http.MethodPost,
		Path:        "/documents/{documentId}/upload-complete",
		Summary:     "Complete document upload",
		Description: "Marks the document uploaded and queues it for OCR",
		Tags:        []string{"documents"},
	}, documentHandler.UploadComplete)

	huma.Register(api, huma.Operation{
		OperationID: "getDocument",
		Method:      http.MethodGet,
		Path:        "/documents/{documentId}",
		Summary:     "Get document",
		Description: "Retrieves a document and its OCR status",
		Tags:        []string{"documents"},
	}, documentHandler.GetDocument)

	huma.Register(api, huma.Operation{
		OperationID: "processDocument",
		Method:      http.MethodPost,
		Path:        processDocumentPath,
		Summary:     "Process document",
		Description: "Pub/Sub push endpoint that runs OCR over an uploaded document",
		Tags:        []string{"documents"},
	}, documentHandler.ProcessDocument)

	huma.Register(api, huma.Operation{
		OperationID: "recordDeadLetter",
		Method:      http.MethodPost,
		Path:        deadLetterPath,
		Summary:     "Record dead-lettered OCR job",
		Description: "Pub/Sub push endpoint for the OCR dead-letter subscription; marks the document failed",
		Tags:        []string{"documents"},
	}, deadLetterHandler.RecordDeadLetter)

	logger.Info().Msg("All operations registered successfully")
}
