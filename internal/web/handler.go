// Package web serves the server-rendered pages: auth forms, the code-exchange
// callback, email confirmation, sign-out and the role dashboards.
package web

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"skytrack/internal/config"
	"skytrack/internal/model"
	"skytrack/internal/service"
	"skytrack/internal/session"
	"skytrack/internal/supabase"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// AuthBackend is the part of the auth backend the pages drive.
// *supabase.Client satisfies it.
type AuthBackend interface {
	session.Backend
	SignInWithPassword(ctx context.Context, email, password string) (*supabase.Session, error)
	ExchangeCodeForSession(ctx context.Context, code, codeVerifier string) (*supabase.Session, error)
	SignUp(ctx context.Context, p supabase.SignUpParams) (*supabase.SignUpResult, error)
	VerifyOTP(ctx context.Context, tokenHash, otpType string) (*supabase.Session, error)
	UpdatePassword(ctx context.Context, accessToken, password string) (*supabase.User, error)
	SignOut(ctx context.Context, accessToken string) error
	AuthorizeURL(provider, redirectTo, codeChallenge string) string
}

type Handler struct {
	siteURL      string
	secure       bool
	auth         AuthBackend
	store        *session.Store
	provisioning service.ProvisioningService
	profiles     service.ProfileService
	flags        service.FlagService
	analytics    service.Analytics
	validate     *validator.Validate
	logger       zerolog.Logger
}

// NewHandler builds the page handler. auth may be nil when Supabase is not
// configured; auth pages then redirect with an error instead of failing.
func NewHandler(
	cfg *config.Config,
	auth AuthBackend,
	store *session.Store,
	provisioning service.ProvisioningService,
	profiles service.ProfileService,
	flags service.FlagService,
	analytics service.Analytics,
	validate *validator.Validate,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		siteURL:      strings.TrimRight(cfg.SiteURL, "/"),
		secure:       !cfg.IsDevelopment(),
		auth:         auth,
		store:        store,
		provisioning: provisioning,
		profiles:     profiles,
		flags:        flags,
		analytics:    analytics,
		validate:     validate,
		logger:       logger.With().Str("handler", "WebHandler").Logger(),
	}
}

// Register mounts every page route on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.Home)

	r.Get("/auth/callback", h.Callback)
	r.Get("/auth/confirm", h.Confirm)
	r.Get("/auth/oauth/{provider}", h.OAuth)
	r.Post("/auth/sign-out", h.SignOut)
	r.Get("/auth/auth-code-error", h.AuthCodeError)
	r.Get("/auth/reset-password", h.ResetPasswordForm)
	r.Post("/auth/reset-password", h.ResetPassword)

	r.Get("/login", h.LoginForm)
	r.Post("/login", h.Login)
	for _, p := range signUpPages {
		r.Get(p.path, h.signUpForm(p))
		r.Post(p.path, h.signUp(p))
	}
	r.Get("/role-selection", h.RoleSelectionForm)
	r.Post("/role-selection", h.RoleSelection)

	r.Get("/dashboard", h.Dashboard)
	r.Get("/dashboard/student", h.roleDashboard(model.RoleStudent))
	r.Get("/dashboard/cfi", h.roleDashboard(model.RoleCFI))
	r.Get("/dashboard/school", h.roleDashboard(model.RoleSchoolAdmin))
}

func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "home", nil)
}

func (h *Handler) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error().Err(err).Str("template", name).Msg("Failed to render page")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// withQuery appends key=value to path, encoded the way url.Values does it.
func withQuery(path, key, value string) string {
	return path + "?" + url.Values{key: {value}}.Encode()
}

// safeNext returns next when it is a same-site absolute path and fallback otherwise.
func safeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	return next
}
