package web

import (
	"net/http"
	"strings"

	"skytrack/internal/metrics"
	"skytrack/internal/middleware"
	"skytrack/internal/observability"
	"skytrack/internal/session"
	"skytrack/internal/supabase"

	"github.com/go-chi/chi/v5"
)

const (
	authErrorPath     = "/auth/auth-code-error"
	resetPasswordPath = "/auth/reset-password"
)

const authDisabledMsg = "Authentication is not configured"

func (h *Handler) authError(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, withQuery(authErrorPath, "error", msg), http.StatusTemporaryRedirect)
}

// Callback completes an OAuth or email-link sign-in by exchanging the
// single-use code for a session. Every outcome is a redirect.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	next := r.URL.Query().Get("next")

	if code == "" {
		metrics.AuthCallbacks.WithLabelValues("missing_code").Inc()
		http.Redirect(w, r, "/login?error=Invalid+callback", http.StatusTemporaryRedirect)
		return
	}
	if h.auth == nil {
		metrics.AuthCallbacks.WithLabelValues("disabled").Inc()
		h.logger.Warn().Msg("Supabase URL or anon key missing; cannot exchange auth code")
		h.authError(w, r, authDisabledMsg)
		return
	}

	jar := session.NewResponseJar(w, r)
	verifier := h.store.TakeVerifier(jar)
	sess, err := h.auth.ExchangeCodeForSession(ctx, code, verifier)
	if err != nil {
		metrics.AuthCallbacks.WithLabelValues("exchange_error").Inc()
		h.logger.Warn().Err(err).Msg("Auth code exchange failed")
		h.authError(w, r, supabase.ErrorMessage(err))
		return
	}

	client := session.NewServerClient(h.auth, h.store, jar, h.logger)
	if err := client.SetSession(sess); err != nil {
		observability.CaptureErr(err)
		h.logger.Error().Err(err).Msg("Failed to persist session after code exchange")
	}
	current, err := client.Session(ctx)
	if err != nil || current == nil {
		metrics.AuthCallbacks.WithLabelValues("no_session").Inc()
		if err != nil {
			h.logger.Error().Err(err).Msg("Session fetch after code exchange failed")
		}
		http.Redirect(w, r, "/login?error=No+session", http.StatusTemporaryRedirect)
		return
	}

	metrics.AuthCallbacks.WithLabelValues("ok").Inc()
	if current.User != nil {
		h.analytics.Capture(current.User.ID, "user_signed_in", map[string]interface{}{"method": "code_exchange"})
	}

	if strings.Contains(next, resetPasswordPath) {
		http.Redirect(w, r, resetPasswordPath, http.StatusTemporaryRedirect)
		return
	}
	http.Redirect(w, r, safeNext(next, middleware.DashboardPath), http.StatusTemporaryRedirect)
}

// Confirm verifies an email one-time token (sign-up, magic link, recovery).
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokenHash, otpType := q.Get("token_hash"), q.Get("type")
	if tokenHash == "" || otpType == "" {
		http.Redirect(w, r, withQuery(authErrorPath, "error", "Missing confirmation token"), http.StatusTemporaryRedirect)
		return
	}
	if h.auth == nil {
		h.authError(w, r, authDisabledMsg)
		return
	}

	sess, err := h.auth.VerifyOTP(r.Context(), tokenHash, otpType)
	if err != nil {
		h.logger.Warn().Err(err).Str("type", otpType).Msg("Email token verification failed")
		h.authError(w, r, supabase.ErrorMessage(err))
		return
	}
	jar := session.NewResponseJar(w, r)
	if err := h.store.Save(jar, sess); err != nil {
		h.logger.Error().Err(err).Msg("Failed to persist session after email confirmation")
		http.Redirect(w, r, "/login?error=No+session", http.StatusTemporaryRedirect)
		return
	}

	if otpType == "recovery" {
		http.Redirect(w, r, resetPasswordPath, http.StatusTemporaryRedirect)
		return
	}
	http.Redirect(w, r, safeNext(q.Get("next"), middleware.DashboardPath), http.StatusTemporaryRedirect)
}

// OAuth starts a provider sign-in with a PKCE verifier kept in a cookie.
func (h *Handler) OAuth(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if err := h.validate.Var(provider, "required,alpha,max=32"); err != nil {
		http.Redirect(w, r, "/login?error=Unknown+provider", http.StatusSeeOther)
		return
	}
	if h.auth == nil {
		http.Redirect(w, r, withQuery("/login", "error", authDisabledMsg), http.StatusSeeOther)
		return
	}

	verifier, err := session.NewVerifier()
	if err != nil {
		observability.CaptureErr(err)
		h.logger.Error().Err(err).Msg("Failed to create PKCE verifier")
		h.authError(w, r, supabase.ErrorMessage(err))
		return
	}
	h.store.SaveVerifier(session.NewResponseJar(w, r), verifier)

	target := h.auth.AuthorizeURL(strings.ToLower(provider), h.siteURL+"/auth/callback", session.Challenge(verifier))
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// SignOut revokes the current session at the backend and clears the cookie.
// A failed revocation still signs the browser out.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	jar := session.NewResponseJar(w, r)
	if h.auth != nil {
		if sess, err := h.store.Load(jar); err == nil && sess != nil {
			if err := h.auth.SignOut(r.Context(), sess.AccessToken); err != nil {
				h.logger.Warn().Err(err).Msg("Backend sign-out failed")
			}
		}
	}
	h.store.Clear(jar)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) AuthCodeError(w http.ResponseWriter, r *http.Request) {
	msg := r.URL.Query().Get("error")
	if msg == "" {
		msg = "Something went wrong while signing you in."
	}
	h.render(w, http.StatusOK, "auth-error", formPage{Title: "Sign-in failed", Error: msg})
}

type resetPasswordForm struct {
	Password        string `validate:"required,min=8,max=72"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
}

func (h *Handler) ResetPasswordForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "reset-password", formPage{Title: "Reset password", Error: r.URL.Query().Get("error")})
}

// ResetPassword sets a new password for the session written by the recovery link.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := formPage{Title: "Reset password"}
	if err := r.ParseForm(); err != nil {
		page.Error = "Invalid form submission"
		h.render(w, http.StatusBadRequest, "reset-password", page)
		return
	}
	form := resetPasswordForm{
		Password:        r.PostForm.Get("password"),
		ConfirmPassword: r.PostForm.Get("confirm_password"),
	}
	if err := h.validate.Struct(form); err != nil {
		page.Error = validationMessage(err)
		h.render(w, http.StatusBadRequest, "reset-password", page)
		return
	}
	if h.auth == nil {
		http.Redirect(w, r, withQuery("/login", "error", authDisabledMsg), http.StatusSeeOther)
		return
	}

	jar := session.NewResponseJar(w, r)
	sess, err := session.NewServerClient(h.auth, h.store, jar, h.logger).Session(ctx)
	if err != nil || sess == nil {
		http.Redirect(w, r, "/login?error=Session+expired", http.StatusSeeOther)
		return
	}
	if _, err := h.auth.UpdatePassword(ctx, sess.AccessToken, form.Password); err != nil {
		h.logger.Warn().Err(err).Msg("Password update failed")
		page.Error = supabase.ErrorMessage(err)
		h.render(w, http.StatusBadRequest, "reset-password", page)
		return
	}
	http.Redirect(w, r, middleware.DashboardPath, http.StatusSeeOther)
}
