package middleware

import (
	"context"
	"net/http"

	"skytrack/internal/metrics"
	"skytrack/internal/session"
	"skytrack/internal/supabase"

	"github.com/rs/zerolog"
)

type userKey struct{}

// WithUser stores the resolved user in ctx.
func WithUser(ctx context.Context, u *supabase.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user resolved by Session, or nil.
func UserFromContext(ctx context.Context) *supabase.User {
	u, _ := ctx.Value(userKey{}).(*supabase.User)
	return u
}

// Session refreshes the auth session, resolves the user and applies the
// route guard, in that order. A nil backend means auth is not configured:
// every request is treated as anonymous.
func Session(backend session.Backend, store *session.Store, logger zerolog.Logger) func(http.Handler) http.Handler {
	lg := logger.With().Str("middleware", "session").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Excluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			var user *supabase.User
			if backend == nil {
				lg.Warn().Str("path", r.URL.Path).Msg("Supabase URL or anon key missing; skipping session refresh")
			} else {
				user, r = resolve(r.Context(), w, r, backend, store, lg)
			}

			class := Classify(r.URL.Path)
			if target := Decide(class, user != nil); target != "" {
				metrics.RouteDecisions.WithLabelValues(string(class), "redirect").Inc()
				http.Redirect(w, r, target, http.StatusTemporaryRedirect)
				return
			}
			metrics.RouteDecisions.WithLabelValues(string(class), "pass").Inc()
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// resolve runs the refresh step over a read/write jar and then the identity
// step over a read-only view of the refreshed cookies. It returns the request
// rebuilt with the refreshed cookies.
func resolve(ctx context.Context, w http.ResponseWriter, r *http.Request, backend session.Backend, store *session.Store, lg zerolog.Logger) (*supabase.User, *http.Request) {
	jar := session.NewResponseJar(w, r)
	if _, err := session.NewServerClient(backend, store, jar, lg).Session(ctx); err != nil {
		metrics.SessionRefreshes.WithLabelValues("error").Inc()
		lg.Error().Err(err).Msg("Session refresh failed")
	}
	r = jar.Request(r)

	user, err := session.NewReadOnlyClient(backend, store, jar.View(), lg).GetUser(ctx)
	if err != nil {
		lg.Error().Err(err).Msg("Identity resolution failed")
		return nil, r
	}
	return user, r
}
