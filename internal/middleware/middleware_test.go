package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"skytrack/internal/session"
	"skytrack/internal/supabase"
	"skytrack/internal/supabase/supabasetest"

	"github.com/rs/zerolog"
	"google.golang.org/api/idtoken"
)

const testCookie = "sb-test-auth-token"

func TestClassify(t *testing.T) {
	cases := map[string]RouteClass{
		"/dashboard":                RouteProtected,
		"/dashboard/cfi":            RouteProtected,
		"/dashboard/school/billing": RouteProtected,
		"/login":                    RouteAuthOnly,
		"/sign-up":                  RouteAuthOnly,
		"/cfi-sign-up":              RouteAuthOnly,
		"/cfi-sign-up/step-2":       RouteAuthOnly,
		"/school-sign-up":           RouteAuthOnly,
		"/role-selection":           RouteAuthOnly,
		"/login/help":               RoutePublic,
		"/sign-up/extra":            RoutePublic,
		"/":                         RoutePublic,
		"/pricing":                  RoutePublic,
		"/auth/callback":            RoutePublic,
	}
	for path, want := range cases {
		if got := Classify(path); got != want {
			t.Errorf("Classify(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestDecideTable(t *testing.T) {
	cases := []struct {
		class RouteClass
		user  bool
		want  string
	}{
		{RouteProtected, false, "/login"},
		{RouteProtected, true, ""},
		{RouteAuthOnly, true, "/dashboard"},
		{RouteAuthOnly, false, ""},
		{RoutePublic, true, ""},
		{RoutePublic, false, ""},
	}
	for _, c := range cases {
		if got := Decide(c.class, c.user); got != c.want {
			t.Errorf("Decide(%s, %v) = %q, want %q", c.class, c.user, got, c.want)
		}
	}
}

func TestExcluded(t *testing.T) {
	for _, p := range []string{"/_next/static/chunk.js", "/_next/image", "/favicon.ico", "/auth/auth-code-error", "/logo.SVG", "/static/app.css"} {
		if !Excluded(p) {
			t.Errorf("expected %q to be excluded", p)
		}
	}
	for _, p := range []string{
		"/dashboard", "/login", "/auth/callback",
		"/dashboard/static/report", "/dashboard/favicon.ico", "/dashboard/auth/auth-code-error",
		"/dashboard/cfi/_next/static/x", "/dashboard/logo.png", "/docs/_next/image",
	} {
		if Excluded(p) {
			t.Errorf("expected %q not to be excluded", p)
		}
	}
}

type pipeline struct {
	srv     *supabasetest.Server
	handler http.Handler
	store   *session.Store
	seen    *supabase.User
	hits    int
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{srv: supabasetest.NewServer(), store: session.NewStore(testCookie, false)}
	t.Cleanup(p.srv.Close)
	client, err := supabase.NewClient(p.srv.URL, supabasetest.AnonKey, "", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	p.handler = Session(client, p.store, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits++
		p.seen = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return p
}

func (p *pipeline) request(t *testing.T, path string, sess *supabase.Session) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if sess != nil {
		rec := httptest.NewRecorder()
		if err := p.store.Save(session.NewResponseJar(rec, req), sess); err != nil {
			t.Fatalf("Save: %v", err)
		}
		for _, c := range rec.Result().Cookies() {
			req.AddCookie(c)
		}
	}
	rec := httptest.NewRecorder()
	p.handler.ServeHTTP(rec, req)
	return rec
}

func TestAnonymousDashboardRedirectsToLogin(t *testing.T) {
	p := newPipeline(t)
	for _, path := range []string{
		"/dashboard", "/dashboard/student", "/dashboard/school/settings",
		"/dashboard/static/report", "/dashboard/favicon.ico", "/dashboard/auth/auth-code-error",
		"/dashboard/cfi/_next/static/x", "/dashboard/avatar.png",
	} {
		rec := p.request(t, path, nil)
		if rec.Code != http.StatusTemporaryRedirect || rec.Header().Get("Location") != "/login" {
			t.Fatalf("%s: got %d -> %q", path, rec.Code, rec.Header().Get("Location"))
		}
	}
	if p.hits != 0 {
		t.Fatal("protected handler must not run for anonymous users")
	}
}

func TestAuthenticatedAuthPagesRedirectToDashboard(t *testing.T) {
	p := newPipeline(t)
	u := p.srv.AddUser("a@example.com", "pw123456", nil)
	for _, path := range []string{"/login", "/sign-up", "/cfi-sign-up", "/school-sign-up/details", "/role-selection"} {
		sess := p.srv.IssueSession(u.ID)
		rec := p.request(t, path, &sess)
		if rec.Code != http.StatusTemporaryRedirect || rec.Header().Get("Location") != "/dashboard" {
			t.Fatalf("%s: got %d -> %q", path, rec.Code, rec.Header().Get("Location"))
		}
	}
}

func TestAuthenticatedDashboardPassesUser(t *testing.T) {
	p := newPipeline(t)
	u := p.srv.AddUser("a@example.com", "pw123456", nil)
	sess := p.srv.IssueSession(u.ID)
	rec := p.request(t, "/dashboard/student", &sess)
	if rec.Code != http.StatusOK || p.seen == nil || p.seen.ID != u.ID {
		t.Fatalf("expected pass-through with user, got %d %+v", rec.Code, p.seen)
	}
}

func TestExpiredSessionIsRefreshedBeforeGuard(t *testing.T) {
	p := newPipeline(t)
	u := p.srv.AddUser("a@example.com", "pw123456", nil)
	sess := p.srv.IssueSession(u.ID)
	sess.AccessToken = p.srv.MintAccessToken(u.ID, time.Now().Add(-time.Minute))
	sess.ExpiresAt = time.Now().Add(-time.Minute).Unix()

	rec := p.request(t, "/dashboard", &sess)
	if rec.Code != http.StatusOK || p.seen == nil {
		t.Fatalf("refreshed session should authenticate, got %d", rec.Code)
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Fatal("refreshed cookies must be written to the response")
	}
}

func TestRedirectCarriesRefreshedCookies(t *testing.T) {
	p := newPipeline(t)
	u := p.srv.AddUser("a@example.com", "pw123456", nil)
	sess := p.srv.IssueSession(u.ID)
	sess.AccessToken = p.srv.MintAccessToken(u.ID, time.Now().Add(-time.Minute))
	sess.ExpiresAt = time.Now().Add(-time.Minute).Unix()

	rec := p.request(t, "/login", &sess)
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("got %d", rec.Code)
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Fatal("redirect response lost the refreshed session cookie")
	}
}

func TestExcludedPathSkipsBackend(t *testing.T) {
	p := newPipeline(t)
	u := p.srv.AddUser("a@example.com", "pw123456", nil)
	sess := p.srv.IssueSession(u.ID)
	sess.ExpiresAt = time.Now().Add(-time.Minute).Unix()

	rec := p.request(t, "/_next/static/chunk.js", &sess)
	if rec.Code != http.StatusOK || p.hits != 1 {
		t.Fatalf("excluded path should reach handler, got %d", rec.Code)
	}
	if p.srv.TotalCalls() != 0 {
		t.Fatalf("excluded path hit the auth backend %d times", p.srv.TotalCalls())
	}
	if p.seen != nil {
		t.Fatal("excluded path should not resolve a user")
	}
}

func TestMissingConfigDegradesToAnonymous(t *testing.T) {
	var hits int
	h := Session(nil, session.NewStore(testCookie, false), zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pricing", nil))
	if rec.Code != http.StatusOK || hits != 1 {
		t.Fatalf("public page should pass through, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if rec.Code != http.StatusTemporaryRedirect || rec.Header().Get("Location") != "/login" {
		t.Fatalf("dashboard without auth config should redirect to login, got %d", rec.Code)
	}
}

const (
	pushAudience = "https://example.com/api/v1/documents/process"
	pushAccount  = "push@project.iam.gserviceaccount.com"
)

func TestPubSubAuthBypass(t *testing.T) {
	called := false
	h := PubSubAuth(PushAuthConfig{Bypass: true}, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/documents/process", nil))
	if !called {
		t.Fatal("emulator pushes should bypass authentication")
	}
}

func TestPubSubAuthDecisions(t *testing.T) {
	validate := func(_ context.Context, token, audience string) (*idtoken.Payload, error) {
		if audience != pushAudience {
			return nil, errors.New("audience mismatch")
		}
		switch token {
		case "good":
			return &idtoken.Payload{Claims: map[string]interface{}{"email": pushAccount, "email_verified": true}}, nil
		case "unverified":
			return &idtoken.Payload{Claims: map[string]interface{}{"email": pushAccount}}, nil
		case "other":
			return &idtoken.Payload{Claims: map[string]interface{}{"email": "intruder@example.com", "email_verified": true}}, nil
		}
		return nil, errors.New("bad signature")
	}
	cfg := PushAuthConfig{Audience: pushAudience, ServiceAccountEmail: pushAccount}

	cases := []struct {
		name   string
		cfg    PushAuthConfig
		header string
		want   int
	}{
		{"valid token", cfg, "Bearer good", http.StatusOK},
		{"lowercase scheme", cfg, "bearer good", http.StatusOK},
		{"missing header", cfg, "", http.StatusUnauthorized},
		{"basic auth", cfg, "Basic good", http.StatusUnauthorized},
		{"invalid token", cfg, "Bearer forged", http.StatusUnauthorized},
		{"unverified email", cfg, "Bearer unverified", http.StatusForbidden},
		{"other account", cfg, "Bearer other", http.StatusForbidden},
		{"no audience configured", PushAuthConfig{ServiceAccountEmail: pushAccount}, "Bearer good", http.StatusInternalServerError},
	}
	for _, c := range cases {
		called := false
		h := pubSubAuth(c.cfg, validate, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		req := httptest.NewRequest(http.MethodPost, "/documents/process", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.want || called != (c.want == http.StatusOK) {
			t.Errorf("%s: got %d (handler ran: %v), want %d", c.name, rec.Code, called, c.want)
		}
	}
}
