package supabase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"skytrack/internal/supabase"
	"skytrack/internal/supabase/supabasetest"

	"github.com/rs/zerolog"
)

func newClient(t *testing.T, srv *supabasetest.Server, jwtSecret string) *supabase.Client {
	t.Helper()
	c, err := supabase.NewClient(srv.URL, supabasetest.AnonKey, jwtSecret, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRequiresConfig(t *testing.T) {
	if _, err := supabase.NewClient("", "key", "", zerolog.Nop()); !errors.Is(err, supabase.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := supabase.NewClient("http://localhost:54321", "", "", zerolog.Nop()); !errors.Is(err, supabase.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSignInWithPassword(t *testing.T) {
	srv := supabasetest.NewServer()
	defer srv.Close()
	u := srv.AddUser("cfi@example.com", "hunter22", map[string]any{"role": "CFI"})
	c := newClient(t, srv, "")

	s, err := c.SignInWithPassword(context.Background(), "cfi@example.com", "hunter22")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if s.User == nil || s.User.ID != u.ID || s.RefreshToken == "" {
		t.Fatalf("unexpected session: %+v", s)
	}

	_, err = c.SignInWithPassword(context.Background(), "cfi@example.com", "wrong")
	if !errors.Is(err, supabase.ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}
	if msg := supabase.ErrorMessage(err); msg != "Invalid login credentials" {
		t.Fatalf("message = %q", msg)
	}
}

func TestExchangeCodeIsSingleUse(t *testing.T) {
	srv := supabasetest.NewServer()
	defer srv.Close()
	u := srv.AddUser("student@example.com", "pw123456", nil)
	code := srv.IssueCode(u.ID, "verifier-abc")
	c := newClient(t, srv, "")
	ctx := context.Background()

	s, err := c.ExchangeCodeForSession(ctx, code, "verifier-abc")
	if err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	if s.AccessToken == "" {
		t.Fatal("expected access token")
	}
	if _, err := c.ExchangeCodeForSession(ctx, code, "verifier-abc"); !errors.Is(err, supabase.ErrInvalidGrant) {
		t.Fatalf("second exchange should fail with ErrInvalidGrant, got %v", err)
	}
}

func TestExchangeCodeRejectsWrongVerifier(t *testing.T) {
	srv := supabasetest.NewServer()
	defer srv.Close()
	u := srv.AddUser("student@example.com", "pw123456", nil)
	code := srv.IssueCode(u.ID, "right")
	if _, err := newClient(t, srv, "").ExchangeCodeForSession(context.Background(), code, "wrong"); err == nil {
		t.Fatal("expected verifier mismatch error")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	srv := supabasetest.NewServer()
	defer srv.Close()
	u := srv.AddUser("a@example.com", "pw123456", nil)
	first := srv.IssueSession(u.ID)
	c := newClient(t, srv, "")
	ctx := context.Background()

	next, err := c.RefreshSession(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}
	if next.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if _, err := c.RefreshSession(ctx, first.RefreshToken); !errors.Is(err, supabase.ErrInvalidGrant) {
		t.Fatalf("reused refresh token should fail with ErrInvalidGrant, got %v", err)
	}
}

func TestValidateAccessTokenLocalAndRemote(t *testing.T) {
	srv := supabasetest.NewServer()
	defer srv.Close()
	u := srv.AddUser("a@example.com", "pw123456", map[string]any{"full_name": "Amelia E."})
	tok := srv.MintAccessToken(u.ID, time.Now().Add(time.Hour))
	ctx := context.Background()

	local, err := newClient(t, srv, supabasetest.JWTSecret).ValidateAccessToken(ctx, tok)
	if err != nil {
		t.Fatalf("local validate: %v", err)
	}
	if local.ID != u.ID || local.Metadata("full_name") != "Amelia E." {
		t.Fatalf("unexpected local user: %+v", local)
	}
	if srv.Calls("/auth/v1/user") != 0 {
		t.Fatal("local validation should not call the backend")
	}

	remote, err := newClient(t, srv, "").ValidateAccessToken(ctx, tok)
	if err != nil {
		t.Fatalf("remote validate: %v", err)
	}
	if remote.ID != u.ID || srv.Calls("/auth/v1/user") != 1 {
		t.Fatalf("remote validate: user=%+v calls=%d", remote, srv.Calls("/auth/v1/user"))
	}
}

func TestSignUpWithoutAutoConfirmReturnsUserOnly(t *testing.T) {
	srv := supabasetest.NewServer()
	defer srv.Close()
	res, err := newClient(t, srv, "").SignUp(context.Background(), supabase.SignUpParams{
		Email:    "new@example.com",
		Password: "pw123456",
		Data:     map[string]any{"role": "SCHOOL_ADMIN", "school_name": "Blue Sky Aviation"},
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if res.Session != nil || res.User == nil || res.User.Metadata("school_name") != "Blue Sky Aviation" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestVerifyOTP(t *testing.T) {
	srv := supabasetest.NewServer()
	defer srv.Close()
	u := srv.AddUser("a@example.com", "pw123456", nil)
	hash := srv.IssueOTP(u.ID)
	c := newClient(t, srv, "")
	if _, err := c.VerifyOTP(context.Background(), hash, "signup"); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if _, err := c.VerifyOTP(context.Background(), hash, "signup"); !errors.Is(err, supabase.ErrInvalidGrant) {
		t.Fatalf("reused token hash should fail, got %v", err)
	}
}

func TestSessionExpiresWithin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := &supabase.Session{ExpiresAt: now.Add(30 * time.Second).Unix()}
	if !s.ExpiresWithin(now, time.Minute) {
		t.Fatal("expected session to be due for refresh")
	}
	if s.ExpiresWithin(now, 10*time.Second) {
		t.Fatal("session should still be fresh for 10s")
	}
}
