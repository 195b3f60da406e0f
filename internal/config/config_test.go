package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_CONNECTION_STRING", "postgres://localhost/skytrack")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.PubSubDocumentTopic != "document-ocr" || cfg.OCRTimeoutSec != 60 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AuthConfigured() {
		t.Fatal("auth should be unconfigured without Supabase settings")
	}
}

func TestLoadRequiresDatabase(t *testing.T) {
	t.Setenv("DB_CONNECTION_STRING", "")
	_ = os.Unsetenv("DB_CONNECTION_STRING")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error without DB_CONNECTION_STRING")
	}
}

func TestSessionCookieName(t *testing.T) {
	cases := map[string]string{
		"https://abcd1234.supabase.co": "sb-abcd1234-auth-token",
		"http://127.0.0.1:54321":       "sb-127-auth-token",
		"http://localhost:54321":       "sb-localhost-auth-token",
		"":                             "sb-local-auth-token",
	}
	for raw, want := range cases {
		cfg := &Config{SupabaseURL: raw}
		if got := cfg.SessionCookieName(); got != want {
			t.Errorf("SessionCookieName(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestLoadRejectsNonPositiveSweepBatch(t *testing.T) {
	t.Setenv("DB_CONNECTION_STRING", "postgres://localhost/skytrack")
	t.Setenv("SWEEP_BATCH_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for SWEEP_BATCH_SIZE=0")
	}
}
