package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(m map[string]string) Getenv {
	return func(k string) string { return m[k] }
}

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient(env(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "http://localhost:3001" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.SessionLifetime != 168*time.Hour {
		t.Errorf("SessionLifetime = %v", cfg.SessionLifetime)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if !strings.HasSuffix(cfg.SessionFile, filepath.Join("medguard", "session")) {
		t.Errorf("SessionFile = %q", cfg.SessionFile)
	}
}

func TestLoadClientOverrides(t *testing.T) {
	cfg, err := LoadClient(env(map[string]string{
		"MEDGUARD_API_URL":            "https://api.example.com",
		"MEDGUARD_SESSION_FILE":       "/tmp/s",
		"MEDGUARD_SESSION_PASSPHRASE": "pw",
		"MEDGUARD_REQUEST_TIMEOUT":    "3s",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "https://api.example.com" || cfg.SessionFile != "/tmp/s" || cfg.SessionPassphrase != "pw" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
}

func TestLoadClientBadDuration(t *testing.T) {
	for _, v := range []string{"soon", "-1h", "0s"} {
		if _, err := LoadClient(env(map[string]string{"MEDGUARD_REQUEST_TIMEOUT": v})); err == nil {
			t.Errorf("%q: expected error", v)
		}
	}
}

func TestLoadSandboxDefaults(t *testing.T) {
	cfg, err := LoadSandbox(env(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "3001" || cfg.DBPath != "medguard.db" || cfg.BaseURL != "http://localhost:3000" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.InvitationTTL != 168*time.Hour {
		t.Errorf("InvitationTTL = %v", cfg.InvitationTTL)
	}
	if len(cfg.JWTSecret) != 32 || !cfg.GeneratedSecret {
		t.Errorf("expected a generated 32-byte secret, got %d bytes", len(cfg.JWTSecret))
	}
}

func TestLoadSandboxSecret(t *testing.T) {
	if _, err := LoadSandbox(env(map[string]string{"MEDGUARD_JWT_SECRET": "short"})); err == nil {
		t.Error("expected error for short secret")
	}
	secret := strings.Repeat("s", 40)
	cfg, err := LoadSandbox(env(map[string]string{"MEDGUARD_JWT_SECRET": secret}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(cfg.JWTSecret) != secret || cfg.GeneratedSecret {
		t.Errorf("secret not taken from env")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("MEDGUARD_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEDGUARD_TEST_DOTENV", "")
	os.Unsetenv("MEDGUARD_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("MEDGUARD_TEST_DOTENV"); got != "loaded" {
		t.Errorf("MEDGUARD_TEST_DOTENV = %q", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing file: %v", err)
	}
}
