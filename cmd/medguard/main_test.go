package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/medguard/internal/apperr"
	"github.com/dukerupert/medguard/internal/config"
	"github.com/dukerupert/medguard/internal/database"
	"github.com/dukerupert/medguard/internal/server"
)

func setupSandbox(t *testing.T) string {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	srv, err := server.New(db, server.Config{
		JWTSecret:     []byte("0123456789abcdef0123456789abcdef"),
		TokenLifetime: time.Hour,
		InvitationTTL: time.Hour,
		AuthRateLimit: 100,
	}, slog.Default())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts.URL
}

// cli runs one command as a fresh process would, sharing only the session
// file.
func cli(t *testing.T, apiURL, sessionFile string, args ...string) (string, error) {
	t.Helper()
	cfg := config.Client{
		APIURL:          apiURL,
		SessionFile:     sessionFile,
		SessionLifetime: time.Hour,
		RequestTimeout:  5 * time.Second,
	}
	var out bytes.Buffer
	a, err := newApp(cfg, slog.Default(), strings.NewReader(""), &out)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	err = a.run(context.Background(), args[0], args[1:])
	return out.String(), err
}

func TestCLISessionPersists(t *testing.T) {
	apiURL := setupSandbox(t)
	sessionFile := filepath.Join(t.TempDir(), "session")
	t.Setenv("MEDGUARD_PASSWORD", "password123")

	if _, err := cli(t, apiURL, sessionFile, "whoami"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("whoami before login err = %v", err)
	}

	out, err := cli(t, apiURL, sessionFile, "register", "Ann", "ann@example.com")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.Contains(out, "Welcome, Ann") {
		t.Errorf("register output = %q", out)
	}

	out, err = cli(t, apiURL, sessionFile, "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if !strings.Contains(out, "ann@example.com") {
		t.Errorf("whoami output = %q", out)
	}

	if _, err := cli(t, apiURL, sessionFile, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := cli(t, apiURL, sessionFile, "meds", "list"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("list after logout err = %v", err)
	}
}

func TestCLIMedications(t *testing.T) {
	apiURL := setupSandbox(t)
	sessionFile := filepath.Join(t.TempDir(), "session")
	t.Setenv("MEDGUARD_PASSWORD", "password123")

	if _, err := cli(t, apiURL, sessionFile, "register", "Ann", "ann@example.com"); err != nil {
		t.Fatalf("register: %v", err)
	}
	out, err := cli(t, apiURL, sessionFile, "meds", "add", "--name", "Ibuprofen", "--dose", "200mg",
		"--times", "08:00, 20:00", "--days", "2", "--start", "2024-05-01")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "2024-05-01 to 2024-05-02") {
		t.Errorf("add output = %q", out)
	}
	fields := strings.Fields(out)
	id := strings.Trim(fields[2], "(),")

	out, err = cli(t, apiURL, sessionFile, "meds", "toggle", id, "2024-05-01", "08:00")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !strings.Contains(out, "taken") || strings.Contains(out, "not taken") {
		t.Errorf("toggle output = %q", out)
	}

	out, err = cli(t, apiURL, sessionFile, "meds", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Ibuprofen") || !strings.Contains(out, "1/4") {
		t.Errorf("list output = %q", out)
	}

	out, err = cli(t, apiURL, sessionFile, "meds", "show", id)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "you are the owner") || !strings.Contains(out, "taken: 1 of 4") {
		t.Errorf("show output = %q", out)
	}

	if _, err := cli(t, apiURL, sessionFile, "meds", "toggle", id, "2024-06-01", "08:00"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("out of range toggle err = %v", err)
	}
	if _, err := cli(t, apiURL, sessionFile, "meds", "delete", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestCLIGuardians(t *testing.T) {
	apiURL := setupSandbox(t)
	annFile := filepath.Join(t.TempDir(), "ann")
	bobFile := filepath.Join(t.TempDir(), "bob")
	t.Setenv("MEDGUARD_PASSWORD", "password123")

	if _, err := cli(t, apiURL, annFile, "register", "Ann", "ann@example.com"); err != nil {
		t.Fatalf("register ann: %v", err)
	}
	if _, err := cli(t, apiURL, bobFile, "register", "Bob", "bob@example.com"); err != nil {
		t.Fatalf("register bob: %v", err)
	}

	out, err := cli(t, apiURL, annFile, "guardians", "invite", "bob@example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	i := strings.Index(out, "Token: ")
	if i < 0 {
		t.Fatalf("invite output = %q", out)
	}
	token := strings.Fields(out[i+len("Token: "):])[0]

	out, err = cli(t, apiURL, bobFile, "guardians", "received")
	if err != nil {
		t.Fatalf("received: %v", err)
	}
	if !strings.Contains(out, "PENDING") {
		t.Errorf("received output = %q", out)
	}

	out, err = cli(t, apiURL, bobFile, "guardians", "accept", token)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !strings.Contains(out, "guardian of Ann") {
		t.Errorf("accept output = %q", out)
	}

	_, err = cli(t, apiURL, bobFile, "guardians", "accept", token)
	if !errors.Is(err, apperr.ErrAlreadyAccepted) {
		t.Errorf("second accept err = %v", err)
	}
	if got := apperr.Message(err); got != "This invitation has already been accepted." {
		t.Errorf("message = %q", got)
	}

	out, err = cli(t, apiURL, annFile, "guardians", "sent")
	if err != nil {
		t.Fatalf("sent: %v", err)
	}
	if !strings.Contains(out, "ACCEPTED") {
		t.Errorf("sent output = %q", out)
	}
}

func TestCLIUnknownCommand(t *testing.T) {
	_, err := cli(t, "http://localhost:1", filepath.Join(t.TempDir(), "s"), "frobnicate")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v", err)
	}
}
