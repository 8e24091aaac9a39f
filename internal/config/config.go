// Package config reads MedGuard settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from files (".env" when none are given)
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Getenv matches os.Getenv; tests pass a map lookup instead.
type Getenv func(string) string

type Client struct {
	APIURL            string
	LogLevel          string
	SessionFile       string
	SessionPassphrase string
	SessionLifetime   time.Duration
	RequestTimeout    time.Duration
}

type Sandbox struct {
	Port          string
	LogLevel      string
	DBPath        string
	JWTSecret     []byte
	TokenLifetime time.Duration
	InvitationTTL time.Duration
	BaseURL       string
	PostmarkToken string
	FromEmail     string
	// GeneratedSecret is set when no JWT secret was configured and a random
	// one was minted for this process.
	GeneratedSecret bool
}

func stringOr(getenv Getenv, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func durationOr(getenv Getenv, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "medguard", "session")
}

func LoadClient(getenv Getenv) (Client, error) {
	cfg := Client{
		APIURL:            stringOr(getenv, "MEDGUARD_API_URL", "http://localhost:3001"),
		LogLevel:          stringOr(getenv, "MEDGUARD_LOG_LEVEL", "warn"),
		SessionFile:       getenv("MEDGUARD_SESSION_FILE"),
		SessionPassphrase: getenv("MEDGUARD_SESSION_PASSPHRASE"),
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile()
	}

	var err error
	if cfg.SessionLifetime, err = durationOr(getenv, "MEDGUARD_SESSION_LIFETIME", 7*24*time.Hour); err != nil {
		return Client{}, err
	}
	if cfg.RequestTimeout, err = durationOr(getenv, "MEDGUARD_REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

func LoadSandbox(getenv Getenv) (Sandbox, error) {
	cfg := Sandbox{
		Port:          stringOr(getenv, "MEDGUARD_PORT", "3001"),
		LogLevel:      stringOr(getenv, "MEDGUARD_LOG_LEVEL", "info"),
		DBPath:        stringOr(getenv, "MEDGUARD_DB_PATH", "medguard.db"),
		BaseURL:       stringOr(getenv, "MEDGUARD_BASE_URL", "http://localhost:3000"),
		PostmarkToken: getenv("MEDGUARD_POSTMARK_TOKEN"),
		FromEmail:     getenv("MEDGUARD_FROM_EMAIL"),
	}

	var err error
	if cfg.TokenLifetime, err = durationOr(getenv, "MEDGUARD_SESSION_LIFETIME", 7*24*time.Hour); err != nil {
		return Sandbox{}, err
	}
	if cfg.InvitationTTL, err = durationOr(getenv, "MEDGUARD_INVITATION_TTL", 7*24*time.Hour); err != nil {
		return Sandbox{}, err
	}

	if secret := getenv("MEDGUARD_JWT_SECRET"); secret != "" {
		if len(secret) < 32 {
			return Sandbox{}, errors.New("MEDGUARD_JWT_SECRET: must be at least 32 bytes")
		}
		cfg.JWTSecret = []byte(secret)
	} else {
		cfg.JWTSecret = make([]byte, 32)
		if _, err := rand.Read(cfg.JWTSecret); err != nil {
			return Sandbox{}, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.GeneratedSecret = true
	}
	return cfg, nil
}
