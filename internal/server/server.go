package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/medguard/internal/auth"
	"github.com/dukerupert/medguard/internal/email"
	"github.com/dukerupert/medguard/internal/guardian"
	"github.com/dukerupert/medguard/internal/handler"
	"github.com/dukerupert/medguard/internal/middleware"
	"github.com/dukerupert/medguard/internal/store"
	ws "github.com/dukerupert/medguard/internal/websocket"
)

type Config struct {
	JWTSecret     []byte
	TokenLifetime time.Duration
	InvitationTTL time.Duration
	EmailClient   *email.Client
	// AuthRateLimit caps login and register attempts per address per
	// minute. Zero means 10.
	AuthRateLimit int
}

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	authH         *handler.AuthHandler
	medicationH   *handler.MedicationHandler
	guardianH     *handler.GuardianHandler
	issuer        *auth.Issuer
	tokenStore    *store.TokenStore
	rateLimiter   *middleware.RateLimiter
	authRateLimit int
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) (*Server, error) {
	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenLifetime)
	if err != nil {
		return nil, err
	}

	userStore := store.NewUserStore(db)
	tokenStore := store.NewTokenStore(db)
	medStore := store.NewMedicationStore(db)
	invStore := store.NewInvitationStore(db)
	relStore := store.NewRelationshipStore(db)

	machine, err := guardian.NewMachine(invStore, guardian.Config{InvitationTTL: cfg.InvitationTTL}, logger.With("component", "invitations"))
	if err != nil {
		return nil, fmt.Errorf("invitation machine: %w", err)
	}

	limit := cfg.AuthRateLimit
	if limit <= 0 {
		limit = 10
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	return &Server{
		db:            db,
		hub:           hub,
		authH:         handler.NewAuthHandler(userStore, tokenStore, issuer, logger),
		medicationH:   handler.NewMedicationHandler(medStore, relStore, hub, logger),
		guardianH:     handler.NewGuardianHandler(machine, invStore, userStore, cfg.EmailClient, hub, logger),
		issuer:        issuer,
		tokenStore:    tokenStore,
		rateLimiter:   middleware.NewRateLimiter(),
		authRateLimit: limit,
		logger:        logger,
	}, nil
}

// TokenStore returns the revoked-token store for cleanup tasks.
func (s *Server) TokenStore() *store.TokenStore {
	return s.tokenStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("POST /auth/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /auth/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.issuer, s.tokenStore, s.logger.With("component", "auth"))
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, s.authRateLimit, time.Minute)
	return rl(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /users/me", s.authH.Me)

	mux.HandleFunc("GET /medications", s.medicationH.List)
	mux.HandleFunc("POST /medications", s.medicationH.Create)
	mux.HandleFunc("GET /medications/{id}", s.medicationH.Get)
	mux.HandleFunc("DELETE /medications/{id}", s.medicationH.Delete)
	mux.HandleFunc("PATCH /medications/{id}/toggle", s.medicationH.Toggle)

	mux.HandleFunc("POST /guardians/invite", s.guardianH.Invite)
	mux.HandleFunc("POST /guardians/accept/{token}", s.guardianH.Accept)
	mux.HandleFunc("GET /guardians", s.guardianH.Sent)
	mux.HandleFunc("GET /guardians/for", s.guardianH.Received)
	mux.HandleFunc("DELETE /guardians/{id}", s.guardianH.Revoke)

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, func(r *http.Request) string {
		return auth.UserID(r.Context())
	}, s.logger.With("component", "websocket")))
}
