package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/medguard/internal/apperr"
	"github.com/dukerupert/medguard/internal/auth"
	"github.com/dukerupert/medguard/internal/guardian"
	"github.com/dukerupert/medguard/internal/model"
	"github.com/dukerupert/medguard/internal/store"
)

const minPasswordLength = 8

var errBadCredentials = apperr.New(apperr.ErrUnauthorized, "Invalid email or password.")

type AuthHandler struct {
	userStore  *store.UserStore
	tokenStore *store.TokenStore
	issuer     *auth.Issuer
	logger     *slog.Logger
}

func NewAuthHandler(us *store.UserStore, ts *store.TokenStore, issuer *auth.Issuer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		userStore:  us,
		tokenStore: ts,
		issuer:     issuer,
		logger:     logger.With("component", "auth"),
	}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "decode register", err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, h.logger, "register", apperr.Validation("name is required"))
		return
	}
	email, err := guardian.NormalizeEmail(req.Email)
	if err != nil {
		writeError(w, h.logger, "register", err)
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, h.logger, "register", apperr.Validation("password must be at least 8 characters"))
		return
	}

	user, err := h.userStore.Create(r.Context(), name, email, req.Password)
	if errors.Is(err, store.ErrEmailTaken) {
		writeError(w, h.logger, "register", apperr.New(apperr.ErrAlreadyExists, "An account with this email already exists."))
		return
	}
	if err != nil {
		writeError(w, h.logger, "create user", err)
		return
	}

	h.logger.Info("user registered", "user_id", user.ID)
	h.respondWithToken(w, http.StatusCreated, *user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "decode login", err)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, h.logger, "login", apperr.Validation("email and password are required"))
		return
	}

	user, err := h.userStore.Authenticate(r.Context(), email, req.Password)
	if err != nil {
		writeError(w, h.logger, "authenticate", err)
		return
	}
	if user == nil {
		h.logger.Warn("failed login", "email", email)
		writeError(w, h.logger, "login", errBadCredentials)
		return
	}

	h.respondWithToken(w, http.StatusOK, *user)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, user model.User) {
	token, err := h.issuer.Issue(user)
	if err != nil {
		writeError(w, h.logger, "issue token", err)
		return
	}
	writeJSON(w, status, model.AuthResponse{AccessToken: token, User: user})
}

// Logout revokes the caller's token so it cannot be replayed before it
// expires.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if err := h.tokenStore.Revoke(r.Context(), ac.TokenID, ac.ExpiresAt); err != nil {
		writeError(w, h.logger, "revoke token", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.userStore.GetByID(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "get user", err)
		return
	}
	if user == nil {
		writeError(w, h.logger, "me", apperr.New(apperr.ErrUnauthorized, "Please log in again."))
		return
	}
	writeJSON(w, http.StatusOK, user)
}
