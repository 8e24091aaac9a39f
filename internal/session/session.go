// Package session holds the bearer credential and the user it belongs to.
// A Session is passed explicitly to whatever needs it; there is no global.
package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukerupert/medguard/internal/model"
)

// DefaultLifetime applies when a token carries no readable exp claim.
const DefaultLifetime = 7 * 24 * time.Hour

type Session struct {
	mu        sync.RWMutex
	token     string
	user      model.User
	expiresAt time.Time
	lifetime  time.Duration
	now       func() time.Time
}

// New returns an empty session. A lifetime of zero means DefaultLifetime.
func New(lifetime time.Duration) *Session {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Session{lifetime: lifetime, now: time.Now}
}

// Set stores token for user. The expiry comes from the token's exp claim.
// The signature is not checked: the client is not the issuer and the server
// verifies every request anyway.
func (s *Session) Set(token string, user model.User) {
	exp := expiry(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp.IsZero() {
		exp = s.now().Add(s.lifetime)
	}
	s.token = token
	s.user = user
	s.expiresAt = exp
}

func expiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Token returns the credential if one is set and has not expired.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" || !s.now().Before(s.expiresAt) {
		return "", false
	}
	return s.token, true
}

func (s *Session) User() model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

func (s *Session) Authenticated() bool {
	_, ok := s.Token()
	return ok
}

// Clear forgets the credential and user.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.user = model.User{}
	s.expiresAt = time.Time{}
}

// Snapshot is the persisted form of a session.
type Snapshot struct {
	Token     string     `json:"token"`
	User      model.User `json:"user"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Token: s.token, User: s.user, ExpiresAt: s.expiresAt}
}

// Restore loads snap into s. Expired snapshots leave s empty.
func (s *Session) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Token == "" || !s.now().Before(snap.ExpiresAt) {
		s.token, s.user, s.expiresAt = "", model.User{}, time.Time{}
		return
	}
	s.token = snap.Token
	s.user = snap.User
	s.expiresAt = snap.ExpiresAt
}
