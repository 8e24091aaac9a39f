// Package guardian implements the invitation lifecycle that turns an e-mail
// address into a guardian of another user's medications.
//
// An invitation is PENDING until it is accepted (ACCEPTED, terminal) or its
// expiry passes (EXPIRED, derived, never stored). Acceptance and the
// resulting relationship edge are written together by the Store.
package guardian

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/medguard/internal/apperr"
	"github.com/dukerupert/medguard/internal/model"
)

type State string

const (
	StatePending  State = "PENDING"
	StateAccepted State = "ACCEPTED"
	StateExpired  State = "EXPIRED"
)

var (
	ErrInvitationNotFound        = apperr.New(apperr.ErrNotFound, "Invitation not found.")
	ErrInvitationExpired         = apperr.New(apperr.ErrExpired, "This invitation has expired.")
	ErrInvitationAlreadyAccepted = apperr.New(apperr.ErrAlreadyAccepted, "This invitation has already been accepted.")
	ErrInvitationDuplicate       = apperr.New(apperr.ErrAlreadyExists, "An invitation to this address is already pending.")
	ErrInvitationNotPending      = apperr.New(apperr.ErrNotPending, "Only pending invitations can be revoked.")
	ErrNotInviter                = apperr.New(apperr.ErrForbidden, "Only the inviter can revoke an invitation.")
	ErrSelfInvitation            = apperr.Validation("You cannot be your own guardian.")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// NormalizeEmail trims and lower-cases an address and checks its shape.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperr.Validation("email is required")
	}
	if !emailRegex.MatchString(email) {
		return "", apperr.Validation("invalid email format")
	}
	return email, nil
}

// StateOf derives the state of inv at now. An invitation is expired from
// its expiry instant onward.
func StateOf(inv model.Invitation, now time.Time) State {
	if inv.IsAccepted {
		return StateAccepted
	}
	if !now.Before(inv.InvitationExpiresAt) {
		return StateExpired
	}
	return StatePending
}

// IsValidInvitation reports whether inv can still be accepted at now.
func IsValidInvitation(inv model.Invitation, now time.Time) bool {
	return StateOf(inv, now) == StatePending
}

// Store persists invitations and relationship edges.
type Store interface {
	Create(ctx context.Context, inv *model.Invitation) error
	GetByID(ctx context.Context, id string) (*model.Invitation, error)
	GetByToken(ctx context.Context, token string) (*model.Invitation, error)
	// ListPending returns the not-yet-accepted invitations from inviterID to
	// email, expired or not.
	ListPending(ctx context.Context, inviterID, email string) ([]model.Invitation, error)
	// MarkAccepted flips isAccepted and inserts the relationship edge in one
	// transaction. It reports false when the invitation was already accepted.
	MarkAccepted(ctx context.Context, id string, guardian model.User, at time.Time) (bool, error)
	// DeletePending removes the invitation unless it has been accepted. It
	// reports whether a row was removed.
	DeletePending(ctx context.Context, id string) (bool, error)
}

type Config struct {
	// InvitationTTL is how long an invitation stays acceptable. It has no
	// default here; deployments configure it.
	InvitationTTL time.Duration
}

type Machine struct {
	store    Store
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
	logger   *slog.Logger
}

type Option func(*Machine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithTokenGenerator overrides how invitation tokens are minted.
func WithTokenGenerator(gen func() (string, error)) Option {
	return func(m *Machine) { m.newToken = gen }
}

func NewMachine(store Store, cfg Config, logger *slog.Logger, opts ...Option) (*Machine, error) {
	if cfg.InvitationTTL <= 0 {
		return nil, errors.New("guardian: invitation TTL must be positive")
	}
	m := &Machine{
		store:    store,
		ttl:      cfg.InvitationTTL,
		now:      time.Now,
		newToken: generateToken,
		logger:   logger,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// generateToken returns 32 crypto-random bytes, hex encoded.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Invite creates a pending invitation from inviter to email.
func (m *Machine) Invite(ctx context.Context, inviter model.User, email string) (*model.Invitation, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(email, inviter.Email) {
		return nil, ErrSelfInvitation
	}

	now := m.now().UTC()
	pending, err := m.store.ListPending(ctx, inviter.ID, email)
	if err != nil {
		return nil, fmt.Errorf("list pending invitations: %w", err)
	}
	for _, inv := range pending {
		if StateOf(inv, now) == StatePending {
			return nil, ErrInvitationDuplicate
		}
	}

	token, err := m.newToken()
	if err != nil {
		return nil, err
	}
	inv := &model.Invitation{
		ID:                  uuid.NewString(),
		User:                inviter,
		Email:               email,
		InvitationToken:     token,
		InvitationExpiresAt: now.Add(m.ttl),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := m.store.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}

	m.logger.Info("invitation created", "invitation_id", inv.ID, "inviter_id", inviter.ID)
	return inv, nil
}

// Accept consumes token on behalf of invitee and grants guardianship.
func (m *Machine) Accept(ctx context.Context, token string, invitee model.User) (*model.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvitationNotFound
	}
	inv, err := m.store.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	if inv == nil {
		return nil, ErrInvitationNotFound
	}

	now := m.now().UTC()
	switch StateOf(*inv, now) {
	case StateAccepted:
		return nil, ErrInvitationAlreadyAccepted
	case StateExpired:
		return nil, ErrInvitationExpired
	}
	if inv.User.ID == invitee.ID {
		return nil, ErrSelfInvitation
	}

	ok, err := m.store.MarkAccepted(ctx, inv.ID, invitee, now)
	if errors.Is(err, apperr.ErrExpired) {
		return nil, ErrInvitationExpired
	}
	if err != nil {
		return nil, fmt.Errorf("accept invitation: %w", err)
	}
	if !ok {
		// Lost a race with another accept of the same token.
		return nil, ErrInvitationAlreadyAccepted
	}

	accepted, err := m.store.GetByID(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("reload invitation: %w", err)
	}
	if accepted == nil {
		return nil, ErrInvitationNotFound
	}

	m.logger.Info("invitation accepted", "invitation_id", inv.ID, "guardian_id", invitee.ID)
	return accepted, nil
}

// Revoke deletes a pending invitation. Only its inviter may do so.
func (m *Machine) Revoke(ctx context.Context, inviterID, id string) error {
	inv, err := m.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get invitation: %w", err)
	}
	if inv == nil {
		return ErrInvitationNotFound
	}
	if inv.User.ID != inviterID {
		return ErrNotInviter
	}
	if StateOf(*inv, m.now().UTC()) != StatePending {
		return ErrInvitationNotPending
	}
	removed, err := m.store.DeletePending(ctx, id)
	if err != nil {
		return fmt.Errorf("delete invitation: %w", err)
	}
	if !removed {
		return ErrInvitationNotPending
	}

	m.logger.Info("invitation revoked", "invitation_id", id)
	return nil
}
