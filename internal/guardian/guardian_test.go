package guardian

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/medguard/internal/apperr"
	"github.com/dukerupert/medguard/internal/model"
)

type memStore struct {
	mu            sync.Mutex
	invitations   map[string]*model.Invitation
	relationships []model.Relationship
}

func newMemStore() *memStore {
	return &memStore{invitations: make(map[string]*model.Invitation)}
}

func (s *memStore) Create(_ context.Context, inv *model.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *inv
	s.invitations[inv.ID] = &c
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return nil, nil
	}
	c := *inv
	return &c, nil
}

func (s *memStore) GetByToken(_ context.Context, token string) (*model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invitations {
		if inv.InvitationToken == token {
			c := *inv
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListPending(_ context.Context, inviterID, email string) ([]model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Invitation
	for _, inv := range s.invitations {
		if inv.User.ID == inviterID && inv.Email == email && !inv.IsAccepted {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (s *memStore) MarkAccepted(_ context.Context, id string, g model.User, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok || inv.IsAccepted {
		return false, nil
	}
	inv.IsAccepted = true
	inv.Guardian = &g
	inv.AcceptedAt = &at
	s.relationships = append(s.relationships, model.Relationship{
		UserID: inv.User.ID, GuardianID: g.ID, Role: model.RoleGuardian, InvitationID: id,
	})
	return true, nil
}

func (s *memStore) DeletePending(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok || inv.IsAccepted {
		return false, nil
	}
	delete(s.invitations, id)
	return true, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	alice = model.User{ID: "u-alice", Name: "Alice", Email: "alice@example.com"}
	bob   = model.User{ID: "u-bob", Name: "Bob", Email: "guardian@example.com"}
)

func setupMachine(t *testing.T) (*Machine, *memStore, *fakeClock) {
	t.Helper()
	store := newMemStore()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := NewMachine(store, Config{InvitationTTL: 7 * 24 * time.Hour}, logger, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	return m, store, clock
}

func TestNewMachineRequiresTTL(t *testing.T) {
	_, err := NewMachine(newMemStore(), Config{}, slog.Default())
	if err == nil {
		t.Error("expected error for zero TTL")
	}
}

func TestInviteCreatesPending(t *testing.T) {
	m, _, clock := setupMachine(t)

	inv, err := m.Invite(context.Background(), alice, "  Guardian@Example.com ")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if inv.Email != "guardian@example.com" {
		t.Errorf("email = %q, want normalized", inv.Email)
	}
	if len(inv.InvitationToken) != 64 {
		t.Errorf("token length = %d, want 64", len(inv.InvitationToken))
	}
	if !inv.InvitationExpiresAt.Equal(clock.Now().Add(7 * 24 * time.Hour)) {
		t.Errorf("expires at = %v", inv.InvitationExpiresAt)
	}
	if StateOf(*inv, clock.Now()) != StatePending {
		t.Errorf("state = %s, want PENDING", StateOf(*inv, clock.Now()))
	}
}

func TestInviteTokensAreUnique(t *testing.T) {
	m, _, _ := setupMachine(t)
	a, err := m.Invite(context.Background(), alice, "one@example.com")
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Invite(context.Background(), alice, "two@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if a.InvitationToken == b.InvitationToken {
		t.Error("two invitations share a token")
	}
}

func TestInviteValidation(t *testing.T) {
	m, _, _ := setupMachine(t)
	for _, email := range []string{"", "not-an-email", "alice@example.com"} {
		_, err := m.Invite(context.Background(), alice, email)
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Invite(%q) err = %v, want validation error", email, err)
		}
	}
}

func TestDuplicateThenRevokeThenInvite(t *testing.T) {
	m, _, _ := setupMachine(t)
	ctx := context.Background()

	first, err := m.Invite(ctx, alice, "guardian@example.com")
	if err != nil {
		t.Fatalf("first invite: %v", err)
	}

	_, err = m.Invite(ctx, alice, "guardian@example.com")
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("second invite err = %v, want already exists", err)
	}

	if err := m.Revoke(ctx, alice.ID, first.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := m.Invite(ctx, alice, "guardian@example.com"); err != nil {
		t.Errorf("invite after revoke: %v", err)
	}
}

func TestInviteAfterExpiryIsAllowed(t *testing.T) {
	m, _, clock := setupMachine(t)
	ctx := context.Background()

	if _, err := m.Invite(ctx, alice, "guardian@example.com"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(8 * 24 * time.Hour)
	if _, err := m.Invite(ctx, alice, "guardian@example.com"); err != nil {
		t.Errorf("invite after expiry: %v", err)
	}
}

func TestAcceptGrantsRelationship(t *testing.T) {
	m, store, clock := setupMachine(t)
	ctx := context.Background()

	inv, _ := m.Invite(ctx, alice, bob.Email)
	accepted, err := m.Accept(ctx, inv.InvitationToken, bob)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !accepted.IsAccepted {
		t.Error("expected isAccepted = true")
	}
	if accepted.Guardian == nil || accepted.Guardian.ID != bob.ID {
		t.Errorf("guardian = %v, want %s", accepted.Guardian, bob.ID)
	}
	if StateOf(*accepted, clock.Now()) != StateAccepted {
		t.Errorf("state = %s, want ACCEPTED", StateOf(*accepted, clock.Now()))
	}
	if len(store.relationships) != 1 || store.relationships[0].GuardianID != bob.ID {
		t.Errorf("relationships = %+v, want one edge to bob", store.relationships)
	}
}

func TestAcceptTwiceFails(t *testing.T) {
	m, _, _ := setupMachine(t)
	ctx := context.Background()

	inv, _ := m.Invite(ctx, alice, bob.Email)
	if _, err := m.Accept(ctx, inv.InvitationToken, bob); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	_, err := m.Accept(ctx, inv.InvitationToken, bob)
	if !errors.Is(err, apperr.ErrAlreadyAccepted) {
		t.Errorf("second accept err = %v, want already accepted", err)
	}
}

func TestAcceptExpired(t *testing.T) {
	m, store, clock := setupMachine(t)
	ctx := context.Background()

	inv, _ := m.Invite(ctx, alice, bob.Email)
	clock.Advance(7 * 24 * time.Hour)

	_, err := m.Accept(ctx, inv.InvitationToken, bob)
	if !errors.Is(err, apperr.ErrExpired) {
		t.Errorf("accept err = %v, want expired", err)
	}
	if len(store.relationships) != 0 {
		t.Error("expired accept granted a relationship")
	}
}

func TestAcceptUnknownToken(t *testing.T) {
	m, _, _ := setupMachine(t)
	for _, token := range []string{"", "nope"} {
		_, err := m.Accept(context.Background(), token, bob)
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Accept(%q) err = %v, want not found", token, err)
		}
	}
}

func TestAcceptOwnInvitation(t *testing.T) {
	m, _, _ := setupMachine(t)
	inv, _ := m.Invite(context.Background(), alice, bob.Email)
	_, err := m.Accept(context.Background(), inv.InvitationToken, alice)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestAcceptOwnInvitationAfterStateChange(t *testing.T) {
	m, _, clock := setupMachine(t)
	ctx := context.Background()

	accepted, _ := m.Invite(ctx, alice, bob.Email)
	if _, err := m.Accept(ctx, accepted.InvitationToken, bob); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := m.Accept(ctx, accepted.InvitationToken, alice); !errors.Is(err, apperr.ErrAlreadyAccepted) {
		t.Errorf("own accepted token err = %v, want already accepted", err)
	}

	expired, _ := m.Invite(ctx, alice, "other@example.com")
	clock.Advance(8 * 24 * time.Hour)
	if _, err := m.Accept(ctx, expired.InvitationToken, alice); !errors.Is(err, apperr.ErrExpired) {
		t.Errorf("own expired token err = %v, want expired", err)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	m, store, _ := setupMachine(t)
	ctx := context.Background()
	inv, _ := m.Invite(ctx, alice, bob.Email)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Accept(ctx, inv.InvitationToken, bob)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, apperr.ErrAlreadyAccepted):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
	if len(store.relationships) != 1 {
		t.Errorf("relationships = %d, want 1", len(store.relationships))
	}
}

func TestRevokeRules(t *testing.T) {
	m, _, clock := setupMachine(t)
	ctx := context.Background()

	if err := m.Revoke(ctx, alice.ID, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("revoke missing err = %v, want not found", err)
	}

	inv, _ := m.Invite(ctx, alice, bob.Email)
	if err := m.Revoke(ctx, bob.ID, inv.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("revoke by invitee err = %v, want forbidden", err)
	}

	if _, err := m.Accept(ctx, inv.InvitationToken, bob); err != nil {
		t.Fatal(err)
	}
	if err := m.Revoke(ctx, alice.ID, inv.ID); !errors.Is(err, apperr.ErrNotPending) {
		t.Errorf("revoke accepted err = %v, want not pending", err)
	}

	other, _ := m.Invite(ctx, alice, "other@example.com")
	clock.Advance(8 * 24 * time.Hour)
	if err := m.Revoke(ctx, alice.ID, other.ID); !errors.Is(err, apperr.ErrNotPending) {
		t.Errorf("revoke expired err = %v, want not pending", err)
	}
}

func TestIsValidInvitation(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	inv := model.Invitation{InvitationExpiresAt: now.Add(time.Hour)}

	if !IsValidInvitation(inv, now) {
		t.Error("expected pending invitation to be valid")
	}
	if IsValidInvitation(inv, now.Add(time.Hour)) {
		t.Error("expected invitation at expiry instant to be invalid")
	}
	inv.IsAccepted = true
	if IsValidInvitation(inv, now) {
		t.Error("expected accepted invitation to be invalid")
	}
	if StateOf(inv, now.Add(2*time.Hour)) != StateAccepted {
		t.Error("accepted invitation must not become expired")
	}
}
