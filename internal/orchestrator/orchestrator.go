// Package orchestrator sequences user actions: validate locally, check the
// caller's role, call the API, then refresh the cache from what the server
// confirmed. It is the only place a role tag is checked.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/medguard/internal/adherence"
	"github.com/dukerupert/medguard/internal/apperr"
	"github.com/dukerupert/medguard/internal/cache"
	"github.com/dukerupert/medguard/internal/guardian"
	"github.com/dukerupert/medguard/internal/model"
	"github.com/dukerupert/medguard/internal/session"
	"github.com/dukerupert/medguard/internal/websocket"
)

// API is the subset of the REST client the orchestrator drives.
type API interface {
	Register(ctx context.Context, req model.RegisterRequest) (*model.AuthResponse, error)
	Login(ctx context.Context, req model.LoginRequest) (*model.AuthResponse, error)
	Logout(ctx context.Context) error
	Medications(ctx context.Context) (*model.MedicationsResponse, error)
	CreateMedication(ctx context.Context, req model.CreateMedicationRequest) (*model.Medication, error)
	ToggleDose(ctx context.Context, id string, req model.ToggleRequest) (*model.Medication, error)
	DeleteMedication(ctx context.Context, id string) error
	Invite(ctx context.Context, email string) (*model.Invitation, error)
	Accept(ctx context.Context, token string) (*model.Invitation, error)
	SentInvitations(ctx context.Context) ([]model.Invitation, error)
	ReceivedInvitations(ctx context.Context) ([]model.Invitation, error)
	RevokeInvitation(ctx context.Context, id string) error
}

// FeedFunc subscribes to the change feed, calling fn per message until ctx
// ends.
type FeedFunc func(ctx context.Context, fn func(websocket.Message)) error

type Orchestrator struct {
	api     API
	session *session.Session
	cache   *cache.Cache
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Orchestrator)

// WithClock overrides the time source used for quick takes and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(api API, sess *session.Session, c *cache.Cache, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:     api,
		session: sess,
		cache:   c,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}

	c.Register(cache.KeyMedications, func(ctx context.Context) (any, error) {
		resp, err := api.Medications(ctx)
		if err != nil {
			return nil, err
		}
		return checkMedications(resp)
	})
	c.Register(cache.KeyGuardiansSent, func(ctx context.Context) (any, error) {
		return api.SentInvitations(ctx)
	})
	c.Register(cache.KeyGuardiansReceived, func(ctx context.Context) (any, error) {
		return api.ReceivedInvitations(ctx)
	})
	return o
}

// mutate runs do under lock, then refetches the affected keys. A refetch
// failure does not undo a confirmed write; the keys stay invalidated and the
// next read retries.
func (o *Orchestrator) mutate(ctx context.Context, lock string, affects []cache.Key, do func(ctx context.Context) error) error {
	err := o.cache.Mutate(ctx, cache.Mutation{Lock: lock, Affects: affects, Do: do})
	if err != nil {
		return err
	}
	if err := o.cache.Refresh(ctx, affects...); err != nil {
		o.logger.Warn("refetch after mutation", "lock", lock, "error", err)
	}
	return nil
}

func (o *Orchestrator) currentUser() (model.User, error) {
	if !o.session.Authenticated() {
		return model.User{}, apperr.New(apperr.ErrUnauthorized, "Please log in first.")
	}
	return o.session.User(), nil
}

// Login authenticates and starts a fresh session.
func (o *Orchestrator) Login(ctx context.Context, email, password string) (model.User, error) {
	email, err := guardian.NormalizeEmail(email)
	if err != nil {
		return model.User{}, err
	}
	if password == "" {
		return model.User{}, apperr.Validation("password is required")
	}
	resp, err := o.api.Login(ctx, model.LoginRequest{Email: email, Password: password})
	if err != nil {
		return model.User{}, err
	}
	o.cache.Clear()
	o.session.Set(resp.AccessToken, resp.User)
	o.logger.Info("logged in", "user_id", resp.User.ID)
	return resp.User, nil
}

// Register creates an account and logs into it.
func (o *Orchestrator) Register(ctx context.Context, name, email, password string) (model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.User{}, apperr.Validation("name is required")
	}
	email, err := guardian.NormalizeEmail(email)
	if err != nil {
		return model.User{}, err
	}
	if len(password) < 8 {
		return model.User{}, apperr.Validation("password must be at least 8 characters")
	}
	resp, err := o.api.Register(ctx, model.RegisterRequest{Name: name, Email: email, Password: password})
	if err != nil {
		return model.User{}, err
	}
	o.cache.Clear()
	o.session.Set(resp.AccessToken, resp.User)
	o.logger.Info("registered", "user_id", resp.User.ID)
	return resp.User, nil
}

// Logout ends the session locally even when the server call fails.
func (o *Orchestrator) Logout(ctx context.Context) error {
	var err error
	if o.session.Authenticated() {
		err = o.api.Logout(ctx)
		if err != nil {
			o.logger.Warn("server logout failed", "error", err)
		}
	}
	o.session.Clear()
	o.cache.Clear()
	return err
}

func (o *Orchestrator) Medications(ctx context.Context) (*model.MedicationsResponse, error) {
	if _, err := o.currentUser(); err != nil {
		return nil, err
	}
	return cache.Load[*model.MedicationsResponse](ctx, o.cache, cache.KeyMedications)
}

// MedicationView is a medication as seen by the current user.
type MedicationView struct {
	Medication model.Medication
	Owner      model.User
	Role       model.Role
}

// Medication finds id among the medications visible to the current user and
// tags it with the caller's role.
func (o *Orchestrator) Medication(ctx context.Context, id string) (MedicationView, error) {
	me, err := o.currentUser()
	if err != nil {
		return MedicationView{}, err
	}
	resp, err := o.Medications(ctx)
	if err != nil {
		return MedicationView{}, err
	}
	for _, m := range resp.UserMedications {
		if m.ID == id {
			return MedicationView{Medication: m, Owner: me, Role: model.RoleOwner}, nil
		}
	}
	for _, g := range resp.GuardianMedications {
		for _, m := range g.Medications {
			if m.ID == id {
				return MedicationView{Medication: m, Owner: g.User, Role: model.RoleGuardian}, nil
			}
		}
	}
	return MedicationView{}, apperr.New(apperr.ErrNotFound, "Medication not found.")
}

func (o *Orchestrator) authorize(ctx context.Context, id string, capability model.Capability) (MedicationView, error) {
	view, err := o.Medication(ctx, id)
	if err != nil {
		return MedicationView{}, err
	}
	if !view.Role.Can(capability) {
		return MedicationView{}, apperr.New(apperr.ErrForbidden, fmt.Sprintf("A %s cannot %s this medication.", view.Role, capability))
	}
	return view, nil
}

// checkMedications normalizes every medication in resp and rejects the
// response when one breaks the schedule invariants. A malformed record is a
// server fault, so it is reported as a transport error.
func checkMedications(resp *model.MedicationsResponse) (*model.MedicationsResponse, error) {
	check := func(ms []model.Medication) error {
		for i, m := range ms {
			m = adherence.Normalize(m)
			if err := adherence.Validate(m); err != nil {
				return fmt.Errorf("medication %s from server: %w: %v", m.ID, apperr.ErrTransport, err)
			}
			ms[i] = m
		}
		return nil
	}
	if err := check(resp.UserMedications); err != nil {
		return nil, err
	}
	for _, g := range resp.GuardianMedications {
		if err := check(g.Medications); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Progress summarises a medication's adherence.
type Progress struct {
	Completed int
	Expected  int
	Days      []adherence.Day
}

func (o *Orchestrator) Progress(ctx context.Context, id string) (Progress, error) {
	view, err := o.authorize(ctx, id, model.CapView)
	if err != nil {
		return Progress{}, err
	}
	m := view.Medication
	return Progress{
		Completed: adherence.CompletedCount(m),
		Expected:  adherence.ExpectedDoseCount(m),
		Days:      adherence.Days(m),
	}, nil
}

func (o *Orchestrator) CreateMedication(ctx context.Context, req model.CreateMedicationRequest) (*model.Medication, error) {
	me, err := o.currentUser()
	if err != nil {
		return nil, err
	}
	m, err := adherence.NewMedication(me.ID, req)
	if err != nil {
		return nil, err
	}

	times := make([]string, len(m.Times))
	for i, t := range m.Times {
		times[i] = t.String()
	}
	normalized := model.CreateMedicationRequest{
		Name:      m.Name,
		Dose:      m.Dose,
		Times:     times,
		Duration:  m.Duration,
		StartDate: m.StartDate.String(),
		EndDate:   m.EndDate.String(),
	}

	var created *model.Medication
	lock := "create:" + strings.ToLower(m.Name) + ":" + m.StartDate.String()
	err = o.mutate(ctx, lock, []cache.Key{cache.KeyMedications}, func(ctx context.Context) error {
		var err error
		created, err = o.api.CreateMedication(ctx, normalized)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Toggle flips one dose of a medication the caller owns or guards.
func (o *Orchestrator) Toggle(ctx context.Context, id string, date model.Date, t model.TimeOfDay) (*model.Medication, error) {
	view, err := o.authorize(ctx, id, model.CapToggle)
	if err != nil {
		return nil, err
	}
	if _, err := adherence.Toggle(view.Medication, date, t); err != nil {
		return nil, err
	}

	var updated *model.Medication
	lock := fmt.Sprintf("toggle:%s:%s:%s", id, date, t)
	err = o.mutate(ctx, lock, []cache.Key{cache.KeyMedications}, func(ctx context.Context) error {
		var err error
		updated, err = o.api.ToggleDose(ctx, id, model.ToggleRequest{Date: date, Time: t})
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Take toggles the dose slot nearest to now.
func (o *Orchestrator) Take(ctx context.Context, id string) (*model.Medication, model.Date, model.TimeOfDay, error) {
	view, err := o.authorize(ctx, id, model.CapToggle)
	if err != nil {
		return nil, "", "", err
	}
	_, date, slot, err := adherence.Take(view.Medication, o.now())
	if err != nil {
		return nil, "", "", err
	}
	updated, err := o.Toggle(ctx, id, date, slot)
	if err != nil {
		return nil, "", "", err
	}
	return updated, date, slot, nil
}

func (o *Orchestrator) DeleteMedication(ctx context.Context, id string) error {
	if _, err := o.authorize(ctx, id, model.CapDelete); err != nil {
		return err
	}
	return o.mutate(ctx, "delete:"+id, []cache.Key{cache.KeyMedications}, func(ctx context.Context) error {
		return o.api.DeleteMedication(ctx, id)
	})
}

func (o *Orchestrator) SentInvitations(ctx context.Context) ([]model.Invitation, error) {
	if _, err := o.currentUser(); err != nil {
		return nil, err
	}
	return cache.Load[[]model.Invitation](ctx, o.cache, cache.KeyGuardiansSent)
}

func (o *Orchestrator) ReceivedInvitations(ctx context.Context) ([]model.Invitation, error) {
	if _, err := o.currentUser(); err != nil {
		return nil, err
	}
	return cache.Load[[]model.Invitation](ctx, o.cache, cache.KeyGuardiansReceived)
}

// PendingInvitations returns the received invitations that can still be
// accepted.
func (o *Orchestrator) PendingInvitations(ctx context.Context) ([]model.Invitation, error) {
	received, err := o.ReceivedInvitations(ctx)
	if err != nil {
		return nil, err
	}
	now := o.now()
	var pending []model.Invitation
	for _, inv := range received {
		if guardian.IsValidInvitation(inv, now) {
			pending = append(pending, inv)
		}
	}
	return pending, nil
}

// Invite asks email to become a guardian of the current user.
func (o *Orchestrator) Invite(ctx context.Context, email string) (*model.Invitation, error) {
	me, err := o.currentUser()
	if err != nil {
		return nil, err
	}
	email, err = guardian.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(email, me.Email) {
		return nil, guardian.ErrSelfInvitation
	}
	sent, err := o.SentInvitations(ctx)
	if err != nil {
		return nil, err
	}
	now := o.now()
	for _, inv := range sent {
		if strings.EqualFold(inv.Email, email) && guardian.StateOf(inv, now) == guardian.StatePending {
			return nil, guardian.ErrInvitationDuplicate
		}
	}

	var created *model.Invitation
	err = o.mutate(ctx, "invite:"+email, []cache.Key{cache.KeyGuardiansSent}, func(ctx context.Context) error {
		var err error
		created, err = o.api.Invite(ctx, email)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Accept consumes an invitation token. On success the sent, received and
// medication views are invalidated together.
func (o *Orchestrator) Accept(ctx context.Context, token string) (*model.Invitation, error) {
	if _, err := o.currentUser(); err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, guardian.ErrInvitationNotFound
	}

	if received, ok := o.cache.Peek(cache.KeyGuardiansReceived); ok {
		invs, _ := received.([]model.Invitation)
		for _, inv := range invs {
			if inv.InvitationToken != token {
				continue
			}
			switch guardian.StateOf(inv, o.now()) {
			case guardian.StateAccepted:
				return nil, guardian.ErrInvitationAlreadyAccepted
			case guardian.StateExpired:
				return nil, guardian.ErrInvitationExpired
			}
		}
	}

	var accepted *model.Invitation
	affects := []cache.Key{cache.KeyGuardiansSent, cache.KeyGuardiansReceived, cache.KeyMedications}
	err := o.mutate(ctx, "accept:"+token, affects, func(ctx context.Context) error {
		var err error
		accepted, err = o.api.Accept(ctx, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// Revoke withdraws a pending invitation the current user sent.
func (o *Orchestrator) Revoke(ctx context.Context, id string) error {
	if _, err := o.currentUser(); err != nil {
		return err
	}
	if sent, ok := o.cache.Peek(cache.KeyGuardiansSent); ok {
		invs, _ := sent.([]model.Invitation)
		for _, inv := range invs {
			if inv.ID == id && guardian.StateOf(inv, o.now()) != guardian.StatePending {
				return guardian.ErrInvitationNotPending
			}
		}
	}
	return o.mutate(ctx, "revoke:"+id, []cache.Key{cache.KeyGuardiansSent}, func(ctx context.Context) error {
		return o.api.RevokeInvitation(ctx, id)
	})
}

// KeysFor maps a change-feed message onto the cache keys it makes stale.
func KeysFor(msg websocket.Message) []cache.Key {
	switch msg.Entity {
	case websocket.EntityMedication:
		return []cache.Key{cache.KeyMedications}
	case websocket.EntityInvitation:
		if msg.Action == "accepted" {
			return []cache.Key{cache.KeyGuardiansSent, cache.KeyGuardiansReceived, cache.KeyMedications}
		}
		return []cache.Key{cache.KeyGuardiansSent, cache.KeyGuardiansReceived}
	}
	return nil
}

// Watch invalidates cached views as the server reports changes made
// elsewhere. onChange, when set, runs after each invalidation.
func (o *Orchestrator) Watch(ctx context.Context, feed FeedFunc, onChange func(websocket.Message)) error {
	if _, err := o.currentUser(); err != nil {
		return err
	}
	return feed(ctx, func(msg websocket.Message) {
		keys := KeysFor(msg)
		if len(keys) == 0 {
			return
		}
		o.cache.Invalidate(keys...)
		o.logger.Debug("feed invalidated", "type", msg.Type, "keys", keys)
		if onChange != nil {
			onChange(msg)
		}
	})
}
