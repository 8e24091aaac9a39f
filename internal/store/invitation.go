package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/medguard/internal/apperr"
	"github.com/dukerupert/medguard/internal/model"
)

// InvitationStore persists guardian invitations and the relationship edges
// created when they are accepted.
type InvitationStore struct {
	db *sql.DB
}

func NewInvitationStore(db *sql.DB) *InvitationStore {
	return &InvitationStore{db: db}
}

func scanInvitation(scanner interface{ Scan(...any) error }) (*model.Invitation, error) {
	var inv model.Invitation
	var acceptedAt sql.NullTime
	var gID, gName, gEmail sql.NullString

	err := scanner.Scan(
		&inv.ID, &inv.Email, &inv.InvitationToken, &inv.InvitationExpiresAt,
		&inv.IsAccepted, &acceptedAt, &inv.CreatedAt, &inv.UpdatedAt,
		&inv.User.ID, &inv.User.Name, &inv.User.Email,
		&gID, &gName, &gEmail,
	)
	if err != nil {
		return nil, err
	}
	if acceptedAt.Valid {
		inv.AcceptedAt = &acceptedAt.Time
	}
	if gID.Valid {
		inv.Guardian = &model.User{ID: gID.String, Name: gName.String, Email: gEmail.String}
	}
	return &inv, nil
}

const invitationSelect = `SELECT i.id, i.email, i.token, i.expires_at, i.is_accepted, i.accepted_at, i.created_at, i.updated_at,
	u.id, u.name, u.email, g.id, g.name, g.email
	FROM invitations i
	JOIN users u ON u.id = i.inviter_id
	LEFT JOIN users g ON g.id = i.guardian_id`

func (s *InvitationStore) Create(ctx context.Context, inv *model.Invitation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invitations (id, inviter_id, email, token, expires_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.User.ID, inv.Email, inv.InvitationToken, inv.InvitationExpiresAt.UTC(), inv.CreatedAt.UTC(), inv.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *InvitationStore) get(ctx context.Context, where string, arg any) (*model.Invitation, error) {
	row := s.db.QueryRowContext(ctx, invitationSelect+` WHERE `+where, arg)
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	return inv, nil
}

func (s *InvitationStore) GetByID(ctx context.Context, id string) (*model.Invitation, error) {
	return s.get(ctx, `i.id = ?`, id)
}

func (s *InvitationStore) GetByToken(ctx context.Context, token string) (*model.Invitation, error) {
	return s.get(ctx, `i.token = ?`, token)
}

func (s *InvitationStore) list(ctx context.Context, where string, args ...any) ([]model.Invitation, error) {
	rows, err := s.db.QueryContext(ctx, invitationSelect+` WHERE `+where+` ORDER BY i.created_at DESC, i.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	invs := []model.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		invs = append(invs, *inv)
	}
	return invs, rows.Err()
}

func (s *InvitationStore) ListPending(ctx context.Context, inviterID, email string) ([]model.Invitation, error) {
	return s.list(ctx, `i.inviter_id = ? AND i.email = ? AND i.is_accepted = 0`, inviterID, email)
}

// ListSent returns every invitation inviterID has issued.
func (s *InvitationStore) ListSent(ctx context.Context, inviterID string) ([]model.Invitation, error) {
	return s.list(ctx, `i.inviter_id = ?`, inviterID)
}

// ListReceived returns every invitation addressed to email.
func (s *InvitationStore) ListReceived(ctx context.Context, email string) ([]model.Invitation, error) {
	return s.list(ctx, `i.email = ?`, email)
}

// MarkAccepted flips the invitation to accepted and records the guardian
// relationship in one transaction. It reports false, changing nothing, when
// the invitation was already accepted. An invitation whose expiry is not
// strictly after at fails with apperr.ErrExpired.
func (s *InvitationStore) MarkAccepted(ctx context.Context, id string, guardian model.User, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	at = at.UTC()
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT expires_at FROM invitations WHERE id = ?`, id).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get expiry: %w", err)
	}
	if !at.Before(expiresAt) {
		return false, fmt.Errorf("invitation %s: %w", id, apperr.ErrExpired)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE invitations SET is_accepted = 1, guardian_id = ?, accepted_at = ?, updated_at = ? WHERE id = ? AND is_accepted = 0`,
		guardian.ID, at, at, id,
	)
	if err != nil {
		return false, fmt.Errorf("accept invitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	var inviterID string
	if err := tx.QueryRowContext(ctx, `SELECT inviter_id FROM invitations WHERE id = ?`, id).Scan(&inviterID); err != nil {
		return false, fmt.Errorf("get inviter: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO guardian_relationships (user_id, guardian_id, invitation_id, created_at) VALUES (?, ?, ?, ?)`,
		inviterID, guardian.ID, id, at,
	); err != nil {
		return false, fmt.Errorf("insert relationship: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *InvitationStore) DeletePending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invitations WHERE id = ? AND is_accepted = 0`, id)
	if err != nil {
		return false, fmt.Errorf("delete invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
