package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/medguard/internal/model"
)

type RelationshipStore struct {
	db *sql.DB
}

func NewRelationshipStore(db *sql.DB) *RelationshipStore {
	return &RelationshipStore{db: db}
}

func (s *RelationshipStore) users(ctx context.Context, query, id string) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("list related users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Wards returns the users guardianID is a guardian of.
func (s *RelationshipStore) Wards(ctx context.Context, guardianID string) ([]model.User, error) {
	return s.users(ctx,
		`SELECT u.id, u.email, u.name FROM guardian_relationships r JOIN users u ON u.id = r.user_id
		 WHERE r.guardian_id = ? ORDER BY u.name, u.id`, guardianID)
}

// Guardians returns the guardians of userID.
func (s *RelationshipStore) Guardians(ctx context.Context, userID string) ([]model.User, error) {
	return s.users(ctx,
		`SELECT u.id, u.email, u.name FROM guardian_relationships r JOIN users u ON u.id = r.guardian_id
		 WHERE r.user_id = ? ORDER BY u.name, u.id`, userID)
}

func (s *RelationshipStore) IsGuardian(ctx context.Context, userID, guardianID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM guardian_relationships WHERE user_id = ? AND guardian_id = ?`,
		userID, guardianID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check relationship: %w", err)
	}
	return n > 0, nil
}

// Role returns how userID relates to medications owned by ownerID, or ""
// when they are unrelated.
func (s *RelationshipStore) Role(ctx context.Context, ownerID, userID string) (model.Role, error) {
	if ownerID == userID {
		return model.RoleOwner, nil
	}
	ok, err := s.IsGuardian(ctx, ownerID, userID)
	if err != nil {
		return "", err
	}
	if ok {
		return model.RoleGuardian, nil
	}
	return "", nil
}
