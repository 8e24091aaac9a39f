package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TokenStore records access tokens revoked by logout until they expire.
type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO revoked_tokens (jti, expires_at) VALUES (?, ?)`,
		jti, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *TokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?`, jti).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

// DeleteExpired drops revocations for tokens that can no longer verify.
func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT jti, expires_at FROM revoked_tokens`)
	if err != nil {
		return 0, fmt.Errorf("list revoked tokens: %w", err)
	}
	var stale []string
	for rows.Next() {
		var jti string
		var exp time.Time
		if err := rows.Scan(&jti, &exp); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan revoked token: %w", err)
		}
		if !now.Before(exp) {
			stale = append(stale, jti)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate revoked tokens: %w", err)
	}

	var n int64
	for _, jti := range stale {
		res, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE jti = ?`, jti)
		if err != nil {
			return n, fmt.Errorf("delete revoked token: %w", err)
		}
		c, _ := res.RowsAffected()
		n += c
	}
	return n, nil
}
