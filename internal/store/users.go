package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/joeltafilaj/web-app/internal/errs"
	"github.com/joeltafilaj/web-app/internal/model"
)

// Users implements UserStore using PostgreSQL.
type Users struct{ db *DB }

// NewUsers constructs a user store.
func NewUsers(db *DB) *Users { return &Users{db: db} }

// GetUserByID selects a user by primary key.
func (s *Users) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `
SELECT id, github_id, username, name, avatar_url, email, access_token, created_at, updated_at
FROM users WHERE id=$1`
	row := s.db.Pool.QueryRow(ctx, q, id)
	var u model.User
	err := row.Scan(&u.ID, &u.GithubID, &u.Username, &u.Name, &u.AvatarURL, &u.Email, &u.AccessToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ClearAccessToken blanks the stored GitHub token on sign-out or revocation.
// The row itself is kept.
func (s *Users) ClearAccessToken(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE users SET access_token='', updated_at=now() WHERE id=$1`
	tag, err := s.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrUserNotFound
	}
	return nil
}
