// internal/store/users_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeltafilaj/web-app/internal/errs"
)

func newTestDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &DB{Pool: mock}, mock
}

func TestUsers_GetUserByID(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	now := time.Now().UTC()

	t.Run("returns the user", func(t *testing.T) {
		db, mock := newTestDB(t)
		name := "The Octocat"
		mock.ExpectQuery(`SELECT id, github_id, username`).
			WithArgs(userID).
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "github_id", "username", "name", "avatar_url", "email", "access_token", "created_at", "updated_at",
			}).AddRow(userID, "583231", "octocat", &name, (*string)(nil), (*string)(nil), "gho_secret", now, now))

		u, err := NewUsers(db).GetUserByID(ctx, userID)

		require.NoError(t, err)
		assert.Equal(t, userID, u.ID)
		assert.Equal(t, "octocat", u.Username)
		require.NotNil(t, u.Name)
		assert.Equal(t, "The Octocat", *u.Name)
		assert.Nil(t, u.Email)
		assert.Equal(t, "gho_secret", u.AccessToken)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps missing rows to the sentinel", func(t *testing.T) {
		db, mock := newTestDB(t)
		mock.ExpectQuery(`SELECT id, github_id, username`).
			WithArgs(userID).
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "github_id", "username", "name", "avatar_url", "email", "access_token", "created_at", "updated_at",
			}))

		_, err := NewUsers(db).GetUserByID(ctx, userID)
		assert.ErrorIs(t, err, errs.ErrUserNotFound)
	})
}

func TestUsers_ClearAccessToken(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("blanks the token", func(t *testing.T) {
		db, mock := newTestDB(t)
		mock.ExpectExec(`UPDATE users SET access_token=''`).
			WithArgs(userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewUsers(db).ClearAccessToken(ctx, userID))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		db, mock := newTestDB(t)
		mock.ExpectExec(`UPDATE users SET access_token=''`).
			WithArgs(userID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := NewUsers(db).ClearAccessToken(ctx, userID)
		assert.ErrorIs(t, err, errs.ErrUserNotFound)
	})
}
