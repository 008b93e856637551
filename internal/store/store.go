// Package store contains the PostgreSQL persistence layer. The database is the
// single source of truth; every mutation goes through insert/upsert by unique
// key so concurrent writers cannot corrupt each other.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joeltafilaj/web-app/internal/model"
)

// PgxPool is a minimal abstraction over a Postgres connection pool,
// used by the stores. It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// DB wraps a pgx pool to satisfy store constructors and allow testing.
type DB struct{ Pool PgxPool }

// New creates a new connection pool for the given DSN.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

// Close closes the underlying pool.
func (db *DB) Close() { db.Pool.Close() }

// UserStore provides read access to users plus credential lifecycle updates.
// User creation happens during sign-in, which is owned by the auth service.
type UserStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	ClearAccessToken(ctx context.Context, id uuid.UUID) error
}

// RepositoryStore provides upsert/query access to mirrored repositories.
type RepositoryStore interface {
	UpsertRepository(ctx context.Context, repo *model.Repository) (*model.Repository, error)
	GetRepositoryByID(ctx context.Context, id uuid.UUID) (*model.Repository, error)
	GetRepositoryWithCommits(ctx context.Context, id uuid.UUID) (*model.Repository, error)
	ListRepositoriesByUser(ctx context.Context, userID uuid.UUID) ([]model.Repository, error)
	SetRepositoryLanguages(ctx context.Context, id uuid.UUID, languages map[string]int) error
}

// CommitStore provides append-only commit persistence keyed by (repository, sha).
type CommitStore interface {
	// UpsertCommit inserts the commit unless a row with the same
	// (repository_id, sha) already exists, in which case it is a no-op.
	// It reports whether a row was inserted.
	UpsertCommit(ctx context.Context, c *model.Commit) (bool, error)
	// LatestCommitDate returns the max authored date among stored commits for
	// the repository, or ok=false when the repository has no commits yet.
	LatestCommitDate(ctx context.Context, repoID uuid.UUID) (time.Time, bool, error)
	ListCommitsByRepository(ctx context.Context, repoID uuid.UUID) ([]model.Commit, error)
}
