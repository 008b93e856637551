package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/joeltafilaj/web-app/internal/errs"
	"github.com/joeltafilaj/web-app/internal/model"
)

// Repositories implements RepositoryStore using PostgreSQL.
type Repositories struct{ db *DB }

// NewRepositories constructs a repository store.
func NewRepositories(db *DB) *Repositories { return &Repositories{db: db} }

const repoColumns = `id, user_id, github_id, name, full_name, description, url, starred, languages, created_at, updated_at`

// UpsertRepository creates the (user, github repo) row or refreshes its
// metadata, keyed by the (user_id, github_id) unique constraint.
func (s *Repositories) UpsertRepository(ctx context.Context, repo *model.Repository) (*model.Repository, error) {
	const q = `
INSERT INTO repositories (user_id, github_id, name, full_name, description, url, starred)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, github_id) DO UPDATE
SET name=EXCLUDED.name, full_name=EXCLUDED.full_name, description=EXCLUDED.description,
    url=EXCLUDED.url, starred=EXCLUDED.starred, updated_at=now()
RETURNING ` + repoColumns
	row := s.db.Pool.QueryRow(ctx, q,
		repo.UserID, repo.GithubID, repo.Name, repo.FullName, repo.Description, repo.URL, repo.Starred)
	return scanRepository(row)
}

// GetRepositoryByID selects a repository by primary key.
func (s *Repositories) GetRepositoryByID(ctx context.Context, id uuid.UUID) (*model.Repository, error) {
	const q = `SELECT ` + repoColumns + ` FROM repositories WHERE id=$1`
	r, err := scanRepository(s.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// GetRepositoryWithCommits loads a repository together with its stored
// commits, newest first.
func (s *Repositories) GetRepositoryWithCommits(ctx context.Context, id uuid.UUID) (*model.Repository, error) {
	repo, err := s.GetRepositoryByID(ctx, id)
	if err != nil {
		return nil, err
	}

	const q = `
SELECT repository_id, sha, message, author_name, commit_date
FROM commits WHERE repository_id=$1
ORDER BY commit_date DESC`
	rows, err := s.db.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Commit
		if err := rows.Scan(&c.RepositoryID, &c.SHA, &c.Message, &c.Author, &c.Date); err != nil {
			return nil, err
		}
		repo.Commits = append(repo.Commits, c)
	}
	return repo, rows.Err()
}

// ListRepositoriesByUser returns all repositories mirrored for a user.
func (s *Repositories) ListRepositoriesByUser(ctx context.Context, userID uuid.UUID) ([]model.Repository, error) {
	const q = `SELECT ` + repoColumns + ` FROM repositories WHERE user_id=$1 ORDER BY full_name`
	rows, err := s.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

// SetRepositoryLanguages stores the per-language byte counts for a repository.
func (s *Repositories) SetRepositoryLanguages(ctx context.Context, id uuid.UUID, languages map[string]int) error {
	raw, err := json.Marshal(languages)
	if err != nil {
		return fmt.Errorf("marshal languages: %w", err)
	}
	const q = `UPDATE repositories SET languages=$2, updated_at=now() WHERE id=$1`
	tag, err := s.db.Pool.Exec(ctx, q, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanRepository(row pgx.Row) (*model.Repository, error) {
	var r model.Repository
	var languages []byte
	err := row.Scan(&r.ID, &r.UserID, &r.GithubID, &r.Name, &r.FullName,
		&r.Description, &r.URL, &r.Starred, &languages, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(languages) > 0 {
		if err := json.Unmarshal(languages, &r.Languages); err != nil {
			return nil, fmt.Errorf("unmarshal languages: %w", err)
		}
	}
	return &r, nil
}
