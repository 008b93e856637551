package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joeltafilaj/web-app/internal/model"
)

// Commits implements CommitStore using PostgreSQL.
type Commits struct{ db *DB }

// NewCommits constructs a commit store.
func NewCommits(db *DB) *Commits { return &Commits{db: db} }

// UpsertCommit inserts the commit; an existing (repository_id, sha) row makes
// it a no-op. This dedup key is what makes redelivered jobs and overlapping
// fetch windows safe to apply.
func (s *Commits) UpsertCommit(ctx context.Context, c *model.Commit) (bool, error) {
	const q = `
INSERT INTO commits (repository_id, sha, message, author_name, commit_date)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (repository_id, sha) DO NOTHING`
	tag, err := s.db.Pool.Exec(ctx, q, c.RepositoryID, c.SHA, c.Message, c.Author, c.Date)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// LatestCommitDate returns the most recent stored commit date for the
// repository. This is the sync cursor: the store itself is the checkpoint.
func (s *Commits) LatestCommitDate(ctx context.Context, repoID uuid.UUID) (time.Time, bool, error) {
	const q = `SELECT max(commit_date) FROM commits WHERE repository_id=$1`
	var latest *time.Time
	if err := s.db.Pool.QueryRow(ctx, q, repoID).Scan(&latest); err != nil {
		return time.Time{}, false, err
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return *latest, true, nil
}

// ListCommitsByRepository returns stored commits for a repository, newest first.
func (s *Commits) ListCommitsByRepository(ctx context.Context, repoID uuid.UUID) ([]model.Commit, error) {
	const q = `
SELECT repository_id, sha, message, author_name, commit_date
FROM commits WHERE repository_id=$1
ORDER BY commit_date DESC`
	rows, err := s.db.Pool.Query(ctx, q, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []model.Commit
	for rows.Next() {
		var c model.Commit
		if err := rows.Scan(&c.RepositoryID, &c.SHA, &c.Message, &c.Author, &c.Date); err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}
