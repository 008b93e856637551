// internal/model/models.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// User is a GitHub identity with a locally issued session credential and the
// delegated access token used to call the GitHub API on the user's behalf.
type User struct {
	ID          uuid.UUID `json:"id"`
	GithubID    string    `json:"githubId"`
	Username    string    `json:"username"`
	Name        *string   `json:"name"`
	AvatarURL   *string   `json:"avatarUrl"`
	Email       *string   `json:"email"`
	AccessToken string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"-"`
}

// Profile returns the user projection safe to expose over the API.
func (u *User) Profile() map[string]any {
	return map[string]any{
		"id":        u.ID,
		"username":  u.Username,
		"name":      u.Name,
		"avatarUrl": u.AvatarURL,
		"email":     u.Email,
		"createdAt": u.CreatedAt,
	}
}

// Repository is one starred repository mirrored for one user.
// (UserID, GithubID) is unique.
type Repository struct {
	ID          uuid.UUID      `json:"id"`
	UserID      uuid.UUID      `json:"userId"`
	GithubID    string         `json:"githubId"`
	Name        string         `json:"name"`
	FullName    string         `json:"fullName"`
	Description *string        `json:"description"`
	URL         string         `json:"url"`
	Starred     bool           `json:"starred"`
	Languages   map[string]int `json:"languages,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Commits     []Commit       `json:"commits,omitempty"`
}

// Commit is one upstream commit mirrored into local storage.
// (RepositoryID, SHA) is unique; rows are append-only.
type Commit struct {
	RepositoryID uuid.UUID `json:"repositoryId"`
	SHA          string    `json:"sha"`
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	Date         time.Time `json:"date"`
}

// SyncJob identifies one commit-mirror unit of work. Its queue identity is
// derived from (UserID, RepositoryID) so re-enqueuing the same repository
// while a prior job is still waiting or active is a no-op.
type SyncJob struct {
	RepositoryID uuid.UUID `json:"repositoryId"`
	UserID       uuid.UUID `json:"userId"`
	RepoFullName string    `json:"repoFullName"`
}

// Key returns the deterministic dedup identity for the job.
func (j SyncJob) Key() string {
	return "commits:" + j.UserID.String() + ":" + j.RepositoryID.String()
}
