package events

import (
	"github.com/google/uuid"

	"github.com/joeltafilaj/web-app/internal/model"
)

// CommitJobCompleted is published when a sync job finishes successfully,
// including the zero-count case. Repository carries the refreshed row with
// its ordered commit list when the re-read succeeded.
type CommitJobCompleted struct {
	RepositoryID uuid.UUID         `json:"repositoryId"`
	UserID       uuid.UUID         `json:"userId"`
	RepoFullName string            `json:"repoFullName"`
	Count        int               `json:"count"`
	Repository   *model.Repository `json:"repository,omitempty"`
}

// CommitJobFailed is published exactly once per job, on the terminal failure.
type CommitJobFailed struct {
	RepositoryID uuid.UUID `json:"repositoryId"`
	UserID       uuid.UUID `json:"userId"`
	RepoFullName string    `json:"repoFullName"`
	Error        string    `json:"error"`
}
