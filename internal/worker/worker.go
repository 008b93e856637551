// internal/worker/worker.go
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joeltafilaj/web-app/internal/errs"
	"github.com/joeltafilaj/web-app/internal/events"
	"github.com/joeltafilaj/web-app/internal/model"
	"github.com/joeltafilaj/web-app/internal/queue"
	"github.com/joeltafilaj/web-app/internal/store"
)

// GithubClient is the slice of the GitHub API the worker consumes.
type GithubClient interface {
	ListCommits(ctx context.Context, token, fullName string, since *time.Time) ([]model.Commit, error)
	ListLanguages(ctx context.Context, token, fullName string) (map[string]int, error)
}

// Worker executes commit-sync jobs: incremental fetch against GitHub, merge
// into the store, and outcome publication on the event bus.
type Worker struct {
	users   store.UserStore
	repos   store.RepositoryStore
	commits store.CommitStore
	gh      GithubClient
	bus     *events.Bus
	logger  *slog.Logger
}

// New constructs a Worker with its injected collaborators.
func New(users store.UserStore, repos store.RepositoryStore, commits store.CommitStore, gh GithubClient, bus *events.Bus, logger *slog.Logger) *Worker {
	return &Worker{
		users:   users,
		repos:   repos,
		commits: commits,
		gh:      gh,
		bus:     bus,
		logger:  logger,
	}
}

// Result is the outcome of one successful sync run.
type Result struct {
	Job        model.SyncJob
	Count      int
	Repository *model.Repository
}

// Consumer wires the worker into the queue: the handler plus the hooks that
// publish job outcomes.
func (w *Worker) Consumer(concurrency int) queue.Consumer {
	return queue.Consumer{
		Handler:     w.Handle,
		OnCompleted: w.publishCompleted,
		OnFailed:    w.publishFailed,
		Concurrency: concurrency,
	}
}

// Handle decodes and runs one queued job.
func (w *Worker) Handle(ctx context.Context, job queue.Job) (any, error) {
	var sj model.SyncJob
	if err := json.Unmarshal(job.Payload, &sj); err != nil {
		// A payload that cannot be decoded will not decode on retry either.
		return nil, queue.Permanent(fmt.Errorf("decode job payload: %w", err))
	}
	return w.Sync(ctx, sj)
}

// Sync performs one incremental fetch-and-merge run for a repository.
//
// The cursor is the most recent stored commit date; no separate checkpoint is
// kept. Merging upserts by (repository, sha), so redelivered jobs and
// overlapping fetch windows converge on the same final state.
func (w *Worker) Sync(ctx context.Context, job model.SyncJob) (*Result, error) {
	logger := w.logger.With("repo", job.RepoFullName, "repository_id", job.RepositoryID, "user_id", job.UserID)
	logger.Info("Syncing repository commits")

	user, err := w.users.GetUserByID(ctx, job.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			return nil, queue.Permanent(err)
		}
		return nil, err
	}

	since, err := w.cursor(ctx, job.RepositoryID)
	if err != nil {
		return nil, err
	}
	if since != nil {
		logger.Info("Fetching commits since", "timestamp", since.Format(time.RFC3339))
	} else {
		logger.Info("No stored commits, fetching full history")
	}

	fetched, err := w.gh.ListCommits(ctx, user.AccessToken, job.RepoFullName, since)
	switch {
	case errors.Is(err, errs.ErrEmptyRepository):
		// A repository with no commits at all is a zero-count success, not an
		// error.
		logger.Info("Repository is empty upstream")
		fetched = nil
	case err != nil:
		return nil, err
	}

	// Merge in upstream order.
	for i := range fetched {
		c := fetched[i]
		c.RepositoryID = job.RepositoryID
		if _, err := w.commits.UpsertCommit(ctx, &c); err != nil {
			return nil, fmt.Errorf("store commit %s: %w", c.SHA, err)
		}
	}
	if len(fetched) > 0 {
		logger.Info("Merged commits", "count", len(fetched))
	}

	w.refreshLanguages(ctx, user.AccessToken, job, logger)

	res := &Result{Job: job, Count: len(fetched)}
	repo, err := w.repos.GetRepositoryWithCommits(ctx, job.RepositoryID)
	if err != nil {
		// The merge already succeeded; the event just goes out without the
		// refreshed repository.
		logger.Warn("Failed to re-read repository after sync", "error", err)
	} else {
		res.Repository = repo
	}
	return res, nil
}

// cursor returns the "since" filter for the next fetch, or nil for a full
// history fetch when no commits are stored yet.
func (w *Worker) cursor(ctx context.Context, repoID uuid.UUID) (*time.Time, error) {
	latest, ok, err := w.commits.LatestCommitDate(ctx, repoID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &latest, nil
}

// refreshLanguages stores the language byte counts. Language data is
// supplementary: failures are logged and swallowed, never failing the job.
func (w *Worker) refreshLanguages(ctx context.Context, token string, job model.SyncJob, logger *slog.Logger) {
	languages, err := w.gh.ListLanguages(ctx, token, job.RepoFullName)
	if err != nil {
		logger.Warn("Failed to fetch languages", "error", err)
		return
	}
	if err := w.repos.SetRepositoryLanguages(ctx, job.RepositoryID, languages); err != nil {
		logger.Warn("Failed to store languages", "error", err)
	}
}

func (w *Worker) publishCompleted(_ context.Context, job queue.Job, result any) {
	res, ok := result.(*Result)
	if !ok {
		w.logger.Error("Unexpected job result type", "job_key", job.Key)
		return
	}
	w.bus.Publish(events.TopicCommitJobCompleted, events.CommitJobCompleted{
		RepositoryID: res.Job.RepositoryID,
		UserID:       res.Job.UserID,
		RepoFullName: res.Job.RepoFullName,
		Count:        res.Count,
		Repository:   res.Repository,
	})
}

func (w *Worker) publishFailed(_ context.Context, job queue.Job, cause error) {
	var sj model.SyncJob
	if err := json.Unmarshal(job.Payload, &sj); err != nil {
		w.logger.Error("Failed to decode payload of failed job", "job_key", job.Key, "error", err)
		return
	}
	w.bus.Publish(events.TopicCommitJobFailed, events.CommitJobFailed{
		RepositoryID: sj.RepositoryID,
		UserID:       sj.UserID,
		RepoFullName: sj.RepoFullName,
		Error:        cause.Error(),
	})
}
