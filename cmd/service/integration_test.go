//go:build integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/joeltafilaj/web-app/internal/events"
	"github.com/joeltafilaj/web-app/internal/github"
	"github.com/joeltafilaj/web-app/internal/model"
	"github.com/joeltafilaj/web-app/internal/queue"
	"github.com/joeltafilaj/web-app/internal/store"
	"github.com/joeltafilaj/web-app/internal/worker"
)

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("webapp_test"),
		tcpostgres.WithUsername("webapp"),
		tcpostgres.WithPassword("webapp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// upstreamGithub is a scripted stand-in for the GitHub API. The first commits
// request returns history; subsequent requests honor the since filter and
// return nothing newer.
type upstreamGithub struct {
	mu           sync.Mutex
	commitCalls  int
	sinceOnCall2 string
}

func (u *upstreamGithub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/commits"):
			u.mu.Lock()
			u.commitCalls++
			call := u.commitCalls
			if call == 2 {
				u.sinceOnCall2 = r.URL.Query().Get("since")
			}
			u.mu.Unlock()

			if call == 1 {
				fmt.Fprintln(w, `[
					{"sha": "a1", "commit": {"author": {"name": "octocat", "date": "2024-01-01T12:00:00Z"}, "message": "first"}},
					{"sha": "a2", "commit": {"author": {"name": "octocat", "date": "2024-01-02T12:00:00Z"}, "message": "second"}}
				]`)
				return
			}
			fmt.Fprintln(w, `[]`)
		case strings.HasSuffix(r.URL.Path, "/languages"):
			fmt.Fprintln(w, `{"Go": 12345}`)
		default:
			http.NotFound(w, r)
		}
	})
}

func waitForCompleted(t *testing.T, sub *events.Subscription) events.CommitJobCompleted {
	t.Helper()
	select {
	case msg := <-sub.C():
		require.Equal(t, events.TopicCommitJobCompleted, msg.Topic)
		var payload events.CommitJobCompleted
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		return payload
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for a completed event")
		return events.CommitJobCompleted{}
	}
}

// TestCommitSyncPipeline drives the full path: enqueue a job, let the worker
// pool claim it, fetch and merge commits from the scripted upstream, and
// observe the outcome event. A second run for the same repository must resume
// from the stored cursor and merge nothing.
func TestCommitSyncPipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	dsn := startPostgres(t, ctx)

	m, err := migrate.New("file://../../migrations", dsn)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	db, err := store.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	// Seed the user and the mirrored repository the job refers to.
	var userID uuid.UUID
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO users (github_id, username, access_token)
		VALUES ('583231', 'octocat', 'gho_test')
		RETURNING id`).Scan(&userID)
	require.NoError(t, err)

	var repoID uuid.UUID
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO repositories (user_id, github_id, name, full_name, url, starred)
		VALUES ($1, '101', 'hello-world', 'octocat/hello-world', 'https://github.com/octocat/hello-world', true)
		RETURNING id`, userID).Scan(&repoID)
	require.NoError(t, err)

	upstream := &upstreamGithub{}
	ghServer := httptest.NewServer(upstream.handler())
	t.Cleanup(ghServer.Close)
	ghClient := github.NewClient("client-id", "client-secret", logger, github.WithBaseURL(ghServer.URL))

	bus := events.NewBus(logger)
	sub := bus.Subscribe(events.TopicCommitJobCompleted)
	t.Cleanup(sub.Close)

	jobs := queue.New(db.Pool, queue.Options{
		Lease:        time.Minute,
		PollInterval: 50 * time.Millisecond,
	}, logger)

	users := store.NewUsers(db)
	repos := store.NewRepositories(db)
	commits := store.NewCommits(db)
	syncWorker := worker.New(users, repos, commits, ghClient, bus, logger)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go func() {
		_ = jobs.Consume(consumerCtx, syncWorker.Consumer(2))
	}()

	job := model.SyncJob{RepositoryID: repoID, UserID: userID, RepoFullName: "octocat/hello-world"}

	// First run merges the full history.
	created, err := jobs.Enqueue(ctx, job.Key(), job)
	require.NoError(t, err)
	require.True(t, created)

	first := waitForCompleted(t, sub)
	assert.Equal(t, repoID, first.RepositoryID)
	assert.Equal(t, userID, first.UserID)
	assert.Equal(t, 2, first.Count)
	require.NotNil(t, first.Repository)
	assert.Len(t, first.Repository.Commits, 2)
	assert.Equal(t, map[string]int{"Go": 12345}, first.Repository.Languages)

	stored, err := commits.ListCommitsByRepository(ctx, repoID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "a2", stored[0].SHA, "newest first")

	// Second run resumes from the stored cursor and finds nothing new.
	created, err = jobs.Enqueue(ctx, job.Key(), job)
	require.NoError(t, err)
	require.True(t, created, "the first job is gone, the key is free again")

	second := waitForCompleted(t, sub)
	assert.Equal(t, 0, second.Count)

	upstream.mu.Lock()
	since := upstream.sinceOnCall2
	upstream.mu.Unlock()
	assert.NotEmpty(t, since, "resumed fetch must carry the cursor")

	// The queue drained both entries.
	stats, err := jobs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}
