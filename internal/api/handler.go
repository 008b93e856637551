// internal/api/handler.go
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joeltafilaj/web-app/internal/auth"
	"github.com/joeltafilaj/web-app/internal/errs"
	"github.com/joeltafilaj/web-app/internal/model"
	"github.com/joeltafilaj/web-app/internal/queue"
	"github.com/joeltafilaj/web-app/internal/sse"
	"github.com/joeltafilaj/web-app/internal/store"
)

// Number of repositories to upsert-and-enqueue in parallel on a starred sync.
const starredSyncConcurrency = 5

// GithubClient is the slice of the GitHub API the handlers consume.
type GithubClient interface {
	ListStarred(ctx context.Context, token string) ([]model.Repository, error)
	RevokeToken(ctx context.Context, token string) error
}

// JobQueue is the queue surface exposed to the API.
type JobQueue interface {
	Enqueue(ctx context.Context, key string, payload any) (bool, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	users  store.UserStore
	repos  store.RepositoryStore
	gh     GithubClient
	queue  JobQueue
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(users store.UserStore, repos store.RepositoryStore, gh GithubClient, jobs JobQueue, verifier *auth.Verifier, gateway *sse.Gateway, logger *slog.Logger) http.Handler {
	h := &Handler{
		users:  users,
		repos:  repos,
		gh:     gh,
		queue:  jobs,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)

	// API Routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// The SSE stream authenticates via query param and must outlive the
		// request timeout, so it sits outside the authenticated group.
		r.Get("/events/stream", gateway.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(verifier.Middleware)

			r.Get("/auth/status", h.authStatus)
			r.Post("/auth/logout", h.logout)
			r.Get("/user/profile", h.userProfile)
			r.Get("/repositories", h.listRepositories)
			r.Get("/repositories/starred", h.syncStarred)
			r.Get("/repositories/{id}/commits", h.getCommits)
			r.Get("/jobs/stats", h.queueStats)
		})
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// syncStarred refreshes the user's starred repositories and queues one
// commit-sync job per repository.
// GET /api/repositories/starred
func (h *Handler) syncStarred(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	starred, err := h.gh.ListStarred(r.Context(), user.AccessToken)
	if err != nil {
		h.logger.Error("Failed to fetch starred repositories", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusBadGateway, "Failed to fetch starred repositories")
		return
	}

	repositories := make([]model.Repository, len(starred))
	var jobCount atomic.Int64

	g, gctx := errgroup.WithContext(r.Context())
	g.SetLimit(starredSyncConcurrency)

	for i := range starred {
		g.Go(func() error {
			upstream := starred[i]
			upstream.UserID = user.ID
			repo, err := h.repos.UpsertRepository(gctx, &upstream)
			if err != nil {
				return err
			}
			repositories[i] = *repo

			job := model.SyncJob{RepositoryID: repo.ID, UserID: user.ID, RepoFullName: repo.FullName}
			if _, err := h.queue.Enqueue(gctx, job.Key(), job); err != nil {
				return err
			}
			jobCount.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.logger.Error("Failed to sync starred repositories", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to sync starred repositories")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"repositories": repositories,
		"jobCount":     jobCount.Load(),
	})
}

// listRepositories returns the user's mirrored repositories.
// GET /api/repositories
func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	repos, err := h.repos.ListRepositoriesByUser(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("Failed to list repositories", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if repos == nil {
		repos = []model.Repository{}
	}
	respondWithJSON(w, http.StatusOK, repos)
}

// getCommits returns the stored commits for one of the user's repositories.
// GET /api/repositories/{id}/commits
func (h *Handler) getCommits(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid repository id")
		return
	}

	repo, err := h.repos.GetRepositoryWithCommits(r.Context(), id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return
		}
		h.logger.Error("Failed to get repository", "repository_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if repo.UserID != user.ID {
		// Do not leak other users' repository ids.
		respondWithError(w, http.StatusNotFound, "Repository not found")
		return
	}
	respondWithJSON(w, http.StatusOK, repo)
}

// userProfile returns the authenticated user's profile.
// GET /api/user/profile
func (h *Handler) userProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	respondWithJSON(w, http.StatusOK, user.Profile())
}

// authStatus reports whether the session credential is valid.
// GET /api/auth/status
func (h *Handler) authStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          user.Profile(),
	})
}

// logout revokes the delegated GitHub token and clears it on the user row.
// The user row itself is kept.
// POST /api/auth/logout
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if user.AccessToken != "" {
		if err := h.gh.RevokeToken(r.Context(), user.AccessToken); err != nil {
			// Best-effort: the token is cleared locally either way.
			h.logger.Warn("Failed to revoke GitHub token", "user_id", user.ID, "error", err)
		}
	}
	if err := h.users.ClearAccessToken(r.Context(), user.ID); err != nil {
		h.logger.Error("Failed to clear access token", "user_id", user.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// queueStats exposes the job queue counters.
// GET /api/jobs/stats
func (h *Handler) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.Error("Failed to get queue stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}
