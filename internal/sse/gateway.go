// Package sse is the live-update gateway: one long-lived server-sent-events
// stream per authenticated user, fed from the event bus and filtered so a
// connection only ever observes its own user's events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joeltafilaj/web-app/internal/events"
	"github.com/joeltafilaj/web-app/internal/model"
)

// DefaultKeepAliveInterval is how often a comment probe is written to defeat
// idle-timeout teardown by intermediaries.
const DefaultKeepAliveInterval = 30 * time.Second

// TokenVerifier authenticates the stream's credential once at connection open.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*model.User, error)
}

// Gateway serves the /events/stream endpoint.
type Gateway struct {
	bus       *events.Bus
	verifier  TokenVerifier
	logger    *slog.Logger
	keepAlive time.Duration
}

// NewGateway constructs a Gateway. A non-positive keepAlive falls back to the
// default 30s interval.
func NewGateway(bus *events.Bus, verifier TokenVerifier, logger *slog.Logger, keepAlive time.Duration) *Gateway {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAliveInterval
	}
	return &Gateway{bus: bus, verifier: verifier, logger: logger, keepAlive: keepAlive}
}

// Stream handles one SSE connection.
// EventSource cannot set headers, so the credential arrives as a query param.
func (g *Gateway) Stream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	user, err := g.verifier.VerifyToken(r.Context(), token)
	if err != nil {
		http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sub := g.bus.Subscribe(events.TopicCommitJobCompleted, events.TopicCommitJobFailed)
	defer sub.Close()

	keepAlive := time.NewTicker(g.keepAlive)
	defer keepAlive.Stop()

	logger := g.logger.With("user_id", user.ID)
	logger.Info("SSE client connected")
	defer logger.Info("SSE client disconnected")

	writeEvent(w, map[string]any{"type": "connected", "message": "SSE connected"})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case msg, open := <-sub.C():
			if !open {
				return
			}
			out, err := g.translate(user, msg)
			if err != nil {
				logger.Error("Failed to process event", "topic", msg.Topic, "error", err)
				continue
			}
			if out == nil {
				continue // another user's event
			}
			writeEvent(w, out)
			flusher.Flush()
		}
	}
}

// translate converts an internal bus payload into the outward message, or nil
// when the event does not belong to the connection's user.
func (g *Gateway) translate(user *model.User, msg events.Message) (any, error) {
	switch msg.Topic {
	case events.TopicCommitJobCompleted:
		var ev events.CommitJobCompleted
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return nil, err
		}
		if ev.UserID != user.ID {
			return nil, nil
		}
		return map[string]any{
			"type":         "commit-completed",
			"repositoryId": ev.RepositoryID,
			"repoFullName": ev.RepoFullName,
			"count":        ev.Count,
			"repository":   ev.Repository,
		}, nil
	case events.TopicCommitJobFailed:
		var ev events.CommitJobFailed
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return nil, err
		}
		if ev.UserID != user.ID {
			return nil, nil
		}
		return map[string]any{
			"type":         "commit-failed",
			"repositoryId": ev.RepositoryID,
			"repoFullName": ev.RepoFullName,
			"error":        ev.Error,
		}, nil
	}
	return nil, nil
}

func writeEvent(w http.ResponseWriter, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
}
