// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/joeltafilaj/web-app/internal/errs"
	"github.com/joeltafilaj/web-app/internal/model"
)

const perPage = 100 // Max per page

// Client wraps the go-github client. Tokens are per-user, so the underlying
// API client is built per call from the delegated access token.
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string // overridden in tests
	logger       *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL points the client at a different API root, e.g. a GitHub
// Enterprise instance or a test server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// NewClient creates and configures a new Client instance. The OAuth app
// credentials are only used for token revocation.
func NewClient(clientID, clientSecret string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListStarred fetches the user's starred repositories and translates them to
// our internal model. Pagination is handled transparently.
func (c *Client) ListStarred(ctx context.Context, token string) ([]model.Repository, error) {
	gh, err := c.forToken(ctx, token)
	if err != nil {
		return nil, err
	}

	opts := &github.ActivityListStarredOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var all []model.Repository
	for {
		c.logger.Debug("Fetching starred page", "page", opts.Page)

		starred, resp, err := gh.Activity.ListStarred(ctx, "", opts)
		if err != nil {
			return nil, err
		}
		for _, s := range starred {
			all = append(all, toInternalRepository(s.GetRepository()))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListCommits fetches commits for a repository, optionally restricted to those
// authored after since. Upstream order is preserved. A 409 response (the
// repository has no commits at all) is mapped to errs.ErrEmptyRepository.
func (c *Client) ListCommits(ctx context.Context, token, fullName string, since *time.Time) ([]model.Commit, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}
	gh, err := c.forToken(ctx, token)
	if err != nil {
		return nil, err
	}

	opts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	if since != nil {
		opts.Since = *since
	}

	var all []model.Commit
	for {
		c.logger.Debug("Fetching commits page", "repo", fullName, "page", opts.Page)

		commits, resp, err := gh.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			if isConflict(err) {
				return nil, errs.ErrEmptyRepository
			}
			return nil, err
		}
		for _, commit := range commits {
			all = append(all, toInternalCommit(commit))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// ListLanguages fetches the per-language byte counts for a repository.
func (c *Client) ListLanguages(ctx context.Context, token, fullName string) (map[string]int, error) {
	owner, name, err := splitFullName(fullName)
	if err != nil {
		return nil, err
	}
	gh, err := c.forToken(ctx, token)
	if err != nil {
		return nil, err
	}
	languages, _, err := gh.Repositories.ListLanguages(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	return languages, nil
}

// RevokeToken invalidates a delegated access token with the OAuth application
// API, which authenticates with the app's client ID and secret.
func (c *Client) RevokeToken(ctx context.Context, token string) error {
	tp := &github.BasicAuthTransport{Username: c.clientID, Password: c.clientSecret}
	gh, err := c.newClient(tp.Client())
	if err != nil {
		return err
	}
	_, err = gh.Authorizations.Revoke(ctx, c.clientID, token)
	return err
}

// forToken builds an API client authenticated as the user.
func (c *Client) forToken(ctx context.Context, token string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return c.newClient(oauth2.NewClient(ctx, ts))
}

func (c *Client) newClient(hc *http.Client) (*github.Client, error) {
	gh := github.NewClient(hc)
	if c.baseURL != "" {
		return gh.WithEnterpriseURLs(c.baseURL, c.baseURL)
	}
	return gh, nil
}

func isConflict(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) &&
		ghErr.Response != nil &&
		ghErr.Response.StatusCode == http.StatusConflict
}

func splitFullName(fullName string) (owner, name string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository name: %q, expected 'owner/name'", fullName)
	}
	return parts[0], parts[1], nil
}

// toInternalRepository translates a github.Repository object to our internal model.Repository.
func toInternalRepository(r *github.Repository) model.Repository {
	return model.Repository{
		GithubID:    fmt.Sprintf("%d", r.GetID()),
		Name:        r.GetName(),
		FullName:    r.GetFullName(),
		Description: r.Description,
		URL:         r.GetHTMLURL(),
		Starred:     true,
	}
}

// toInternalCommit translates a github.RepositoryCommit object to our internal model.Commit.
func toInternalCommit(c *github.RepositoryCommit) model.Commit {
	return model.Commit{
		SHA:     c.GetSHA(),
		Message: c.GetCommit().GetMessage(),
		Author:  c.GetCommit().GetAuthor().GetName(),
		Date:    c.GetCommit().GetAuthor().GetDate().Time,
	}
}
