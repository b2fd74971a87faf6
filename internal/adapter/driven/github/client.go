// Package github implements the codespace management and repository
// provisioning ports using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ManagementClient = (*Client)(nil)

// Client implements driven.ManagementClient. Every call carries the token of
// the owner whose codespace is being operated, so one Client serves all owners
// over a shared transport.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL // nil means the public API.
}

// NewClient creates a GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching, keyed per token via Vary)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (REST API client, authenticated per call)
func NewClient() *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	return &Client{httpClient: github_ratelimit.NewClient(cacheTransport)}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return &Client{httpClient: httpClient, baseURL: u}, nil
}

// forToken returns a go-github client authenticated as token.
func (c *Client) forToken(token string) *gh.Client {
	client := gh.NewClient(c.httpClient).WithAuthToken(token)
	if c.baseURL != nil {
		client.BaseURL = c.baseURL
	}
	return client
}

// Start requests that the codespace boot. A codespace that is already running
// yields an error wrapping driven.ErrAlreadyRunning.
func (c *Client) Start(ctx context.Context, token, name string) error {
	_, resp, err := c.forToken(token).Codespaces.Start(ctx, name)
	logRateLimit(resp, "codespaces.start")
	if err != nil {
		if isAccepted(err) {
			return nil
		}
		if isAlreadyRunning(err) {
			return fmt.Errorf("starting codespace %s: %w", name, driven.ErrAlreadyRunning)
		}
		return fmt.Errorf("starting codespace %s: %w", name, apiError(err))
	}
	return nil
}

// Stop requests that the codespace shut down.
func (c *Client) Stop(ctx context.Context, token, name string) error {
	_, resp, err := c.forToken(token).Codespaces.Stop(ctx, name)
	logRateLimit(resp, "codespaces.stop")
	if err != nil && !isAccepted(err) {
		return fmt.Errorf("stopping codespace %s: %w", name, apiError(err))
	}
	return nil
}

// Describe fetches the current state of one codespace. The request bypasses
// cached entries so a state change is never masked by a fresh-looking copy.
func (c *Client) Describe(ctx context.Context, token, name string) (*model.Resource, error) {
	client := c.forToken(token)

	req, err := client.NewRequest(http.MethodGet, "user/codespaces/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, fmt.Errorf("building describe request for %s: %w", name, err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	var cs gh.Codespace
	resp, err := client.Do(ctx, req, &cs)
	logRateLimit(resp, "codespaces.get")
	if err != nil {
		return nil, fmt.Errorf("describing codespace %s: %w", name, apiError(err))
	}

	r := mapCodespace(&cs)
	return &r, nil
}

// List returns every codespace the token's user can see, following pagination.
func (c *Client) List(ctx context.Context, token string) ([]model.Resource, error) {
	client := c.forToken(token)
	opts := &gh.ListCodespacesOptions{ListOptions: gh.ListOptions{PerPage: 100}}

	resources := []model.Resource{}
	for {
		page, resp, err := client.Codespaces.List(ctx, opts)
		logRateLimit(resp, "codespaces.list")
		if err != nil {
			return nil, fmt.Errorf("listing codespaces (page %d): %w", opts.Page, apiError(err))
		}

		for _, cs := range page.Codespaces {
			resources = append(resources, mapCodespace(cs))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return resources, nil
}

// ValidateToken verifies that the personal access token is accepted and
// returns the login it authenticates as.
func (c *Client) ValidateToken(ctx context.Context, token string) (string, error) {
	user, resp, err := c.forToken(token).Users.Get(ctx, "")
	logRateLimit(resp, "users.get")
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", apiError(err))
	}
	return user.GetLogin(), nil
}

// logRateLimit logs rate limit information from a GitHub API response.
// It warns when the remaining request budget drops below 100.
func logRateLimit(resp *gh.Response, endpoint string) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// mapCodespace converts a go-github Codespace to a domain Resource.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func mapCodespace(cs *gh.Codespace) model.Resource {
	raw := cs.GetState()
	return model.Resource{
		Name:         cs.GetName(),
		State:        model.ParseResourceState(raw),
		RawState:     raw,
		WebURL:       cs.GetWebURL(),
		RepoFullName: cs.GetRepository().GetFullName(),
		LastUsedAt:   cs.GetLastUsedAt().Time,
	}
}

// isAccepted reports whether err is go-github's signal for a 202 response,
// which the management API uses for queued transitions.
func isAccepted(err error) bool {
	var accepted *gh.AcceptedError
	return errors.As(err, &accepted)
}

func isAlreadyRunning(err error) bool {
	var ghErr *gh.ErrorResponse
	if !errors.As(err, &ghErr) {
		return false
	}
	if ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusConflict {
		return true
	}
	msg := strings.ToLower(ghErr.Message)
	return strings.Contains(msg, "already") || strings.Contains(msg, "is running")
}

// apiError shortens a go-github error to "status N: message" while keeping it
// unwrappable.
func apiError(err error) error {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		msg := ghErr.Message
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return fmt.Errorf("status %d: %s: %w", ghErr.Response.StatusCode, msg, err)
	}
	return err
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
