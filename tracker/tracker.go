// Package tracker wraps the external issue tracker at the four verbs spec
// §6 requires: identify the repo, fetch an issue by number, list/create
// labels, and create an issue. Grounded directly on the teacher's
// ghclient/client.go — same delegation-to-go-github shape, same
// NewClient/NewClientWithGitHub split for test injection.
package tracker

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"
)

// Issue is the tracker-agnostic shape the rest of the engine consumes.
type Issue struct {
	Number int
	Title  string
	Body   string
	URL    string
	Labels []string
}

// Client is the subset of tracker operations the governance workflow needs.
type Client interface {
	// RepoIdentifier returns the "owner/repo" string the client targets.
	// Thread IDs do not include it (see node.State.ThreadID).
	RepoIdentifier() string

	// GetIssue fetches an issue's title and body by number.
	GetIssue(ctx context.Context, number int) (Issue, error)

	// ListLabels returns every label currently defined on the repo.
	ListLabels(ctx context.Context) ([]string, error)

	// EnsureLabel creates the label if it does not already exist.
	EnsureLabel(ctx context.Context, name, color, description string) error

	// CreateIssue files a new issue and returns it, number and URL populated.
	CreateIssue(ctx context.Context, title, body string, labels []string) (Issue, error)
}

type clientImpl struct {
	gh    *github.Client
	owner string
	repo  string
}

// NewClient creates a Client authenticated with the given PAT. Returns nil
// if token is empty, matching the teacher's ghclient.NewClient convention.
func NewClient(token, owner, repo string) Client {
	if token == "" {
		return nil
	}
	return &clientImpl{
		gh:    github.NewClient(nil).WithAuthToken(token),
		owner: owner,
		repo:  repo,
	}
}

// NewClientWithGitHub builds a Client from an existing *github.Client,
// for tests to inject a client pointing at an httptest server.
func NewClientWithGitHub(gh *github.Client, owner, repo string) Client {
	return &clientImpl{gh: gh, owner: owner, repo: repo}
}

func (c *clientImpl) RepoIdentifier() string {
	return fmt.Sprintf("%s/%s", c.owner, c.repo)
}

func (c *clientImpl) GetIssue(ctx context.Context, number int) (Issue, error) {
	iss, _, err := c.gh.Issues.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return Issue{}, fmt.Errorf("get issue %d: %w", number, err)
	}
	return toIssue(iss), nil
}

func (c *clientImpl) ListLabels(ctx context.Context) ([]string, error) {
	var names []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		labels, resp, err := c.gh.Issues.ListLabels(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list labels: %w", err)
		}
		for _, l := range labels {
			names = append(names, l.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

func (c *clientImpl) EnsureLabel(ctx context.Context, name, color, description string) error {
	_, resp, err := c.gh.Issues.GetLabel(ctx, c.owner, c.repo, name)
	if err == nil {
		return nil
	}
	if resp == nil || resp.StatusCode != 404 {
		return fmt.Errorf("check label %q: %w", name, err)
	}
	_, _, err = c.gh.Issues.CreateLabel(ctx, c.owner, c.repo, &github.Label{
		Name:        github.Ptr(name),
		Color:       github.Ptr(color),
		Description: github.Ptr(description),
	})
	if err != nil {
		return fmt.Errorf("create label %q: %w", name, err)
	}
	return nil
}

func (c *clientImpl) CreateIssue(ctx context.Context, title, body string, labels []string) (Issue, error) {
	iss, _, err := c.gh.Issues.Create(ctx, c.owner, c.repo, &github.IssueRequest{
		Title:  github.Ptr(title),
		Body:   github.Ptr(body),
		Labels: &labels,
	})
	if err != nil {
		return Issue{}, fmt.Errorf("create issue: %w", err)
	}
	return toIssue(iss), nil
}

func toIssue(iss *github.Issue) Issue {
	var labels []string
	for _, l := range iss.Labels {
		labels = append(labels, l.GetName())
	}
	return Issue{
		Number: iss.GetNumber(),
		Title:  iss.GetTitle(),
		Body:   iss.GetBody(),
		URL:    iss.GetHTMLURL(),
		Labels: labels,
	}
}
