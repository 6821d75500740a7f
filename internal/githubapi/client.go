// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package githubapi wraps the outbound calls the pipeline and autofix
// engine make against the source-control host: opening pull requests,
// reading check-run and review state for the auto-merge gate, and
// resolving per-installation access tokens for git operations.
package githubapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v75/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/peerci/reviewbot/internal/autofix"
)

// AppCredentials identifies the GitHub App used to mint installation
// tokens (spec §4.2, §6 GITHUB_APP_ID / GITHUB_APP_PRIVATE_KEY_PATH).
type AppCredentials struct {
	AppID          int64
	PrivateKeyPath string
}

// Client is a per-installation GitHub REST+GraphQL client pair plus the
// installation transport used to mint git-over-HTTPS tokens for
// internal/workspace.
type Client struct {
	rest        *github.Client
	gql         *githubv4.Client
	transport   *ghinstallation.Transport
	installation int64
}

// NewClient builds a Client scoped to a single installation. One Client is
// constructed per webhook delivery / worker job; installation tokens are
// cached and refreshed internally by ghinstallation.
func NewClient(creds AppCredentials, installationID int64) (*Client, error) {
	transport, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, creds.AppID, installationID, creds.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("building installation transport: %w", err)
	}
	httpClient := &http.Client{Transport: transport}
	return &Client{
		rest:         github.NewClient(httpClient),
		gql:          githubv4.NewClient(httpClient),
		transport:    transport,
		installation: installationID,
	}, nil
}

// TokenSource adapts the installation transport to oauth2.TokenSource for
// internal/workspace's git clone/push auth.
func (c *Client) TokenSource() oauth2.TokenSource {
	return installationTokenSource{transport: c.transport}
}

type installationTokenSource struct {
	transport *ghinstallation.Transport
}

func (s installationTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.transport.Token(context.Background())
	if err != nil {
		return nil, fmt.Errorf("minting installation token: %w", err)
	}
	return &oauth2.Token{AccessToken: tok}, nil
}

// DefaultBranch implements autofix.PRHost.
func (c *Client) DefaultBranch(ctx context.Context, repo string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	r, _, err := c.rest.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", fmt.Errorf("getting repository %s: %w", repo, err)
	}
	return r.GetDefaultBranch(), nil
}

// CreatePullRequest implements autofix.PRHost.
func (c *Client) CreatePullRequest(ctx context.Context, repo, head, base, title, body string) (int, string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, "", err
	}
	pr, _, err := c.rest.PullRequests.Create(ctx, owner, name, &github.NewPullRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
		Head:  github.Ptr(head),
		Base:  github.Ptr(base),
	})
	if err != nil {
		return 0, "", fmt.Errorf("creating pull request on %s: %w", repo, err)
	}
	return pr.GetNumber(), pr.GetHTMLURL(), nil
}

// ExistingFixPR implements autofix.PRHost, locating the open autofix PR
// previously opened for originPRNumber by its deterministic title (spec §3
// skip:<identity> convention). Open PRs are listed rather than searched by
// branch name since the autofix branch carries a timestamp suffix that
// changes on every run.
func (c *Client) ExistingFixPR(ctx context.Context, repo string, originPRNumber int) (number int, url, headBranch string, labels []string, err error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return 0, "", "", nil, err
	}
	wantTitle := fmt.Sprintf("peer: autofix for #%d", originPRNumber)

	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := c.rest.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return 0, "", "", nil, fmt.Errorf("listing pull requests on %s: %w", repo, err)
		}
		for _, pr := range prs {
			if pr.GetTitle() != wantTitle {
				continue
			}
			names := make([]string, 0, len(pr.Labels))
			for _, l := range pr.Labels {
				names = append(names, l.GetName())
			}
			return pr.GetNumber(), pr.GetHTMLURL(), pr.GetHead().GetRef(), names, nil
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return 0, "", "", nil, nil
}

// Mergeable implements autofix.MergeGateHost.
func (c *Client) Mergeable(ctx context.Context, repo string, prNumber int) (*bool, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	pr, _, err := c.rest.PullRequests.Get(ctx, owner, name, prNumber)
	if err != nil {
		return nil, fmt.Errorf("getting pull request #%d on %s: %w", prNumber, repo, err)
	}
	return pr.Mergeable, nil
}

// checkRunsQuery fetches every status-check context on a commit's rollup
// in one request; a commit's checks rarely exceed a page, so this query is
// unpaginated (spec §3 "a single paginated GraphQL query" covers the
// reviews side, which can run long on heavily reviewed PRs).
type checkRunsQuery struct {
	Repository struct {
		Object struct {
			Commit struct {
				StatusCheckRollup struct {
					Contexts struct {
						Nodes []struct {
							CheckRun struct {
								Name       githubv4.String
								Conclusion githubv4.String
								Status     githubv4.String
							} `graphql:"... on CheckRun"`
							StatusContext struct {
								Context githubv4.String
								State   githubv4.String
							} `graphql:"... on StatusContext"`
						}
					} `graphql:"contexts(first: 100)"`
				}
			} `graphql:"... on Commit"`
		} `graphql:"object(oid: $sha)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// CheckRuns implements autofix.MergeGateHost via a single GraphQL query
// against the commit's status-check rollup, rather than the REST
// check-runs and statuses endpoints separately (spec §3).
func (c *Client) CheckRuns(ctx context.Context, repo, headSHA string) ([]autofix.CheckRun, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	var q checkRunsQuery
	vars := map[string]any{
		"owner": githubv4.String(owner),
		"name":  githubv4.String(name),
		"sha":   githubv4.GitObjectID(headSHA),
	}
	if err := c.gql.Query(ctx, &q, vars); err != nil {
		return nil, fmt.Errorf("querying check runs for %s@%s: %w", repo, headSHA, err)
	}

	nodes := q.Repository.Object.Commit.StatusCheckRollup.Contexts.Nodes
	runs := make([]autofix.CheckRun, 0, len(nodes))
	for _, n := range nodes {
		if n.CheckRun.Name != "" {
			runs = append(runs, autofix.CheckRun{
				Name:       string(n.CheckRun.Name),
				Completed:  n.CheckRun.Status == "COMPLETED",
				Conclusion: string(n.CheckRun.Conclusion),
			})
			continue
		}
		runs = append(runs, autofix.CheckRun{
			Name:       string(n.StatusContext.Context),
			Completed:  n.StatusContext.State != "PENDING",
			Conclusion: string(n.StatusContext.State),
		})
	}
	return runs, nil
}

// reviewsQuery paginates a PR's reviews, since a long-lived PR can
// accumulate far more than one page of review history (spec §3).
type reviewsQuery struct {
	Repository struct {
		PullRequest struct {
			Reviews struct {
				Nodes []struct {
					State githubv4.String
				}
				PageInfo struct {
					HasNextPage githubv4.Boolean
					EndCursor   githubv4.String
				}
			} `graphql:"reviews(first: 100, after: $cursor)"`
		} `graphql:"pullRequest(number: $number)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// Reviews implements autofix.MergeGateHost, paginating through every
// review on the PR via GraphQL cursors instead of N REST pages.
func (c *Client) Reviews(ctx context.Context, repo string, prNumber int) ([]autofix.Review, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var reviews []autofix.Review
	var cursor *githubv4.String
	for {
		var q reviewsQuery
		vars := map[string]any{
			"owner":  githubv4.String(owner),
			"name":   githubv4.String(name),
			"number": githubv4.Int(prNumber),
			"cursor": cursor,
		}
		if err := c.gql.Query(ctx, &q, vars); err != nil {
			return nil, fmt.Errorf("querying reviews for #%d on %s: %w", prNumber, repo, err)
		}
		for _, n := range q.Repository.PullRequest.Reviews.Nodes {
			reviews = append(reviews, autofix.Review{State: string(n.State)})
		}
		if !bool(q.Repository.PullRequest.Reviews.PageInfo.HasNextPage) {
			break
		}
		endCursor := q.Repository.PullRequest.Reviews.PageInfo.EndCursor
		cursor = &endCursor
	}
	return reviews, nil
}

// Merge implements autofix.MergeGateHost.
func (c *Client) Merge(ctx context.Context, repo string, prNumber int, method string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	result, _, err := c.rest.PullRequests.Merge(ctx, owner, name, prNumber, "", &github.PullRequestOptions{
		MergeMethod: method,
	})
	if err != nil {
		return "", fmt.Errorf("merging #%d on %s: %w", prNumber, repo, err)
	}
	return result.GetSHA(), nil
}

func splitRepo(repo string) (owner, name string, err error) {
	for i := 0; i < len(repo); i++ {
		if repo[i] == '/' {
			return repo[:i], repo[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("repo %q must be in owner/name form", repo)
}
