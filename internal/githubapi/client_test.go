// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v75/github"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRESTClient wires a Client whose REST calls hit a local httptest
// server instead of api.github.com, mirroring go-github's own
// BaseURL-override test pattern.
func newTestRESTClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)

	rest := github.NewClient(srv.Client())
	rest.BaseURL = base
	return &Client{rest: rest}, srv
}

func newTestGraphQLClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{gql: githubv4.NewEnterpriseClient(srv.URL+"/graphql", srv.Client())}
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := splitRepo("acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", name)

	_, _, err = splitRepo("not-a-repo-slug")
	assert.Error(t, err)
}

func TestClient_DefaultBranch(t *testing.T) {
	c, _ := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"default_branch": "main"})
	})

	branch, err := c.DefaultBranch(context.Background(), "acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestClient_CreatePullRequest(t *testing.T) {
	c, _ := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/widgets/pulls", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"number": 9, "html_url": "https://example.com/pr/9"})
	})

	number, htmlURL, err := c.CreatePullRequest(context.Background(), "acme/widgets", "peer/autofix/run-1", "main", "title", "body")
	require.NoError(t, err)
	assert.Equal(t, 9, number)
	assert.Equal(t, "https://example.com/pr/9", htmlURL)
}

func TestClient_ExistingFixPR_MatchesByTitle(t *testing.T) {
	c, _ := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/pulls", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			{"number": 1, "title": "unrelated PR"},
			{
				"number":   9,
				"title":    "peer: autofix for #42",
				"html_url": "https://example.com/pr/9",
				"head":     map[string]any{"ref": "peer/autofix/run1-1699999999"},
				"labels":   []map[string]any{{"name": "skip:peer-autofix"}},
			},
		})
	})

	number, url, branch, labels, err := c.ExistingFixPR(context.Background(), "acme/widgets", 42)
	require.NoError(t, err)
	assert.Equal(t, 9, number)
	assert.Equal(t, "https://example.com/pr/9", url)
	assert.Equal(t, "peer/autofix/run1-1699999999", branch)
	assert.Equal(t, []string{"skip:peer-autofix"}, labels)
}

func TestClient_ExistingFixPR_NoneFound(t *testing.T) {
	c, _ := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{{"number": 1, "title": "unrelated PR"}})
	})

	number, _, _, labels, err := c.ExistingFixPR(context.Background(), "acme/widgets", 42)
	require.NoError(t, err)
	assert.Zero(t, number)
	assert.Empty(t, labels)
}

func TestClient_Mergeable(t *testing.T) {
	c, _ := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/pulls/7", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"number": 7, "mergeable": true})
	})

	mergeable, err := c.Mergeable(context.Background(), "acme/widgets", 7)
	require.NoError(t, err)
	require.NotNil(t, mergeable)
	assert.True(t, *mergeable)
}

func TestClient_Merge(t *testing.T) {
	c, _ := newTestRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/repos/acme/widgets/pulls/7/merge", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"merged": true, "sha": "merged-sha"})
	})

	sha, err := c.Merge(context.Background(), "acme/widgets", 7, "squash")
	require.NoError(t, err)
	assert.Equal(t, "merged-sha", sha)
}

func TestClient_CheckRuns_SplitsCheckRunsAndStatusContexts(t *testing.T) {
	body := `{"data":{"repository":{"object":{"statusCheckRollup":{"contexts":{"nodes":[
		{"__typename":"CheckRun","name":"build","conclusion":"SUCCESS","status":"COMPLETED"},
		{"__typename":"StatusContext","context":"ci/legacy","state":"PENDING"}
	]}}}}}}`
	c := newTestGraphQLClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	})

	runs, err := c.CheckRuns(context.Background(), "acme/widgets", "deadbeef")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "build", runs[0].Name)
	assert.True(t, runs[0].Completed)
	assert.Equal(t, "SUCCESS", runs[0].Conclusion)
	assert.Equal(t, "ci/legacy", runs[1].Name)
	assert.False(t, runs[1].Completed)
}

func TestClient_Reviews_Paginates(t *testing.T) {
	calls := 0
	c := newTestGraphQLClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			fmt.Fprint(w, `{"data":{"repository":{"pullRequest":{"reviews":{
				"nodes":[{"state":"APPROVED"}],
				"pageInfo":{"hasNextPage":true,"endCursor":"abc"}
			}}}}}`)
			return
		}
		fmt.Fprint(w, `{"data":{"repository":{"pullRequest":{"reviews":{
			"nodes":[{"state":"CHANGES_REQUESTED"}],
			"pageInfo":{"hasNextPage":false,"endCursor":""}
		}}}}}`)
	})

	reviews, err := c.Reviews(context.Background(), "acme/widgets", 7)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "APPROVED", reviews[0].State)
	assert.Equal(t, "CHANGES_REQUESTED", reviews[1].State)
	assert.Equal(t, 2, calls)
}
