// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package autofix_test

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/peerci/reviewbot/internal/autofix"
	"github.com/peerci/reviewbot/internal/model"
)

type staticTokenSource string

func (s staticTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: string(s)}, nil
}

type fakePRHost struct {
	defaultBranch string
	prNumber      int
	prURL         string
	createCalls   int

	existingNumber int
	existingURL    string
	existingBranch string
	existingLabels []string
}

func (h *fakePRHost) DefaultBranch(context.Context, string) (string, error) {
	return h.defaultBranch, nil
}

func (h *fakePRHost) CreatePullRequest(_ context.Context, _, _, _, _, _ string) (int, string, error) {
	h.createCalls++
	return h.prNumber, h.prURL, nil
}

func (h *fakePRHost) ExistingFixPR(context.Context, string, int) (int, string, string, []string, error) {
	return h.existingNumber, h.existingURL, h.existingBranch, h.existingLabels, nil
}

func initApplyTestRepo(t *testing.T) (dir, sha string) {
	t.Helper()
	dir = t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "client.go"), []byte("const url = \"http://example.com\"\n"), 0o644))
	_, err = wt.Add("client.go")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	require.NoError(t, repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("master"))))
	return dir, hash.String()
}

func TestApply_WritesHunksCommitsPushesAndOpensPR(t *testing.T) {
	dir, sha := initApplyTestRepo(t)

	pr := model.PatchRequest{
		ID:       "pr1",
		RunID:    "run1",
		Repo:     "acme/widgets",
		PRNumber: 42,
		SHA:      sha,
		Preview: model.Preview{
			Files: []model.FilePreview{
				{
					File:         "client.go",
					Ready:        true,
					OriginalText: "const url = \"http://example.com\"\n",
					Hunks: []model.Hunk{
						{
							Line:             1,
							FindingID:        "f1",
							NewLine:          "const url = \"https://example.com\"",
							OriginalChecksum: sha1OfLine("const url = \"http://example.com\""),
						},
					},
				},
			},
		},
	}

	host := &fakePRHost{defaultBranch: "master", prNumber: 7, prURL: "https://example.com/pr/7"}
	now := func() time.Time { return time.Unix(1700000000, 0) }

	result, err := autofix.Apply(context.Background(), staticTokenSource(""), host, dir, pr, model.ModeCommit, now)

	require.NoError(t, err)
	assert.Equal(t, []string{"client.go"}, result.Applied)
	assert.NotEmpty(t, result.CommitSHA)
	assert.Equal(t, 7, result.FixPRNumber)
	assert.Equal(t, 1, host.createCalls)

	origin, err := git.PlainOpen(dir)
	require.NoError(t, err)
	ref, err := origin.Reference(plumbing.NewBranchReferenceName(result.BranchName), true)
	require.NoError(t, err)
	assert.Equal(t, result.CommitSHA, ref.Hash().String())
}

func TestApply_AnalyzeOnlyModeSkipsPR(t *testing.T) {
	dir, sha := initApplyTestRepo(t)

	pr := model.PatchRequest{
		ID: "pr1", RunID: "run1", Repo: "acme/widgets", PRNumber: 42, SHA: sha,
		Preview: model.Preview{
			Files: []model.FilePreview{
				{File: "client.go", Ready: true, AIRewritten: true, ImprovedText: "const url = \"https://example.com\"\n"},
			},
		},
	}

	host := &fakePRHost{}
	now := func() time.Time { return time.Unix(1700000000, 0) }

	result, err := autofix.Apply(context.Background(), staticTokenSource(""), host, dir, pr, model.ModeAnalyze, now)

	require.NoError(t, err)
	assert.Equal(t, []string{"client.go"}, result.Applied)
	assert.Zero(t, result.FixPRNumber)
	assert.Equal(t, 0, host.createCalls)
}

func TestApply_SkipLabelRefusesToOverwrite(t *testing.T) {
	dir, sha := initApplyTestRepo(t)

	pr := model.PatchRequest{
		ID: "pr1", RunID: "run1", Repo: "acme/widgets", PRNumber: 42, SHA: sha,
		Preview: model.Preview{
			Files: []model.FilePreview{
				{
					File:         "client.go",
					Ready:        true,
					OriginalText: "const url = \"http://example.com\"\n",
					Hunks: []model.Hunk{
						{Line: 1, FindingID: "f1", NewLine: "const url = \"https://example.com\"", OriginalChecksum: sha1OfLine("const url = \"http://example.com\"")},
					},
				},
			},
		},
	}

	host := &fakePRHost{
		defaultBranch:  "master",
		existingNumber: 9,
		existingURL:    "https://example.com/pr/9",
		existingBranch: "peer/autofix/run1-1699999999",
		existingLabels: []string{autofix.SkipLabel},
	}
	now := func() time.Time { return time.Unix(1700000000, 0) }

	result, err := autofix.Apply(context.Background(), staticTokenSource(""), host, dir, pr, model.ModeCommit, now)

	require.NoError(t, err)
	assert.Equal(t, 9, result.FixPRNumber)
	assert.Equal(t, "https://example.com/pr/9", result.FixPRURL)
	assert.True(t, result.FixPRSkipped)
	assert.Equal(t, 0, host.createCalls)
	assert.Empty(t, result.Applied)
}

func TestApply_ExistingOpenPRIsUpdatedInPlace(t *testing.T) {
	dir, sha := initApplyTestRepo(t)

	pr := model.PatchRequest{
		ID: "pr1", RunID: "run1", Repo: "acme/widgets", PRNumber: 42, SHA: sha,
		Preview: model.Preview{
			Files: []model.FilePreview{
				{
					File:         "client.go",
					Ready:        true,
					OriginalText: "const url = \"http://example.com\"\n",
					Hunks: []model.Hunk{
						{Line: 1, FindingID: "f1", NewLine: "const url = \"https://example.com\"", OriginalChecksum: sha1OfLine("const url = \"http://example.com\"")},
					},
				},
			},
		},
	}

	host := &fakePRHost{
		defaultBranch:  "master",
		existingNumber: 9,
		existingURL:    "https://example.com/pr/9",
		existingBranch: "peer/autofix/run1-1699999999",
	}
	now := func() time.Time { return time.Unix(1700000000, 0) }

	result, err := autofix.Apply(context.Background(), staticTokenSource(""), host, dir, pr, model.ModeCommit, now)

	require.NoError(t, err)
	assert.Equal(t, 9, result.FixPRNumber)
	assert.Equal(t, "https://example.com/pr/9", result.FixPRURL)
	assert.False(t, result.FixPRSkipped)
	assert.Equal(t, "peer/autofix/run1-1699999999", result.BranchName)
	assert.Equal(t, 0, host.createCalls)
}

func sha1OfLine(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
