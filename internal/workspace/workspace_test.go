// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package workspace_test

import (
	"context"
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

	"github.com/peerci/reviewbot/internal/workspace"
)

type staticTokenSource string

func (s staticTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: string(s)}, nil
}

func initTestRepo(t *testing.T) (dir string, firstSHA, secondSHA string) {
	t.Helper()

	dir = t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))
	_, err = wt.Add("a.go")
	require.NoError(t, err)
	first, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package a\n\nvar b = 1\n"), 0o644))
	_, err = wt.Add("b.go")
	require.NoError(t, err)
	second, err := wt.Commit("add b", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	require.NoError(t, repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("master"))))

	return dir, first.String(), second.String()
}

func TestCheckout_ChangedFiles(t *testing.T) {
	dir, first, second := initTestRepo(t)

	ws, err := workspace.Checkout(context.Background(), staticTokenSource(""), dir, second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Cleanup() })

	assert.Equal(t, second, ws.SHA())

	files, err := ws.ChangedFiles(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.go"}, files)
}

func TestCheckout_ChangedFilesRootCommitReturnsAllFiles(t *testing.T) {
	dir, first, _ := initTestRepo(t)

	ws, err := workspace.Checkout(context.Background(), staticTokenSource(""), dir, first)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Cleanup() })

	files, err := ws.ChangedFiles(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, files)
}

func TestWriteFileCreateBranchCommitPush(t *testing.T) {
	dir, _, second := initTestRepo(t)

	ws, err := workspace.Checkout(context.Background(), staticTokenSource(""), dir, second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Cleanup() })

	branchName := "peer/autofix/test-branch"
	require.NoError(t, ws.CreateBranch(branchName))
	require.NoError(t, ws.WriteFile("b.go", "package a\n\nvar b = 2\n"))

	sha, err := ws.Commit("autofix", "peer-autofix", "peer-autofix@users.noreply.github.com")
	require.NoError(t, err)
	assert.NotEmpty(t, sha)

	require.NoError(t, ws.Push(context.Background(), staticTokenSource(""), branchName))

	originRepo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	ref, err := originRepo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	require.NoError(t, err)
	assert.Equal(t, sha, ref.Hash().String())
}
