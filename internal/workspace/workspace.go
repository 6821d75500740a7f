// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace materializes the changed code of a pull request at its
// head commit into an ephemeral local working copy (spec §4.2). It is
// directly modeled on the teacher's reconcilers/githubreconciler/clonemanager,
// simplified: each checkout is a fresh, single-use clone rather than a
// pooled lease, since a (repo, sha) pair is only ever worked on once.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/oauth2"
)

const cloneDirPrefix = "peer-workspace-"

// Workspace is a leased, scoped working copy of a repository checked out at
// a specific commit. Callers must call Cleanup on every exit path,
// including panics (spec §4.2 "scoped acquisition is required").
type Workspace struct {
	dir  string
	repo *git.Repository
	sha  string
}

// RemoteURLFunc resolves the clone URL for an owner/repo. Overridable in
// tests to point at local bare repositories.
type RemoteURLFunc func(owner, repo string) string

// DefaultRemoteURL builds the standard github.com HTTPS clone URL.
func DefaultRemoteURL(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, repo)
}

// Checkout performs Checkout(repo, sha) -> workdir from spec §4.2: clone
// (shallow, no-checkout + fetch of the specific commit, falling back to a
// full clone when the shallow path fails) and check out sha.
func Checkout(ctx context.Context, tokenSource oauth2.TokenSource, remoteURL string, sha string) (*Workspace, error) {
	log := clog.FromContext(ctx)

	dir, err := os.MkdirTemp("", cloneDirPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	auth, err := basicAuth(tokenSource)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("resolving auth: %w", err)
	}

	repo, shallowErr := shallowClone(ctx, dir, remoteURL, sha, auth)
	if shallowErr != nil {
		log.Warnf("shallow checkout of %s failed, falling back to full clone: %v", sha, shallowErr)
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warnf("cleaning up failed shallow clone dir: %v", rmErr)
		}
		dir, err = os.MkdirTemp("", cloneDirPrefix)
		if err != nil {
			return nil, fmt.Errorf("creating temp dir: %w", err)
		}
		repo, err = fullClone(ctx, dir, remoteURL, sha, auth)
		if err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("full clone fallback: %w", err)
		}
	}

	return &Workspace{dir: dir, repo: repo, sha: sha}, nil
}

func basicAuth(tokenSource oauth2.TokenSource) (*githttp.BasicAuth, error) {
	if tokenSource == nil {
		return nil, nil
	}
	tok, err := tokenSource.Token()
	if err != nil {
		return nil, err
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: tok.AccessToken}, nil
}

// shallowClone performs a no-checkout clone followed by a depth-1 fetch of
// the specific commit and a hard checkout, avoiding downloading the full
// history for repositories where the host supports fetching by SHA.
func shallowClone(ctx context.Context, dir, remoteURL, sha string, auth *githttp.BasicAuth) (*git.Repository, error) {
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("initializing repo: %w", err)
	}

	remote, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{remoteURL},
	})
	if err != nil {
		return nil, fmt.Errorf("creating remote: %w", err)
	}

	clog.FromContext(ctx).Infof("shallow fetching %s at %s", remoteURL, sha)
	if err := remote.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf("%s:refs/remotes/origin/peer-%s", sha, sha))},
		Depth:    1,
		Auth:     auth,
	}); err != nil {
		return nil, fmt.Errorf("fetching commit %s: %w", sha, err)
	}

	return checkoutSHA(repo, sha)
}

// fullClone clones the full repository history and checks out sha. Used as
// a fallback when the host does not support fetching an arbitrary commit
// SHA directly (spec §4.2).
func fullClone(ctx context.Context, dir, remoteURL, sha string, auth *githttp.BasicAuth) (*git.Repository, error) {
	clog.FromContext(ctx).Infof("full cloning %s", remoteURL)
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:  remoteURL,
		Auth: auth,
	})
	if err != nil {
		return nil, fmt.Errorf("cloning repository: %w", err)
	}
	return checkoutSHA(repo, sha)
}

func checkoutSHA(repo *git.Repository, sha string) (*git.Repository, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{
		Hash:  plumbing.NewHash(sha),
		Force: true,
	}); err != nil {
		return nil, fmt.Errorf("checking out %s: %w", sha, err)
	}
	return repo, nil
}

// ChangedFiles returns the set of file paths differing between
// baseSHA..sha (or sha~1..sha if baseSHA is empty), per spec §4.2.
func (w *Workspace) ChangedFiles(ctx context.Context, baseSHA string) ([]string, error) {
	headCommit, err := w.repo.CommitObject(plumbing.NewHash(w.sha))
	if err != nil {
		return nil, fmt.Errorf("loading head commit %s: %w", w.sha, err)
	}

	var baseCommit *object.Commit
	if baseSHA != "" {
		baseCommit, err = w.commitByHashOrFetch(ctx, baseSHA)
		if err != nil {
			return nil, fmt.Errorf("loading base commit %s: %w", baseSHA, err)
		}
	} else {
		if headCommit.NumParents() == 0 {
			return allFiles(headCommit)
		}
		baseCommit, err = headCommit.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("loading parent of %s: %w", w.sha, err)
		}
	}

	headTree, err := headCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("loading head tree: %w", err)
	}
	baseTree, err := baseCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("loading base tree: %w", err)
	}

	changes, err := baseTree.Diff(headTree)
	if err != nil {
		return nil, fmt.Errorf("diffing trees: %w", err)
	}

	seen := make(map[string]bool, len(changes))
	var files []string
	for _, c := range changes {
		for _, p := range []string{c.From.Name, c.To.Name} {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			files = append(files, p)
		}
	}
	return files, nil
}

// commitByHashOrFetch tries to resolve baseSHA locally, fetching it from
// origin if the shallow clone did not already contain it.
func (w *Workspace) commitByHashOrFetch(ctx context.Context, baseSHA string) (*object.Commit, error) {
	commit, err := w.repo.CommitObject(plumbing.NewHash(baseSHA))
	if err == nil {
		return commit, nil
	}

	remote, rerr := w.repo.Remote("origin")
	if rerr != nil {
		return nil, err
	}
	if ferr := remote.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: []gitconfig.RefSpec{gitconfig.RefSpec(fmt.Sprintf("%s:refs/remotes/origin/peer-base-%s", baseSHA, baseSHA))},
		Depth:    1,
	}); ferr != nil && !errors.Is(ferr, git.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("fetching base commit %s: %w", baseSHA, ferr)
	}
	return w.repo.CommitObject(plumbing.NewHash(baseSHA))
}

func allFiles(commit *object.Commit) ([]string, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("loading tree: %w", err)
	}
	var files []string
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if errors.Is(err, object.ErrEntryNotFound) || err != nil {
			break
		}
		if !entry.Mode.IsFile() {
			continue
		}
		files = append(files, name)
	}
	return files, nil
}

// Dir returns the absolute path to the checked-out working tree.
func (w *Workspace) Dir() string { return w.dir }

// SHA returns the commit this workspace is checked out at.
func (w *Workspace) SHA() string { return w.sha }

// Repo returns the underlying go-git repository.
func (w *Workspace) Repo() *git.Repository { return w.repo }

// Cleanup removes the working directory. Safe to call multiple times.
func (w *Workspace) Cleanup() error {
	if w.dir == "" {
		return nil
	}
	err := os.RemoveAll(w.dir)
	w.dir = ""
	return err
}

// WriteFile writes content to path (relative to the workspace root),
// creating parent directories as needed, and stages it in the git index
// (spec §4.5.5 "write the approved file content to disk").
func (w *Workspace) WriteFile(path, content string) error {
	full := filepath.Join(w.dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating parent dir for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	worktree, err := w.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	if _, err := worktree.Add(path); err != nil {
		return fmt.Errorf("staging %s: %w", path, err)
	}
	return nil
}

// CreateBranch creates branchName at the workspace's current commit and
// checks it out, per spec §4.5.5 "create branch peer/autofix/<runId>-<ts>".
func (w *Workspace) CreateBranch(branchName string) error {
	refName := plumbing.NewBranchReferenceName(branchName)
	branchRef := plumbing.NewHashReference(refName, plumbing.NewHash(w.sha))
	if err := w.repo.Storer.SetReference(branchRef); err != nil {
		return fmt.Errorf("setting branch reference: %w", err)
	}
	worktree, err := w.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: refName, Force: true}); err != nil {
		return fmt.Errorf("checking out branch %s: %w", branchName, err)
	}
	return nil
}

// Commit commits the staged index under the given author identity and
// returns the new commit SHA.
func (w *Workspace) Commit(message, authorName, authorEmail string) (string, error) {
	worktree, err := w.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("getting worktree: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return hash.String(), nil
}

// Push force-pushes branchName to origin (spec §4.5.5 "push branch").
func (w *Workspace) Push(ctx context.Context, tokenSource oauth2.TokenSource, branchName string) error {
	auth, err := basicAuth(tokenSource)
	if err != nil {
		return fmt.Errorf("resolving auth: %w", err)
	}
	refName := plumbing.NewBranchReferenceName(branchName)
	refSpec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", refName.String(), refName.String()))

	err = w.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       auth,
		Force:      true,
		RefSpecs:   []gitconfig.RefSpec{refSpec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pushing %s: %w", branchName, err)
	}
	return nil
}
