// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package autofix

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/oauth2"

	"github.com/peerci/reviewbot/internal/model"
	"github.com/peerci/reviewbot/internal/workspace"
)

// CommitAuthorName and CommitAuthorEmail identify commits the engine makes
// on autofix branches. SkipLabel is the same identity used for the
// skip:<identity> label convention: a maintainer who applies
// "skip:peer-autofix" to a fix PR is telling the engine not to overwrite
// their manual edits on a later run.
const (
	CommitAuthorName  = "peer-autofix"
	CommitAuthorEmail = "peer-autofix@users.noreply.github.com"
	SkipLabel         = "skip:" + CommitAuthorName
)

// PRHost is the narrow host-API surface apply.go needs, satisfied by
// internal/githubapi. Kept separate from internal/githubapi's own types so
// this package never imports it directly (same decoupling as
// internal/analyzer.AICaller / internal/llm.AICaller).
type PRHost interface {
	DefaultBranch(ctx context.Context, repo string) (string, error)
	CreatePullRequest(ctx context.Context, repo, head, base, title, body string) (number int, url string, err error)
	// ExistingFixPR looks up the open autofix PR previously opened for
	// originPRNumber, if any, along with its head branch and labels. number
	// is 0 if none exists, mirroring the teacher's changemanager.Session
	// tracking of at most one open PR per resource.
	ExistingFixPR(ctx context.Context, repo string, originPRNumber int) (number int, url, headBranch string, labels []string, err error)
}

// ApplyResult is the outcome of applying one patch request's prepared
// files to a fresh branch.
type ApplyResult struct {
	model.Results
}

// Apply implements spec §4.5.5 plus the skip:<identity> convention of §3
// (Upsert-or-skip, grounded in the teacher's changemanager.Session.Upsert):
// re-clone at sha, resolve whether an autofix PR already exists for this
// origin PR, refuse to touch it if it carries the skip label, reuse its
// branch if it doesn't, otherwise create a fresh one, write every prepared
// file (verbatim for AI rewrites, or checksum-verified hunk-by-hunk
// otherwise), commit, push, and open or leave in place the PR.
func Apply(ctx context.Context, tokenSource oauth2.TokenSource, host PRHost, remoteURL string, pr model.PatchRequest, mode model.Mode, now func() time.Time) (ApplyResult, error) {
	log := clog.FromContext(ctx).With("patchRequest", pr.ID)

	var existingNumber int
	var existingURL string
	updating := false
	branch := fmt.Sprintf("peer/autofix/%s-%d", pr.RunID, now().Unix())

	if mode == model.ModeCommit || mode == model.ModeMerge {
		number, url, headBranch, labels, err := host.ExistingFixPR(ctx, pr.Repo, pr.PRNumber)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("checking for existing autofix pull request: %w", err)
		}
		if number != 0 && slices.Contains(labels, SkipLabel) {
			log.Infof("autofix PR #%d has label %s, not overwriting with a new one", number, SkipLabel)
			return ApplyResult{Results: model.Results{FixPRNumber: number, FixPRURL: url, FixPRSkipped: true}}, nil
		}
		if number != 0 {
			existingNumber, existingURL, branch, updating = number, url, headBranch, true
		}
	}

	ws, err := workspace.Checkout(ctx, tokenSource, remoteURL, pr.SHA)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("checking out workspace: %w", err)
	}
	defer func() {
		if cerr := ws.Cleanup(); cerr != nil {
			log.Warnf("cleaning up apply workspace: %v", cerr)
		}
	}()

	if err := ws.CreateBranch(branch); err != nil {
		return ApplyResult{}, fmt.Errorf("creating branch %s: %w", branch, err)
	}

	results := model.Results{BranchName: branch}
	anyWritten := false

	for _, fp := range pr.Preview.Files {
		if fp.Skipped || !fp.Ready {
			continue
		}
		if err := applyFile(ws, fp); err != nil {
			log.Warnf("applying %s: %v", fp.File, err)
			results.Errors = append(results.Errors, fmt.Sprintf("%s: %v", fp.File, err))
			continue
		}
		if fp.AIRewritten || hasAnyAppliedHunk(fp) {
			results.Applied = append(results.Applied, fp.File)
			anyWritten = true
		} else {
			results.Skipped = append(results.Skipped, fp.File)
		}
	}

	if !anyWritten {
		return ApplyResult{Results: results}, fmt.Errorf("no files were successfully applied")
	}

	commitMsg := fmt.Sprintf("peer: autofix %d file(s)", len(results.Applied))
	sha, err := ws.Commit(commitMsg, CommitAuthorName, CommitAuthorEmail)
	if err != nil {
		return ApplyResult{Results: results}, fmt.Errorf("committing: %w", err)
	}
	results.CommitSHA = sha

	if err := ws.Push(ctx, tokenSource, branch); err != nil {
		return ApplyResult{Results: results}, fmt.Errorf("pushing branch: %w", err)
	}

	if mode == model.ModeCommit || mode == model.ModeMerge {
		if updating {
			// Force-pushing branch above already moved the existing PR's
			// head; nothing left to do but report it.
			results.FixPRNumber = existingNumber
			results.FixPRURL = existingURL
		} else {
			base, err := host.DefaultBranch(ctx, pr.Repo)
			if err != nil {
				return ApplyResult{Results: results}, fmt.Errorf("resolving default branch: %w", err)
			}
			number, url, err := host.CreatePullRequest(ctx, pr.Repo, branch, base,
				fmt.Sprintf("peer: autofix for #%d", pr.PRNumber),
				autofixPRBody(pr))
			if err != nil {
				return ApplyResult{Results: results}, fmt.Errorf("creating pull request: %w", err)
			}
			results.FixPRNumber = number
			results.FixPRURL = url
		}
	}

	return ApplyResult{Results: results}, nil
}

func hasAnyAppliedHunk(fp model.FilePreview) bool {
	for _, h := range fp.Hunks {
		if !h.Failed {
			return true
		}
	}
	return false
}

// applyFile writes fp's prepared content into the workspace, per spec
// §4.5.5: AI-rewritten files are written verbatim; deterministic/minimal
// hunks are re-verified against the current on-disk line before applying,
// skipping individually on a checksum mismatch rather than failing the
// whole file. Each applied hunk is framed in BEGIN/END marker comments
// with the original line commented out, matching ApplyDeterministic.
func applyFile(ws *workspace.Workspace, fp model.FilePreview) error {
	if fp.AIRewritten && fp.ImprovedText != "" {
		content := fp.ImprovedText
		if fp.EOL == "\r\n" && !strings.Contains(content, "\r\n") {
			content = strings.ReplaceAll(content, "\n", "\r\n")
		}
		return ws.WriteFile(fp.File, content)
	}

	current, err := os.ReadFile(filepath.Join(ws.Dir(), fp.File))
	if err != nil {
		return fmt.Errorf("reading current content: %w", err)
	}
	lines, eol := splitLines(string(current))
	style := commentStyleFor(fp.File)
	workingLines := append([]string(nil), lines...)
	wraps := make(map[int][]string)

	for _, h := range fp.Hunks {
		if h.Failed {
			continue
		}
		if h.Line < 1 || h.Line > len(lines) {
			continue
		}
		idx := h.Line - 1
		if sha1Hex(lines[idx]) != h.OriginalChecksum {
			// spec §4.5.5: a changed line since preview was computed is
			// skipped, not a fatal error for the whole file.
			continue
		}
		wraps[idx] = wrap(style, lines[idx], h.NewLine)
		if h.RequiresAsync {
			markEnclosingFunctionAsync(workingLines, idx)
		}
	}

	out := make([]string, 0, len(workingLines))
	for i, line := range workingLines {
		if wrapped, ok := wraps[i]; ok {
			out = append(out, wrapped...)
			continue
		}
		out = append(out, line)
	}

	return ws.WriteFile(fp.File, joinLines(out, eol))
}

func autofixPRBody(pr model.PatchRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated fixes for %d selected finding(s) on PR #%d.\n\n", len(pr.SelectedFindingIDs), pr.PRNumber)
	for _, fp := range pr.Preview.Files {
		if fp.Skipped || !fp.Ready {
			continue
		}
		fmt.Fprintf(&b, "- `%s`: %s\n", fp.File, fp.ChangeSummary)
	}
	return b.String()
}
