// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package autofix

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/peerci/reviewbot/internal/model"
)

// mergeabilityPollInterval and mergeabilityMaxAttempts implement spec
// §4.5.6 step 2, "retry up to 5x with 2s spacing while mergeable=null".
const (
	mergeabilityPollInterval = 2 * time.Second
	mergeabilityMaxAttempts  = 5
)

// CheckRun is one status/check-run result on the head commit of a PR.
type CheckRun struct {
	Name       string
	Completed  bool
	Conclusion string // success, failure, neutral, skipped, ...
}

// Review is one pull request review.
type Review struct {
	State string // APPROVED, CHANGES_REQUESTED, COMMENTED, ...
}

// MergeGateHost is the narrow host-API surface the auto-merge gate needs,
// satisfied by internal/githubapi.
type MergeGateHost interface {
	Mergeable(ctx context.Context, repo string, prNumber int) (mergeable *bool, err error)
	CheckRuns(ctx context.Context, repo, headSHA string) ([]CheckRun, error)
	Reviews(ctx context.Context, repo string, prNumber int) ([]Review, error)
	Merge(ctx context.Context, repo string, prNumber int, method string) (mergeCommitSHA string, err error)
}

// GateResult is the outcome of evaluating the auto-merge gate.
type GateResult struct {
	Merged    bool
	Reason    string // non-empty when Merged is false: the first failing precondition
	CommitSHA string
}

// Sleeper abstracts time.Sleep for test speed.
type Sleeper func(time.Duration)

// EvaluateGate runs the five sequential auto-merge preconditions of spec
// §4.5.6 against a single PR and, if every precondition passes, performs
// the merge. The first failing precondition aborts with its reason; no
// later precondition is evaluated.
func EvaluateGate(ctx context.Context, host MergeGateHost, repo string, prNumber int, headSHA string, cfg model.AutoMergeConfig, mergeMethod string, sleep Sleeper) (GateResult, error) {
	log := clog.FromContext(ctx).With("repo", repo, "pr", prNumber)

	if !cfg.Enabled {
		return GateResult{Reason: "auto_merge_disabled"}, nil
	}

	mergeable, err := pollMergeable(ctx, host, repo, prNumber, sleep)
	if err != nil {
		return GateResult{}, fmt.Errorf("polling mergeable status: %w", err)
	}
	if !mergeable {
		return GateResult{Reason: "not_mergeable"}, nil
	}

	if cfg.RequireTests {
		checks, err := host.CheckRuns(ctx, repo, headSHA)
		if err != nil {
			return GateResult{}, fmt.Errorf("listing check runs: %w", err)
		}
		if reason, ok := checksSatisfied(checks); !ok {
			return GateResult{Reason: reason}, nil
		}
	}

	if cfg.RequireReviews >= 1 {
		reviews, err := host.Reviews(ctx, repo, prNumber)
		if err != nil {
			return GateResult{}, fmt.Errorf("listing reviews: %w", err)
		}
		if reason, ok := reviewsSatisfied(reviews, cfg.RequireReviews); !ok {
			return GateResult{Reason: reason}, nil
		}
	}

	sha, err := host.Merge(ctx, repo, prNumber, mergeMethod)
	if err != nil {
		return GateResult{}, fmt.Errorf("merging: %w", err)
	}
	log.Infof("auto-merged #%d at %s", prNumber, sha)
	return GateResult{Merged: true, CommitSHA: sha}, nil
}

func pollMergeable(ctx context.Context, host MergeGateHost, repo string, prNumber int, sleep Sleeper) (bool, error) {
	for attempt := 0; attempt < mergeabilityMaxAttempts; attempt++ {
		mergeable, err := host.Mergeable(ctx, repo, prNumber)
		if err != nil {
			return false, err
		}
		if mergeable != nil {
			return *mergeable, nil
		}
		if attempt < mergeabilityMaxAttempts-1 {
			if sleep != nil {
				sleep(mergeabilityPollInterval)
			} else {
				select {
				case <-ctx.Done():
					return false, ctx.Err()
				case <-time.After(mergeabilityPollInterval):
				}
			}
		}
	}
	return false, nil
}

func checksSatisfied(checks []CheckRun) (reason string, ok bool) {
	okConclusions := map[string]bool{"success": true, "skipped": true, "neutral": true}
	for _, c := range checks {
		if !c.Completed {
			return "checks_pending", false
		}
		if !okConclusions[c.Conclusion] {
			return "checks_failed", false
		}
	}
	return "", true
}

func reviewsSatisfied(reviews []Review, required int) (reason string, ok bool) {
	approvals := 0
	for _, r := range reviews {
		switch r.State {
		case "CHANGES_REQUESTED":
			return "changes_requested", false
		case "APPROVED":
			approvals++
		}
	}
	if approvals < required {
		return "insufficient_approvals", false
	}
	return "", true
}

// ApplyMergeOutcome flips fixed=true/fixedAt/fixedByPatchRequestId for
// every selected finding on the run, per spec §4.5.6 "on success".
func ApplyMergeOutcome(run model.PRRun, pr model.PatchRequest, now time.Time) model.PRRun {
	return run.MarkFindingFixed(pr.SelectedFindingIDs, pr.ID, now)
}
