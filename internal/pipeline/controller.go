// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"

	"github.com/peerci/reviewbot/internal/autofix"
	"github.com/peerci/reviewbot/internal/model"
	"github.com/peerci/reviewbot/internal/queue"
	"github.com/peerci/reviewbot/internal/store"
)

// MergeGateHost is the capability the controller needs to run the
// auto-merge gate on an approved review (spec §4.6 review dispatch rule).
type MergeGateHost = autofix.MergeGateHost

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Controller implements the two webhook dispatch rules of spec §4.6: PR
// events enqueue analysis, approving reviews on autofix branches trigger
// the merge gate.
type Controller struct {
	Runs          store.PRRunStore
	PatchRequests store.PatchRequestStore
	Installations store.InstallationStore
	Queue         queue.KVStore
	Host          MergeGateHost
	Now           Clock
	Sleep         autofix.Sleeper
}

// OnPullRequest handles a pull_request webhook event. Per spec §4.6, only
// `opened`/`synchronize` actions not originating from a peer/autofix/*
// branch create work; every other action (closed, labeled, reopened, ...)
// is a no-op.
func (c *Controller) OnPullRequest(ctx context.Context, evt PullRequestEvent) error {
	log := clog.FromContext(ctx).With("repo", evt.Repo).With("prNumber", evt.PRNumber)

	if evt.Action != "opened" && evt.Action != "synchronize" {
		return nil
	}
	if evt.IsAutofixBranch() {
		log.Info("ignoring pull_request event on an autofix branch")
		return nil
	}

	inst, err := c.Installations.GetByExternalID(ctx, evt.InstallationID)
	if err != nil {
		return fmt.Errorf("looking up installation %d: %w", evt.InstallationID, err)
	}

	now := c.now()
	key := model.PRRunKey{Repo: evt.Repo, PRNumber: evt.PRNumber, SHA: evt.SHA}
	run := model.NewPRRun(uuid.NewString(), key, evt.InstallationID, evt.BaseSHA, evt.HeadRef, now)

	if err := c.Runs.Create(ctx, run); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warnf("duplicate PRRun for %s, dropping", key)
			return nil
		}
		return fmt.Errorf("creating PRRun: %w", err)
	}

	job, err := queue.NewJob(queue.Analyze, "analyze", AnalyzeJobPayload{RunID: run.ID, InstallationID: inst.ExternalID}, now)
	if err != nil {
		return fmt.Errorf("building analyze job: %w", err)
	}
	if err := c.Queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueuing analyze job: %w", err)
	}
	return nil
}

// OnReview handles a pull_request_review webhook event. Per spec §4.6,
// only an `approved` review on a peer/autofix/* branch triggers the
// auto-merge gate; every other state is a no-op.
func (c *Controller) OnReview(ctx context.Context, evt PullRequestReviewEvent) error {
	log := clog.FromContext(ctx).With("repo", evt.Repo).With("prNumber", evt.PRNumber)

	if evt.State != "approved" {
		return nil
	}
	runID, ok := ParseAutofixBranch(evt.HeadRef)
	if !ok {
		log.Debugf("review on non-autofix branch %s, ignoring", evt.HeadRef)
		return nil
	}

	pr, err := c.PatchRequests.GetByRunID(ctx, runID)
	if err != nil {
		return fmt.Errorf("looking up patch request for run %s: %w", runID, err)
	}

	inst, err := c.Installations.GetByExternalID(ctx, evt.InstallationID)
	if err != nil {
		return fmt.Errorf("looking up installation %d: %w", evt.InstallationID, err)
	}
	if !inst.Config.AutoMerge.Enabled {
		log.Info("auto-merge not enabled for installation, skipping gate")
		return nil
	}

	result, err := autofix.EvaluateGate(ctx, c.Host, evt.Repo, evt.PRNumber, evt.SHA, inst.Config.AutoMerge, "merge", c.Sleep)
	if err != nil {
		return fmt.Errorf("evaluating auto-merge gate: %w", err)
	}
	log.With("merged", result.Merged).With("reason", result.Reason).Info("auto-merge gate evaluated")

	if !result.Merged {
		return nil
	}

	run, err := c.Runs.Get(ctx, pr.RunID)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", pr.RunID, err)
	}
	run = autofix.ApplyMergeOutcome(run, pr, c.now())
	if err := c.Runs.Update(ctx, run); err != nil {
		return fmt.Errorf("persisting merge outcome: %w", err)
	}

	pr.Results.AutoMerged = true
	pr.Results.AutoMergeReason = result.Reason
	if err := c.PatchRequests.Update(ctx, pr); err != nil {
		return fmt.Errorf("persisting patch request merge outcome: %w", err)
	}
	return nil
}

// OnInstallation keeps the Installation record current; per spec §4.6
// installation lifecycle events never trigger pipeline work.
func (c *Controller) OnInstallation(ctx context.Context, evt InstallationEvent) error {
	existing, err := c.Installations.GetByExternalID(ctx, evt.InstallationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("looking up installation %d: %w", evt.InstallationID, err)
	}
	if errors.Is(err, store.ErrNotFound) {
		existing = model.Installation{
			ID:         uuid.NewString(),
			ExternalID: evt.InstallationID,
			Owner:      evt.Owner,
			Config:     model.InstallationConfig{Mode: model.ModeReview},
		}
	}
	existing.Owner = evt.Owner
	return c.Installations.Upsert(ctx, existing)
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
