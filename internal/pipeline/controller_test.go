// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerci/reviewbot/internal/autofix"
	"github.com/peerci/reviewbot/internal/model"
	"github.com/peerci/reviewbot/internal/pipeline"
	"github.com/peerci/reviewbot/internal/queue"
	"github.com/peerci/reviewbot/internal/store"
)

type fakeMergeGateHost struct {
	mergeable  *bool
	checkRuns  []autofix.CheckRun
	reviews    []autofix.Review
	mergeSHA   string
	mergeCalls int
}

func (h *fakeMergeGateHost) Mergeable(context.Context, string, int) (*bool, error) {
	return h.mergeable, nil
}
func (h *fakeMergeGateHost) CheckRuns(context.Context, string, string) ([]autofix.CheckRun, error) {
	return h.checkRuns, nil
}
func (h *fakeMergeGateHost) Reviews(context.Context, string, int) ([]autofix.Review, error) {
	return h.reviews, nil
}
func (h *fakeMergeGateHost) Merge(context.Context, string, int, string) (string, error) {
	h.mergeCalls++
	return h.mergeSHA, nil
}

func TestController_OnPullRequest_EnqueuesAnalyzeJob(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()

	inst := model.Installation{ID: "inst-1", ExternalID: 42, Owner: "acme"}
	require.NoError(t, db.Installations().Upsert(ctx, inst))

	c := &pipeline.Controller{Runs: db.PRRuns(), PatchRequests: db.PatchRequests(), Installations: db.Installations(), Queue: kv}

	evt := pipeline.PullRequestEvent{Action: "opened", InstallationID: 42, Repo: "acme/widgets", PRNumber: 7, SHA: "abc", BaseSHA: "def", HeadRef: "feature"}
	require.NoError(t, c.OnPullRequest(ctx, evt))

	run, err := db.PRRuns().GetByKey(ctx, model.PRRunKey{Repo: "acme/widgets", PRNumber: 7, SHA: "abc"})
	require.NoError(t, err)
	assert.Equal(t, model.RunQueued, run.Status)

	job, ok, err := kv.Dequeue(ctx, queue.Analyze, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "analyze", job.Kind)
}

func TestController_OnPullRequest_IgnoresNonOpenSynchronizeActions(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()
	require.NoError(t, db.Installations().Upsert(ctx, model.Installation{ID: "inst-1", ExternalID: 1}))

	c := &pipeline.Controller{Runs: db.PRRuns(), PatchRequests: db.PatchRequests(), Installations: db.Installations(), Queue: kv}
	evt := pipeline.PullRequestEvent{Action: "closed", InstallationID: 1, Repo: "acme/widgets", PRNumber: 1, SHA: "abc"}
	require.NoError(t, c.OnPullRequest(ctx, evt))

	_, ok, err := kv.Dequeue(ctx, queue.Analyze, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestController_OnPullRequest_IgnoresAutofixBranch(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()
	require.NoError(t, db.Installations().Upsert(ctx, model.Installation{ID: "inst-1", ExternalID: 1}))

	c := &pipeline.Controller{Runs: db.PRRuns(), PatchRequests: db.PatchRequests(), Installations: db.Installations(), Queue: kv}
	evt := pipeline.PullRequestEvent{Action: "synchronize", InstallationID: 1, Repo: "acme/widgets", PRNumber: 1, SHA: "abc", HeadRef: "peer/autofix/run-1-1700000000"}
	require.NoError(t, c.OnPullRequest(ctx, evt))

	_, ok, err := kv.Dequeue(ctx, queue.Analyze, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestController_OnPullRequest_DuplicateRunIsNoop(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()
	require.NoError(t, db.Installations().Upsert(ctx, model.Installation{ID: "inst-1", ExternalID: 1}))

	c := &pipeline.Controller{Runs: db.PRRuns(), PatchRequests: db.PatchRequests(), Installations: db.Installations(), Queue: kv}
	evt := pipeline.PullRequestEvent{Action: "opened", InstallationID: 1, Repo: "acme/widgets", PRNumber: 1, SHA: "abc"}
	require.NoError(t, c.OnPullRequest(ctx, evt))
	require.NoError(t, c.OnPullRequest(ctx, evt))

	_, ok1, err := kv.Dequeue(ctx, queue.Analyze, time.Minute)
	require.NoError(t, err)
	require.True(t, ok1)
	_, ok2, err := kv.Dequeue(ctx, queue.Analyze, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok2, "a duplicate (repo, prNumber, sha) must not enqueue a second analyze job")
}

func TestController_OnReview_AutoMergesOnApproval(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()

	finding := model.Finding{File: "a.go", Line: 1, Rule: "x", Severity: model.SeverityHigh}
	finding = finding.Normalize()
	run := model.NewPRRun("run-1", model.PRRunKey{Repo: "acme/widgets", PRNumber: 7, SHA: "sha1"}, 42, "base", "feature", time.Now())
	run, err := run.Start(time.Now())
	require.NoError(t, err)
	run, err = run.Complete([]model.Finding{finding}, time.Now())
	require.NoError(t, err)
	require.NoError(t, db.PRRuns().Create(ctx, run))

	pr := model.NewPatchRequest("pr-1", run.ID, run.Repo, run.PRNumber, run.SHA, "", []string{finding.ID}, 1, time.Now())
	require.NoError(t, db.PatchRequests().Create(ctx, pr))

	inst := model.Installation{ID: "inst-1", ExternalID: 42, Owner: "acme", Config: model.InstallationConfig{
		AutoMerge: model.AutoMergeConfig{Enabled: true},
	}}
	require.NoError(t, db.Installations().Upsert(ctx, inst))

	mergeable := true
	host := &fakeMergeGateHost{mergeable: &mergeable, mergeSHA: "merged-sha"}
	sleepCalls := 0
	c := &pipeline.Controller{
		Runs: db.PRRuns(), PatchRequests: db.PatchRequests(), Installations: db.Installations(), Queue: kv,
		Host: host, Sleep: func(time.Duration) { sleepCalls++ },
	}

	evt := pipeline.PullRequestReviewEvent{State: "approved", InstallationID: 42, Repo: "acme/widgets", PRNumber: 7, SHA: "sha1", HeadRef: "peer/autofix/run-1-1700000000"}
	require.NoError(t, c.OnReview(ctx, evt))
	assert.Equal(t, 1, host.mergeCalls)
	assert.Zero(t, sleepCalls, "mergeable was non-nil on first poll, no retry should sleep")

	gotRun, err := db.PRRuns().Get(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, gotRun.Findings, 1)
	assert.True(t, gotRun.Findings[0].Fixed)
	assert.Equal(t, pr.ID, gotRun.Findings[0].FixedByPatchRequestID)

	gotPR, err := db.PatchRequests().Get(ctx, pr.ID)
	require.NoError(t, err)
	assert.True(t, gotPR.Results.AutoMerged)
}

func TestController_OnReview_SkipsWhenAutoMergeDisabled(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()

	run := model.NewPRRun("run-2", model.PRRunKey{Repo: "acme/widgets", PRNumber: 1, SHA: "sha2"}, 1, "base", "feature", time.Now())
	require.NoError(t, db.PRRuns().Create(ctx, run))
	pr := model.NewPatchRequest("pr-2", run.ID, run.Repo, run.PRNumber, run.SHA, "", nil, 0, time.Now())
	require.NoError(t, db.PatchRequests().Create(ctx, pr))
	require.NoError(t, db.Installations().Upsert(ctx, model.Installation{ID: "inst-1", ExternalID: 1}))

	host := &fakeMergeGateHost{}
	c := &pipeline.Controller{Runs: db.PRRuns(), PatchRequests: db.PatchRequests(), Installations: db.Installations(), Queue: kv, Host: host}

	evt := pipeline.PullRequestReviewEvent{State: "approved", InstallationID: 1, Repo: "acme/widgets", PRNumber: 1, SHA: "sha2", HeadRef: "peer/autofix/run-2-1700000000"}
	require.NoError(t, c.OnReview(ctx, evt))
	assert.Zero(t, host.mergeCalls)
}

func TestController_OnReview_IgnoresNonApprovedState(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()
	host := &fakeMergeGateHost{}
	c := &pipeline.Controller{Runs: db.PRRuns(), PatchRequests: db.PatchRequests(), Installations: db.Installations(), Queue: kv, Host: host}

	evt := pipeline.PullRequestReviewEvent{State: "commented", HeadRef: "peer/autofix/run-1-1700000000"}
	require.NoError(t, c.OnReview(ctx, evt))
	assert.Zero(t, host.mergeCalls)
}

func TestController_OnInstallation_CreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	c := &pipeline.Controller{Installations: db.Installations()}

	require.NoError(t, c.OnInstallation(ctx, pipeline.InstallationEvent{Action: "created", InstallationID: 7, Owner: "acme"}))
	inst, err := db.Installations().GetByExternalID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "acme", inst.Owner)
	assert.Equal(t, model.ModeReview, inst.Config.Mode)

	require.NoError(t, c.OnInstallation(ctx, pipeline.InstallationEvent{Action: "renamed", InstallationID: 7, Owner: "acme-renamed"}))
	inst, err = db.Installations().GetByExternalID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "acme-renamed", inst.Owner)
	assert.Equal(t, model.ModeReview, inst.Config.Mode, "existing config must survive an update")
}
