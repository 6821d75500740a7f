// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/peerci/reviewbot/internal/autofix"
	"github.com/peerci/reviewbot/internal/model"
	"github.com/peerci/reviewbot/internal/pipeline"
	"github.com/peerci/reviewbot/internal/queue"
	"github.com/peerci/reviewbot/internal/store"
)

type fakePRHost struct {
	defaultBranch string
	nextPRNumber  int
	nextPRURL     string
}

func (h *fakePRHost) DefaultBranch(context.Context, string) (string, error) {
	return h.defaultBranch, nil
}

func (h *fakePRHost) CreatePullRequest(context.Context, string, string, string, string, string) (int, string, error) {
	return h.nextPRNumber, h.nextPRURL, nil
}

func (h *fakePRHost) ExistingFixPR(context.Context, string, int) (int, string, string, []string, error) {
	return 0, "", "", nil, nil
}

func setupAutofixRun(t *testing.T, db *store.Memory, repoDir, sha string, findings []model.Finding) model.PRRun {
	t.Helper()
	run := model.NewPRRun("run-1", model.PRRunKey{Repo: "acme/widgets", PRNumber: 7, SHA: sha}, 42, "base", "feature", time.Now())
	run, err := run.Start(time.Now())
	require.NoError(t, err)
	run, err = run.Complete(findings, time.Now())
	require.NoError(t, err)
	require.NoError(t, db.PRRuns().Create(context.Background(), run))
	return run
}

func TestAutofixWorker_PreviewFile_AdvancesToReadyAndEnqueuesApply(t *testing.T) {
	ctx := context.Background()
	repoDir, _, second := initRemoteRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "c.go"), []byte("var u = \"http://example.com\"\n"), 0o644))

	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()

	finding := model.Finding{File: "c.go", Line: 1, Rule: "http-not-https", Severity: model.SeverityMedium}
	finding = finding.Normalize()
	run := setupAutofixRun(t, db, repoDir, second, []model.Finding{finding})

	pr := model.NewPatchRequest("pr-1", run.ID, run.Repo, run.PRNumber, second, "", []string{finding.ID}, 1, time.Now())
	require.NoError(t, db.PatchRequests().Create(ctx, pr))

	worker := &pipeline.AutofixWorker{
		Runs:          db.PRRuns(),
		PatchRequests: db.PatchRequests(),
		Installations: db.Installations(),
		Users:         db.Users(),
		Notifications: db.Notifications(),
		Queue:         kv,
		Transformers:  autofix.DefaultTransformers(),
		PreviewOpts:   autofix.PreviewOptions{Mode: autofix.LLMAuto, Strategy: autofix.StrategyMinimal},
		TokenSource:   func(int64) (oauth2.TokenSource, error) { return staticTokenSource(""), nil },
		RemoteURL:     func(string) string { return repoDir },
	}

	require.NoError(t, worker.PreviewFile(ctx, pr.ID, "c.go"))

	got, err := db.PatchRequests().Get(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatchPreviewReady, got.Status)
	require.Len(t, got.Preview.Files, 1)
	assert.True(t, got.Preview.Files[0].Ready)
	assert.Contains(t, got.Preview.Files[0].ImprovedText, "https://example.com")

	job, ok, err := kv.Dequeue(ctx, queue.Apply, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "apply", job.Kind)
}

func TestAutofixWorker_PreviewFile_AdmitsNextPendingFileOnCompletion(t *testing.T) {
	ctx := context.Background()
	repoDir, _, second := initRemoteRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "c.go"), []byte("var u = \"http://example.com\"\n"), 0o644))

	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()

	finding := model.Finding{File: "c.go", Line: 1, Rule: "http-not-https", Severity: model.SeverityMedium}
	finding = finding.Normalize()
	run := setupAutofixRun(t, db, repoDir, second, []model.Finding{finding})

	pr := model.NewPatchRequest("pr-1b", run.ID, run.Repo, run.PRNumber, second, "", []string{finding.ID}, 2, time.Now())
	pr.PendingFiles = model.PendingFiles{"d.go"}
	require.NoError(t, db.PatchRequests().Create(ctx, pr))

	worker := &pipeline.AutofixWorker{
		Runs:          db.PRRuns(),
		PatchRequests: db.PatchRequests(),
		Installations: db.Installations(),
		Users:         db.Users(),
		Notifications: db.Notifications(),
		Queue:         kv,
		Transformers:  autofix.DefaultTransformers(),
		PreviewOpts:   autofix.PreviewOptions{Mode: autofix.LLMAuto, Strategy: autofix.StrategyMinimal},
		TokenSource:   func(int64) (oauth2.TokenSource, error) { return staticTokenSource(""), nil },
		RemoteURL:     func(string) string { return repoDir },
	}

	require.NoError(t, worker.PreviewFile(ctx, pr.ID, "c.go"))

	got, err := db.PatchRequests().Get(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatchPreviewPartial, got.Status, "still waiting on d.go")
	assert.Empty(t, got.PendingFiles, "d.go should have moved out of PendingFiles")

	job, ok, err := kv.Dequeue(ctx, queue.Autofix, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "preview_file", job.Kind)

	var payload pipeline.PreviewFileJobPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "d.go", payload.File)
}

func TestAutofixWorker_PreviewFile_TimesOutWithinPreviewTimeBudget(t *testing.T) {
	ctx := context.Background()
	repoDir, _, second := initRemoteRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "c.go"), []byte("var u = \"http://example.com\"\n"), 0o644))

	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()

	finding := model.Finding{File: "c.go", Line: 1, Rule: "http-not-https", Severity: model.SeverityMedium}
	finding = finding.Normalize()
	run := setupAutofixRun(t, db, repoDir, second, []model.Finding{finding})

	pr := model.NewPatchRequest("pr-1c", run.ID, run.Repo, run.PRNumber, second, "", []string{finding.ID}, 1, time.Now())
	require.NoError(t, db.PatchRequests().Create(ctx, pr))

	worker := &pipeline.AutofixWorker{
		Runs:          db.PRRuns(),
		PatchRequests: db.PatchRequests(),
		Installations: db.Installations(),
		Users:         db.Users(),
		Notifications: db.Notifications(),
		Queue:         kv,
		Transformers:  autofix.DefaultTransformers(),
		PreviewOpts:   autofix.PreviewOptions{Mode: autofix.LLMAuto, Strategy: autofix.StrategyMinimal},
		TokenSource:   func(int64) (oauth2.TokenSource, error) { return staticTokenSource(""), nil },
		RemoteURL:     func(string) string { return repoDir },
		// Deterministic transforms still finish under a nonzero budget; this
		// mainly exercises that a positive PreviewTimeBudget does not itself
		// break the happy path.
		PreviewTimeBudget: time.Minute,
	}

	require.NoError(t, worker.PreviewFile(ctx, pr.ID, "c.go"))

	got, err := db.PatchRequests().Get(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatchPreviewReady, got.Status)
}

func TestAutofixWorker_PreviewFile_SkipsAlreadyReadyFile(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()

	run := setupAutofixRun(t, db, "", "sha1", nil)
	pr := model.NewPatchRequest("pr-2", run.ID, run.Repo, run.PRNumber, "sha1", "", nil, 1, time.Now())
	pr = pr.UpsertFilePreview(model.FilePreview{File: "c.go", Ready: true}, time.Now())
	require.NoError(t, db.PatchRequests().Create(ctx, pr))

	worker := &pipeline.AutofixWorker{
		Runs:          db.PRRuns(),
		PatchRequests: db.PatchRequests(),
		Installations: db.Installations(),
		Users:         db.Users(),
		Notifications: db.Notifications(),
		Queue:         kv,
		TokenSource:   func(int64) (oauth2.TokenSource, error) { t.Fatal("should not check out a workspace"); return nil, nil },
		RemoteURL:     func(string) string { return "" },
	}

	require.NoError(t, worker.PreviewFile(ctx, pr.ID, "c.go"))
}

func TestAutofixWorker_PreviewFile_FailsPatchRequestOnQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()

	user := model.User{ID: "user-1", TokenLimit: 0, TokensUsed: 0}
	require.NoError(t, db.Users().Update(ctx, user))

	run := setupAutofixRun(t, db, "", "sha1", nil)
	pr := model.NewPatchRequest("pr-3", run.ID, run.Repo, run.PRNumber, "sha1", "user-1", nil, 1, time.Now())
	require.NoError(t, db.PatchRequests().Create(ctx, pr))

	worker := &pipeline.AutofixWorker{
		Runs:          db.PRRuns(),
		PatchRequests: db.PatchRequests(),
		Installations: db.Installations(),
		Users:         db.Users(),
		Notifications: db.Notifications(),
		Queue:         kv,
		TokenSource:   func(int64) (oauth2.TokenSource, error) { t.Fatal("should not check out a workspace"); return nil, nil },
		RemoteURL:     func(string) string { return "" },
	}

	require.NoError(t, worker.PreviewFile(ctx, pr.ID, "c.go"))

	got, err := db.PatchRequests().Get(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatchFailed, got.Status)

	notes, err := db.Notifications().ListForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "quota_exceeded", notes[0].Kind)
}

func TestAutofixWorker_Apply_CommitModeOpensPR(t *testing.T) {
	ctx := context.Background()
	repoDir, _, second := initRemoteRepo(t)

	db := store.NewMemory()
	kv := queue.NewMemoryKVStore()

	inst := model.Installation{ID: "inst-1", ExternalID: 42, Owner: "acme", Config: model.InstallationConfig{Mode: model.ModeCommit}}
	require.NoError(t, db.Installations().Upsert(ctx, inst))

	finding := model.Finding{File: "b.go", Line: 3, Rule: "http-not-https", Severity: model.SeverityMedium}
	finding = finding.Normalize()
	run := setupAutofixRun(t, db, repoDir, second, []model.Finding{finding})

	pr := model.NewPatchRequest("pr-4", run.ID, run.Repo, run.PRNumber, second, "", []string{finding.ID}, 1, time.Now())
	pr = pr.UpsertFilePreview(model.FilePreview{
		File: "b.go", Ready: true, AIRewritten: true,
		ImprovedText: "package a\n\nvar b = 2\n",
	}, time.Now())
	require.Equal(t, model.PatchPreviewReady, pr.Status)
	require.NoError(t, db.PatchRequests().Create(ctx, pr))

	host := &fakePRHost{defaultBranch: "main", nextPRNumber: 9, nextPRURL: "https://example.com/pr/9"}
	worker := &pipeline.AutofixWorker{
		Runs:          db.PRRuns(),
		PatchRequests: db.PatchRequests(),
		Installations: db.Installations(),
		Users:         db.Users(),
		Notifications: db.Notifications(),
		Queue:         kv,
		TokenSource:   func(int64) (oauth2.TokenSource, error) { return staticTokenSource(""), nil },
		RemoteURL:     func(string) string { return repoDir },
		Host:          host,
	}

	require.NoError(t, worker.Apply(ctx, pr.ID))

	got, err := db.PatchRequests().Get(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PatchCompleted, got.Status)
	assert.Equal(t, 9, got.Results.FixPRNumber)
	assert.Equal(t, "https://example.com/pr/9", got.Results.FixPRURL)
	assert.Contains(t, got.Results.Applied, "b.go")
}
