// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/peerci/reviewbot/internal/autofix"
	"github.com/peerci/reviewbot/internal/llm"
	"github.com/peerci/reviewbot/internal/metrics"
	"github.com/peerci/reviewbot/internal/model"
	"github.com/peerci/reviewbot/internal/queue"
	"github.com/peerci/reviewbot/internal/store"
	"github.com/peerci/reviewbot/internal/workspace"
)

// AutofixWorker implements the two autofix-queue handlers of spec §4.6:
// `preview_file` (per-file preview assembly, §4.5.4) and `apply`
// (materialize the preview as a branch/PR, §4.5.5), plus the quota gate
// that can fail a patch request before any preview work starts (§4.4).
type AutofixWorker struct {
	Runs          store.PRRunStore
	PatchRequests store.PatchRequestStore
	Installations store.InstallationStore
	Users         store.UserStore
	Notifications store.NotificationStore
	Queue         queue.KVStore

	Transformers map[string]autofix.Transformer
	Router       *llm.Router
	PreviewOpts  autofix.PreviewOptions

	// PreviewTimeBudget bounds how long a single file's preview assembly
	// (deterministic transforms + optional LLM call) may run before it is
	// abandoned (spec §4.5.4 step 6, §6 PREVIEW_TIME_BUDGET_MS). Zero means
	// no deadline.
	PreviewTimeBudget time.Duration

	TokenSource TokenSourceFunc
	RemoteURL   RemoteURLFunc
	Host        autofix.PRHost

	Now time.Time
	Clk Clock
}

func (w *AutofixWorker) now() time.Time {
	if w.Clk != nil {
		return w.Clk()
	}
	return time.Now()
}

// HandlePreviewFile is a queue.Handler for the `autofix` queue's
// `preview_file` jobs.
func (w *AutofixWorker) HandlePreviewFile(ctx context.Context, job queue.Job) error {
	var payload PreviewFileJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decoding preview_file job payload: %w", err)
	}
	return w.PreviewFile(ctx, payload.PatchRequestID, payload.File)
}

// PreviewFile implements spec §4.5.4: clone a workspace at the patch
// request's sha (idempotent against redelivery - if this file is already
// marked ready, the job is a no-op), run the quota gate once per patch
// request, assemble the file's preview, and upsert it into the
// PatchRequest, advancing status monotonically.
func (w *AutofixWorker) PreviewFile(ctx context.Context, patchRequestID, file string) error {
	log := clog.FromContext(ctx).With("patchRequest", patchRequestID).With("file", file)

	pr, err := w.PatchRequests.Get(ctx, patchRequestID)
	if err != nil {
		return fmt.Errorf("loading patch request %s: %w", patchRequestID, err)
	}
	if pr.Status == model.PatchFailed || pr.Status == model.PatchCompleted {
		log.Infof("patch request already in terminal status %q, skipping", pr.Status)
		return nil
	}
	if existing := findFilePreview(pr, file); existing != nil && existing.Ready {
		log.Info("file already previewed, skipping (idempotent redelivery)")
		return nil
	}

	if pr.UserID != "" {
		if err := w.gateQuota(ctx, pr); err != nil {
			return w.failPatchRequest(ctx, pr, err.Error())
		}
	}

	run, err := w.Runs.Get(ctx, pr.RunID)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", pr.RunID, err)
	}

	tokenSource, err := w.TokenSource(run.InstallationID)
	if err != nil {
		return fmt.Errorf("resolving token source: %w", err)
	}
	ws, err := workspace.Checkout(ctx, tokenSource, w.RemoteURL(pr.Repo), pr.SHA)
	if err != nil {
		return fmt.Errorf("checking out workspace: %w", err)
	}
	defer func() {
		if cerr := ws.Cleanup(); cerr != nil {
			log.Warnf("cleaning up preview workspace: %v", cerr)
		}
	}()

	selected := make(map[string]bool, len(pr.SelectedFindingIDs))
	for _, id := range pr.SelectedFindingIDs {
		selected[id] = true
	}
	var fileFindings []model.Finding
	for _, f := range run.Findings {
		if f.File == file && selected[f.ID] {
			fileFindings = append(fileFindings, f)
		}
	}

	previewCtx := ctx
	if w.PreviewTimeBudget > 0 {
		var cancel context.CancelFunc
		previewCtx, cancel = context.WithTimeout(ctx, w.PreviewTimeBudget)
		defer cancel()
	}
	fp := autofix.PreviewFile(previewCtx, w.Transformers, w.Router, ws.Dir(), file, fileFindings, w.PreviewOpts)

	pr = pr.UpsertFilePreview(fp, w.now())
	pr.Preview.UnifiedDiff = combineUnifiedDiffs(pr.Preview.Files)

	var nextFile string
	var admitNext bool
	nextFile, pr.PendingFiles, admitNext = pr.PendingFiles.Pop()

	if err := w.PatchRequests.Update(ctx, pr); err != nil {
		return fmt.Errorf("persisting file preview: %w", err)
	}

	if admitNext {
		job, err := queue.NewJob(queue.Autofix, "preview_file", PreviewFileJobPayload{PatchRequestID: pr.ID, File: nextFile}, w.now())
		if err != nil {
			return fmt.Errorf("building preview_file job for %s: %w", nextFile, err)
		}
		if err := w.Queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueuing preview_file job for %s: %w", nextFile, err)
		}
	}

	if pr.Status == model.PatchPreviewReady {
		return w.onPreviewReady(ctx, pr)
	}
	return nil
}

func findFilePreview(pr model.PatchRequest, file string) *model.FilePreview {
	for i := range pr.Preview.Files {
		if pr.Preview.Files[i].File == file {
			return &pr.Preview.Files[i]
		}
	}
	return nil
}

func combineUnifiedDiffs(files []model.FilePreview) string {
	var out string
	for _, f := range files {
		if f.Skipped || !f.Ready || f.UnifiedDiff == "" {
			continue
		}
		out += f.UnifiedDiff
	}
	return out
}

// gateQuota implements spec §4.4's quota gate: looked up once per file job
// (cheap, idempotent) so a user that runs out of budget mid-preview fails
// fast rather than after every file has already been computed.
func (w *AutofixWorker) gateQuota(ctx context.Context, pr model.PatchRequest) error {
	user, err := w.Users.Get(ctx, pr.UserID)
	if err != nil {
		return fmt.Errorf("loading user %s: %w", pr.UserID, err)
	}
	const estimate = 2000 // conservative flat per-file estimate, spec Scenario E
	if err := llm.Gate(user, estimate); err != nil {
		if err := w.Notifications.Create(ctx, model.Notification{
			ID: pr.ID, UserID: user.ID, Kind: "quota_exceeded",
			Message: err.Error(),
		}); err != nil {
			clog.FromContext(ctx).Warnf("creating quota notification: %v", err)
		}
		return fmt.Errorf("token_limit_exceeded")
	}
	return nil
}

func (w *AutofixWorker) failPatchRequest(ctx context.Context, pr model.PatchRequest, reason string) error {
	pr = pr.Fail(reason, w.now())
	metrics.PatchRequestOutcomes.WithLabelValues(string(model.PatchFailed), reason).Inc()
	if err := w.PatchRequests.Update(ctx, pr); err != nil {
		return fmt.Errorf("persisting failed patch request: %w", err)
	}
	return nil
}

// onPreviewReady enqueues the apply job once every planned file has a
// ready preview (spec §4.5.4 final step).
func (w *AutofixWorker) onPreviewReady(ctx context.Context, pr model.PatchRequest) error {
	job, err := queue.NewJob(queue.Apply, "apply", ApplyJobPayload{PatchRequestID: pr.ID}, w.now())
	if err != nil {
		return fmt.Errorf("building apply job: %w", err)
	}
	return w.Queue.Enqueue(ctx, job)
}

// HandleApply is a queue.Handler for the `apply` queue.
func (w *AutofixWorker) HandleApply(ctx context.Context, job queue.Job) error {
	var payload ApplyJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decoding apply job payload: %w", err)
	}
	return w.Apply(ctx, payload.PatchRequestID)
}

// Apply implements spec §4.5.5/§4.6: re-clone at sha, write every prepared
// file, commit, push, optionally open a PR, and - for merge mode - run the
// auto-merge gate immediately rather than waiting for an approving review.
func (w *AutofixWorker) Apply(ctx context.Context, patchRequestID string) error {
	log := clog.FromContext(ctx).With("patchRequest", patchRequestID)

	pr, err := w.PatchRequests.Get(ctx, patchRequestID)
	if err != nil {
		return fmt.Errorf("loading patch request %s: %w", patchRequestID, err)
	}
	if pr.Status == model.PatchCompleted || pr.Status == model.PatchFailed {
		log.Infof("patch request already in terminal status %q, skipping apply (idempotent redelivery)", pr.Status)
		return nil
	}

	pr, err = pr.StartApplying(w.now())
	if err != nil {
		return fmt.Errorf("starting apply: %w", err)
	}
	if err := w.PatchRequests.Update(ctx, pr); err != nil {
		return fmt.Errorf("persisting applying status: %w", err)
	}

	run, err := w.Runs.Get(ctx, pr.RunID)
	if err != nil {
		return fmt.Errorf("loading run %s: %w", pr.RunID, err)
	}
	inst, err := w.Installations.GetByExternalID(ctx, run.InstallationID)
	if err != nil {
		return fmt.Errorf("looking up installation %d: %w", run.InstallationID, err)
	}

	tokenSource, err := w.TokenSource(run.InstallationID)
	if err != nil {
		return fmt.Errorf("resolving token source: %w", err)
	}

	result, applyErr := autofix.Apply(ctx, tokenSource, w.Host, w.RemoteURL(pr.Repo), pr, inst.Config.Mode, w.now)
	if applyErr != nil {
		log.Warnf("apply failed: %v", applyErr)
		pr = pr.Fail(applyErr.Error(), w.now())
		metrics.PatchRequestOutcomes.WithLabelValues(string(model.PatchFailed), "apply_failed").Inc()
		return w.persistFailed(ctx, pr)
	}
	pr.Results = result.Results

	if inst.Config.Mode == model.ModeMerge && result.FixPRNumber != 0 {
		gateResult, gateErr := autofix.EvaluateGate(ctx, w.Host, pr.Repo, result.FixPRNumber, result.CommitSHA, inst.Config.AutoMerge, "merge", nil)
		if gateErr != nil {
			log.Warnf("auto-merge gate evaluation failed: %v", gateErr)
		} else {
			pr.Results.AutoMerged = gateResult.Merged
			pr.Results.AutoMergeReason = gateResult.Reason
		}
	}

	pr, err = pr.Complete(pr.Results, w.now())
	if err != nil {
		return fmt.Errorf("completing patch request: %w", err)
	}
	metrics.PatchRequestOutcomes.WithLabelValues(string(model.PatchCompleted), "").Inc()
	if err := w.PatchRequests.Update(ctx, pr); err != nil {
		return fmt.Errorf("persisting completed patch request: %w", err)
	}

	// Per spec §4.5.6, finding.fixed only flips on confirmed auto-merge
	// success; a commit-mode fix PR remains proposed-but-unfixed until a
	// human merges it (no webhook observes that event in this system).
	if pr.Results.AutoMerged {
		run = autofix.ApplyMergeOutcome(run, pr, w.now())
		if err := w.Runs.Update(ctx, run); err != nil {
			return fmt.Errorf("persisting finding fixed state: %w", err)
		}
	}
	return nil
}

func (w *AutofixWorker) persistFailed(ctx context.Context, pr model.PatchRequest) error {
	if err := w.PatchRequests.Update(ctx, pr); err != nil {
		return fmt.Errorf("persisting failed patch request: %w", err)
	}
	return nil
}
