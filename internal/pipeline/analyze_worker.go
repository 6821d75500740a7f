// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/peerci/reviewbot/internal/analyzer"
	"github.com/peerci/reviewbot/internal/autofix"
	"github.com/peerci/reviewbot/internal/metrics"
	"github.com/peerci/reviewbot/internal/model"
	"github.com/peerci/reviewbot/internal/orchestrator"
	"github.com/peerci/reviewbot/internal/queue"
	"github.com/peerci/reviewbot/internal/store"
	"github.com/peerci/reviewbot/internal/workspace"
)

// runLookupBackoff implements spec §4.6 "locate PRRun (5-attempt
// exponential backoff since the row may be milliseconds fresh)": the
// analyze job can be dequeued before a just-created PRRun is visible to a
// read replica or a not-yet-flushed cache.
var runLookupBackoff = []time.Duration{10 * time.Millisecond, 25 * time.Millisecond, 50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

// TokenSourceFunc resolves a git/host access token for an installation.
type TokenSourceFunc func(installationID int64) (oauth2.TokenSource, error)

// RemoteURLFunc resolves the clone URL for a repo (owner/name form).
type RemoteURLFunc func(repo string) string

// AnalyzeWorker implements the `analyze` queue handler of spec §4.6: locate
// the PRRun, check out the workspace, run the orchestrator, persist
// filtered findings, and - for commit/merge installations - seed a
// PatchRequest and enqueue its preview.
type AnalyzeWorker struct {
	Runs          store.PRRunStore
	Installations store.InstallationStore
	PatchRequests store.PatchRequestStore
	Queue         queue.KVStore
	Registry      []analyzer.Analyzer
	TokenSource   TokenSourceFunc
	RemoteURL     RemoteURLFunc
	Now           Clock
	Sleep         autofix.Sleeper

	// PreviewInitialMaxFiles caps how many preview_file jobs a patch
	// request fans out up front (spec §4.5.4 step 6, default 30); the rest
	// sit in PendingFiles and are admitted one-at-a-time by AutofixWorker
	// as earlier files finish. Zero means no cap.
	PreviewInitialMaxFiles int
}

func (w *AnalyzeWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *AnalyzeWorker) sleep(d time.Duration) {
	if w.Sleep != nil {
		w.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Handle is a queue.Handler for the `analyze` queue.
func (w *AnalyzeWorker) Handle(ctx context.Context, job queue.Job) error {
	var payload AnalyzeJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decoding analyze job payload: %w", err)
	}
	return w.Run(ctx, payload)
}

// Run performs one analyze job. It is idempotent: a run already past
// `queued` (a redelivered job racing a prior successful attempt) is a
// no-op success rather than an error, satisfying spec §4.1's "handlers
// must be idempotent against their target entity" for at-least-once
// delivery.
func (w *AnalyzeWorker) Run(ctx context.Context, payload AnalyzeJobPayload) error {
	log := clog.FromContext(ctx).With("runId", payload.RunID)

	run, err := w.lookupRunWithBackoff(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("locating PRRun %s: %w", payload.RunID, err)
	}

	if run.Status != model.RunQueued {
		log.Infof("run already in status %q, skipping (idempotent redelivery)", run.Status)
		return nil
	}

	inst, err := w.Installations.GetByExternalID(ctx, payload.InstallationID)
	if err != nil {
		return fmt.Errorf("looking up installation %d: %w", payload.InstallationID, err)
	}

	run, err = run.Start(w.now())
	if err != nil {
		return fmt.Errorf("starting run: %w", err)
	}
	if err := w.Runs.Update(ctx, run); err != nil {
		return fmt.Errorf("persisting running status: %w", err)
	}

	findings, runErr := w.analyze(ctx, run)
	if runErr != nil {
		log.Warnf("analysis failed: %v", runErr)
		run = run.Fail(runErr.Error(), w.now())
		metrics.RunsProcessed.WithLabelValues(string(model.RunFailed)).Inc()
		if err := w.Runs.Update(ctx, run); err != nil {
			return fmt.Errorf("persisting failed status: %w", err)
		}
		return nil
	}

	filtered := filterBySeverity(findings, inst.Config)
	run, err = run.Complete(filtered, w.now())
	if err != nil {
		return fmt.Errorf("completing run: %w", err)
	}
	metrics.RunsProcessed.WithLabelValues(string(model.RunCompleted)).Inc()
	if err := w.Runs.Update(ctx, run); err != nil {
		return fmt.Errorf("persisting completed run: %w", err)
	}

	if inst.Config.Mode == model.ModeCommit || inst.Config.Mode == model.ModeMerge {
		if err := w.seedPatchRequest(ctx, run); err != nil {
			return fmt.Errorf("seeding patch request: %w", err)
		}
	}
	return nil
}

func (w *AnalyzeWorker) lookupRunWithBackoff(ctx context.Context, id string) (model.PRRun, error) {
	var lastErr error
	for _, delay := range append([]time.Duration{0}, runLookupBackoff...) {
		if delay > 0 {
			w.sleep(delay)
		}
		run, err := w.Runs.Get(ctx, id)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return model.PRRun{}, err
		}
		lastErr = err
	}
	return model.PRRun{}, lastErr
}

func (w *AnalyzeWorker) analyze(ctx context.Context, run model.PRRun) ([]model.Finding, error) {
	tokenSource, err := w.TokenSource(run.InstallationID)
	if err != nil {
		return nil, fmt.Errorf("resolving token source: %w", err)
	}
	remoteURL := w.RemoteURL(run.Repo)

	ws, err := workspace.Checkout(ctx, tokenSource, remoteURL, run.SHA)
	if err != nil {
		return nil, fmt.Errorf("checking out workspace: %w", err)
	}
	defer func() {
		if cerr := ws.Cleanup(); cerr != nil {
			clog.FromContext(ctx).Warnf("cleaning up analyze workspace: %v", cerr)
		}
	}()

	changed, err := ws.ChangedFiles(ctx, run.BaseSHA)
	if err != nil {
		return nil, fmt.Errorf("computing changed files: %w", err)
	}

	result := orchestrator.Run(ctx, w.Registry, ws.Dir(), changed)
	return result.Findings, nil
}

func filterBySeverity(findings []model.Finding, cfg model.InstallationConfig) []model.Finding {
	if len(cfg.Severities) == 0 {
		return findings
	}
	out := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		if cfg.RetainsSeverity(f.Severity) {
			out = append(out, f)
		}
	}
	return out
}

// seedPatchRequest implements spec §4.6 "create a PatchRequest
// pre-populated with all finding ids and enqueue a preview job", fanning
// out one `preview_file` job per distinct changed file carrying findings.
func (w *AnalyzeWorker) seedPatchRequest(ctx context.Context, run model.PRRun) error {
	byFile := make(map[string][]string)
	var order []string
	var allIDs []string
	for _, f := range run.Findings {
		if _, ok := byFile[f.File]; !ok {
			order = append(order, f.File)
		}
		byFile[f.File] = append(byFile[f.File], f.ID)
		allIDs = append(allIDs, f.ID)
	}
	if len(order) == 0 {
		return nil
	}

	now := w.now()
	pr := model.NewPatchRequest(uuid.NewString(), run.ID, run.Repo, run.PRNumber, run.SHA, "", allIDs, len(order), now)

	immediate := order
	if max := w.PreviewInitialMaxFiles; max > 0 && len(order) > max {
		immediate = order[:max]
		pr.PendingFiles = append(model.PendingFiles(nil), order[max:]...)
	}

	if err := w.PatchRequests.Create(ctx, pr); err != nil {
		return fmt.Errorf("creating patch request: %w", err)
	}

	for _, file := range immediate {
		job, err := queue.NewJob(queue.Autofix, "preview_file", PreviewFileJobPayload{PatchRequestID: pr.ID, File: file}, now)
		if err != nil {
			return fmt.Errorf("building preview_file job for %s: %w", file, err)
		}
		if err := w.Queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueuing preview_file job for %s: %w", file, err)
		}
	}
	return nil
}
