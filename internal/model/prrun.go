// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a PRRun (spec §3).
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// PRRunKey is the globally unique identity of a PRRun (spec §3 invariant,
// §8 invariant 3).
type PRRunKey struct {
	Repo      string
	PRNumber  int
	SHA       string
}

func (k PRRunKey) String() string {
	return fmt.Sprintf("%s#%d@%s", k.Repo, k.PRNumber, k.SHA)
}

// PRRun is one analysis attempt for a (repo, prNumber, sha) triple.
type PRRun struct {
	ID             string    `json:"id"`
	Repo           string    `json:"repo"`
	PRNumber       int       `json:"prNumber"`
	SHA            string    `json:"sha"`
	BaseSHA        string    `json:"baseSha"`
	HeadRef        string    `json:"headRef"`
	InstallationID int64     `json:"installationId"`
	Status         RunStatus `json:"status"`
	Findings       []Finding `json:"findings"`
	Summary        Summary   `json:"summary"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (k PRRunKey) Of(r PRRun) bool {
	return r.Repo == k.Repo && r.PRNumber == k.PRNumber && r.SHA == k.SHA
}

// Key returns the run's unique (repo, prNumber, sha) key.
func (r PRRun) Key() PRRunKey {
	return PRRunKey{Repo: r.Repo, PRNumber: r.PRNumber, SHA: r.SHA}
}

// NewPRRun constructs a freshly queued run. The analyzer worker is the sole
// writer after this point (spec §5 ordering guarantees).
func NewPRRun(id string, key PRRunKey, installationID int64, baseSHA, headRef string, now time.Time) PRRun {
	return PRRun{
		ID:             id,
		Repo:           key.Repo,
		PRNumber:       key.PRNumber,
		SHA:            key.SHA,
		BaseSHA:        baseSHA,
		HeadRef:        headRef,
		InstallationID: installationID,
		Status:         RunQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Start transitions queued -> running. It is an error to start a run that
// is not queued (a worker retrying a job must be idempotent, but should not
// re-run analysis that already completed — see handler idempotency note in
// DESIGN.md).
func (r PRRun) Start(now time.Time) (PRRun, error) {
	if r.Status != RunQueued {
		return r, fmt.Errorf("cannot start run in status %q", r.Status)
	}
	r.Status = RunRunning
	r.UpdatedAt = now
	return r, nil
}

// Complete transitions running -> completed, recording findings and summary.
func (r PRRun) Complete(findings []Finding, now time.Time) (PRRun, error) {
	if r.Status != RunRunning {
		return r, fmt.Errorf("cannot complete run in status %q", r.Status)
	}
	r.Findings = findings
	r.Summary = SummarizeFindings(findings)
	r.Status = RunCompleted
	r.UpdatedAt = now
	return r, nil
}

// Fail transitions running -> failed, recording an error reason.
func (r PRRun) Fail(reason string, now time.Time) PRRun {
	r.Status = RunFailed
	r.Error = reason
	r.UpdatedAt = now
	return r
}

// MarkFindingFixed returns a copy of r with the named finding IDs marked
// fixed by the given patch request (spec §4.5.6, §8 invariant 5).
func (r PRRun) MarkFindingFixed(ids []string, patchRequestID string, now time.Time) PRRun {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	out := make([]Finding, len(r.Findings))
	for i, f := range r.Findings {
		if set[f.ID] {
			f = f.WithFixed(patchRequestID, now)
		}
		out[i] = f
	}
	r.Findings = out
	r.UpdatedAt = now
	return r
}
