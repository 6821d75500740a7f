// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"
	"time"
)

// PatchStatus is the lifecycle state of a PatchRequest (spec §4.5.4).
type PatchStatus string

const (
	PatchQueued         PatchStatus = "queued"
	PatchPreviewPartial PatchStatus = "preview_partial"
	PatchPreviewReady   PatchStatus = "preview_ready"
	PatchApplying       PatchStatus = "applying"
	PatchCompleted      PatchStatus = "completed"
	PatchFailed         PatchStatus = "failed"
)

// Hunk is one deterministic or LLM-produced line-level change within a
// file preview.
type Hunk struct {
	Line              int    `json:"line"`
	FindingID         string `json:"findingId"`
	OriginalLine      string `json:"originalLine"`
	NewLine           string `json:"newLine"`
	Reason            string `json:"reason"`
	Warn              string `json:"warn,omitempty"`
	OriginalChecksum  string `json:"originalChecksum"`
	Failed            bool   `json:"failed"`
	FailReason        string `json:"failReason,omitempty"`
	RequiresAsync     bool   `json:"requiresAsync,omitempty"`
}

// FilePreview is the per-file preview artifact of spec §3.
type FilePreview struct {
	File           string   `json:"file"`
	Ready          bool     `json:"ready"`
	Hunks          []Hunk   `json:"hunks"`
	OriginalText   string   `json:"originalText"`
	ImprovedText   string   `json:"improvedText"`
	UnifiedDiff    string   `json:"unifiedDiff"`
	AIRewritten    bool     `json:"aiRewritten"`
	EOL            string   `json:"eol"`
	FindingIDs     []string `json:"findingIds"`
	ChangeSummary  string   `json:"changeSummary"`
	Skipped        bool     `json:"skipped,omitempty"`
	SkipReason     string   `json:"skipReason,omitempty"`
}

// Preview is the patch-level preview artifact of spec §3.
type Preview struct {
	UnifiedDiff   string        `json:"unifiedDiff"`
	Files         []FilePreview `json:"files"`
	FilesExpected int           `json:"filesExpected"`
}

// PendingFiles holds the files a PatchRequest has not yet scheduled for
// preview, per spec §4.5.4 step 6's initial-cap batching: a PR touching
// more files than the initial cap only has its first batch enqueued
// up front, with the rest admitted one-at-a-time as earlier files
// complete.
type PendingFiles []string

// Pop returns the next pending file and the remainder, or ok=false if
// none remain.
func (p PendingFiles) Pop() (file string, rest PendingFiles, ok bool) {
	if len(p) == 0 {
		return "", p, false
	}
	return p[0], p[1:], true
}

// ReadyCount returns the number of files marked ready in the preview.
func (p Preview) ReadyCount() int {
	n := 0
	for _, f := range p.Files {
		if f.Ready {
			n++
		}
	}
	return n
}

// Results records the outcome of the apply phase (spec §3).
type Results struct {
	BranchName      string   `json:"branchName"`
	CommitSHA       string   `json:"commitSha"`
	Applied         []string `json:"applied"`
	Skipped         []string `json:"skipped"`
	Errors          []string `json:"errors"`
	FixPRNumber     int      `json:"fixPrNumber"`
	FixPRURL        string   `json:"fixPrUrl"`
	FixPRSkipped    bool     `json:"fixPrSkipped,omitempty"`
	AutoMerged      bool     `json:"autoMerged"`
	AutoMergeReason string   `json:"autoMergeReason"`
}

// PatchRequest is a request to fix a specific subset of a run's findings.
type PatchRequest struct {
	ID                 string      `json:"id"`
	RunID              string      `json:"runId"`
	Repo               string      `json:"repo"`
	PRNumber           int         `json:"prNumber"`
	SHA                string      `json:"sha"`
	UserID             string      `json:"userId"`
	SelectedFindingIDs []string    `json:"selectedFindingIds"`
	Status             PatchStatus  `json:"status"`
	Preview            Preview      `json:"preview"`
	PendingFiles       PendingFiles `json:"pendingFiles,omitempty"`
	Results            Results      `json:"results"`
	Error              string      `json:"error,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// NewPatchRequest constructs a freshly queued patch request.
func NewPatchRequest(id, runID, repo string, prNumber int, sha, userID string, findingIDs []string, filesExpected int, now time.Time) PatchRequest {
	return PatchRequest{
		ID:                 id,
		RunID:              runID,
		Repo:               repo,
		PRNumber:           prNumber,
		SHA:                sha,
		UserID:             userID,
		SelectedFindingIDs: findingIDs,
		Status:             PatchQueued,
		Preview:            Preview{FilesExpected: filesExpected},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// statusRank gives a monotone ordering for the non-terminal preview states,
// so transitions can never regress from preview_ready back to
// preview_partial (spec §5 ordering guarantees).
func statusRank(s PatchStatus) int {
	switch s {
	case PatchQueued:
		return 0
	case PatchPreviewPartial:
		return 1
	case PatchPreviewReady:
		return 2
	case PatchApplying:
		return 3
	case PatchCompleted:
		return 4
	default:
		return -1
	}
}

// UpsertFilePreview merges a single file's preview result into the patch
// request, preserving discovery order (spec §9 third DESIGN NOTE), and
// advances the status monotonically. File-preview jobs may complete in any
// order (spec §4.1); this method is safe to call concurrently-in-sequence
// by a single owning worker.
func (p PatchRequest) UpsertFilePreview(fp FilePreview, now time.Time) PatchRequest {
	found := false
	for i, existing := range p.Preview.Files {
		if existing.File == fp.File {
			p.Preview.Files[i] = fp
			found = true
			break
		}
	}
	if !found {
		p.Preview.Files = append(p.Preview.Files, fp)
	}

	ready := p.Preview.ReadyCount()
	var next PatchStatus
	switch {
	case ready >= p.Preview.FilesExpected && p.Preview.FilesExpected > 0:
		next = PatchPreviewReady
	default:
		next = PatchPreviewPartial
	}
	if statusRank(next) > statusRank(p.Status) {
		p.Status = next
	}
	p.UpdatedAt = now
	return p
}

// StartApplying transitions preview_ready -> applying.
func (p PatchRequest) StartApplying(now time.Time) (PatchRequest, error) {
	if p.Status != PatchPreviewReady {
		return p, fmt.Errorf("cannot apply patch request in status %q", p.Status)
	}
	p.Status = PatchApplying
	p.UpdatedAt = now
	return p, nil
}

// Complete transitions applying -> completed, recording results.
func (p PatchRequest) Complete(results Results, now time.Time) (PatchRequest, error) {
	if p.Status != PatchApplying {
		return p, fmt.Errorf("cannot complete patch request in status %q", p.Status)
	}
	p.Results = results
	p.Status = PatchCompleted
	p.UpdatedAt = now
	return p, nil
}

// Fail transitions any non-terminal status to failed with a reason. Per
// spec §7, a PatchRequest only fails this way when the git push or PR
// creation itself fails (or a fatal precondition like quota is hit before
// any work starts).
func (p PatchRequest) Fail(reason string, now time.Time) PatchRequest {
	p.Status = PatchFailed
	p.Error = reason
	p.UpdatedAt = now
	return p
}
