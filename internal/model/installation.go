// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package model

// Mode controls how much of the pipeline runs automatically after analysis
// (spec §3).
type Mode string

const (
	ModeAnalyze Mode = "analyze"
	ModeReview  Mode = "review"
	ModeCommit  Mode = "commit"
	ModeMerge   Mode = "merge"
)

// AutoMergeConfig gates the auto-merge step (spec §4.5.6).
type AutoMergeConfig struct {
	Enabled         bool `json:"enabled"`
	RequireTests    bool `json:"requireTests"`
	RequireReviews  int  `json:"requireReviews"`
}

// InstallationConfig is the tenant-controlled policy consumed by the
// pipeline.
type InstallationConfig struct {
	Mode            Mode            `json:"mode"`
	Severities      []Severity      `json:"severities"`
	MaxFilesPerRun  int             `json:"maxFilesPerRun"`
	AutoMerge       AutoMergeConfig `json:"autoMerge"`
}

// RetainsSeverity reports whether s should be kept per the installation's
// severity filter (spec §4.6, analyzer worker "filter by installation's
// severities").
func (c InstallationConfig) RetainsSeverity(s Severity) bool {
	if len(c.Severities) == 0 {
		return true
	}
	for _, want := range c.Severities {
		if want == s {
			return true
		}
	}
	return false
}

// Installation is a tenant's enrollment against a repository or account.
type Installation struct {
	ID       string             `json:"id"`
	ExternalID int64            `json:"installationId"`
	Owner    string             `json:"owner"`
	Config   InstallationConfig `json:"config"`
}
