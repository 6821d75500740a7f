// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

// AnalyzeJobPayload is the payload of an `analyze` queue job (spec §4.6
// analyzer worker).
type AnalyzeJobPayload struct {
	RunID          string `json:"runId"`
	InstallationID int64  `json:"installationId"`
}

// PreviewFileJobPayload is the payload of a `preview_file` autofix queue
// job (spec §4.5.4, §4.6).
type PreviewFileJobPayload struct {
	PatchRequestID string `json:"patchRequestId"`
	File           string `json:"file"`
}

// ApplyJobPayload is the payload of an `apply` queue job (spec §4.5.5,
// §4.6).
type ApplyJobPayload struct {
	PatchRequestID string `json:"patchRequestId"`
}
