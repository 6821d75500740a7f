// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package analyzer defines the analyzer contract and the registry of
// heuristic, external-tool, and AI analyzers the orchestrator dispatches
// over a checked-out workspace (spec §4.3).
package analyzer

import (
	"context"

	"github.com/peerci/reviewbot/internal/model"
)

// Analyzer maps (workdir, candidateFiles) to a list of findings. An
// analyzer must not mutate workdir and must tolerate unreadable files by
// skipping them silently (spec §4.3 contracts).
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, workdir string, candidateFiles []string) ([]model.Finding, error)
}
