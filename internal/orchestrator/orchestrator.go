// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator runs the registered analyzers over a workspace's
// changed files, then de-duplicates, ranks, and summarizes their findings
// (spec §4.3).
package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/chainguard-dev/clog"

	"github.com/peerci/reviewbot/internal/analyzer"
	"github.com/peerci/reviewbot/internal/metrics"
	"github.com/peerci/reviewbot/internal/model"
)

// Result is the output of Orchestrate (spec §3, §4.3 "{ findings, summary }").
type Result struct {
	Findings []model.Finding
	Summary  model.Summary
}

// Run invokes every registered analyzer concurrently over workdir and
// candidateFiles, then orchestrates the combined findings. An analyzer that
// errors or panics contributes no findings and never fails the run (spec
// §4.3 "an analyzer failure yields [] and a warn log, never propagating").
func Run(ctx context.Context, registry []analyzer.Analyzer, workdir string, candidateFiles []string) Result {
	log := clog.FromContext(ctx)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		pooled  []model.Finding
	)

	for _, a := range registry {
		wg.Add(1)
		go func(a analyzer.Analyzer) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.With("analyzer", a.Name()).Warnf("analyzer panicked: %v", r)
					metrics.AnalyzerFailures.WithLabelValues(a.Name()).Inc()
				}
			}()

			findings, err := a.Analyze(ctx, workdir, candidateFiles)
			if err != nil {
				log.With("analyzer", a.Name()).Warnf("analyzer failed: %v", err)
				metrics.AnalyzerFailures.WithLabelValues(a.Name()).Inc()
				return
			}

			mu.Lock()
			pooled = append(pooled, findings...)
			mu.Unlock()
		}(a)
	}
	wg.Wait()

	return Orchestrate(pooled)
}

// Orchestrate de-duplicates, ranks, and summarizes a pooled finding list
// from possibly multiple analyzers (spec §4.3 steps 1-3).
func Orchestrate(findings []model.Finding) Result {
	normalized := make([]model.Finding, len(findings))
	for i, f := range findings {
		normalized[i] = f.Normalize()
	}

	deduped := dedupe(normalized)
	sort.SliceStable(deduped, func(i, j int) bool {
		a, b := deduped[i], deduped[j]
		if a.SeverityWeight != b.SeverityWeight {
			return a.SeverityWeight > b.SeverityWeight
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})

	return Result{Findings: deduped, Summary: model.SummarizeFindings(deduped)}
}

// dedupe collapses findings sharing a (file, line, rule) key, preferring
// the higher severityWeight and, on a tie, the finding with the more
// specific source string (spec §4.3 step 1).
func dedupe(findings []model.Finding) []model.Finding {
	best := make(map[model.FindingKey]model.Finding, len(findings))
	order := make([]model.FindingKey, 0, len(findings))

	for _, f := range findings {
		key := f.Key()
		existing, ok := best[key]
		if !ok {
			best[key] = f
			order = append(order, key)
			continue
		}
		if betterFinding(f, existing) {
			best[key] = f
		}
	}

	out := make([]model.Finding, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// betterFinding reports whether candidate should replace current as the
// winning finding for a shared (file, line, rule) key.
func betterFinding(candidate, current model.Finding) bool {
	if candidate.SeverityWeight != current.SeverityWeight {
		return candidate.SeverityWeight > current.SeverityWeight
	}
	return len(candidate.Source) > len(current.Source)
}
