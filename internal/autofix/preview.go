// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package autofix

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/peerci/reviewbot/internal/llm"
	"github.com/peerci/reviewbot/internal/model"
)

// LLMMode controls when the LLM strategy runs for a file (spec §4.5.4
// step 3).
type LLMMode string

const (
	LLMAlways         LLMMode = "always"
	LLMAuto           LLMMode = "auto"
	LLMUnchangedOnly  LLMMode = "unchanged_only"
)

// Strategy selects minimal-patch or full-rewrite for the LLM pass (spec
// §4.5.2, §4.5.3).
type Strategy string

const (
	StrategyMinimal Strategy = "minimal"
	StrategyFull    Strategy = "full"
)

// PreviewOptions configures PreviewFile.
type PreviewOptions struct {
	Mode           LLMMode
	Strategy       Strategy
	MaxPatches     int
	AllowMultiLine bool
}

// PreviewFile implements the per-file preview pipeline of spec §4.5.4
// steps 1-5: read content, apply deterministic transformers, optionally
// call the LLM, syntax-validate, then compute the file's unified diff.
func PreviewFile(ctx context.Context, transformers map[string]Transformer, router *llm.Router, workdir, file string, findings []model.Finding, opts PreviewOptions) model.FilePreview {
	log := clog.FromContext(ctx).With("file", file)

	if skip, reason := NonCodePattern(file); skip {
		return model.FilePreview{File: file, Skipped: true, SkipReason: reason}
	}

	raw, err := os.ReadFile(filepath.Join(workdir, file))
	if err != nil {
		return model.FilePreview{File: file, Skipped: true, SkipReason: "unreadable file: " + err.Error()}
	}
	original := string(raw)
	_, eol := splitLines(original)

	hunks, improved, changed := ApplyDeterministic(transformers, file, original, findings)
	aiRewritten := false

	needsLLM := opts.Mode == LLMAlways ||
		(opts.Mode == LLMAuto && (!changed || hasFailedHunk(hunks))) ||
		(opts.Mode == LLMUnchangedOnly && !changed)

	if needsLLM && router != nil {
		switch opts.Strategy {
		case StrategyFull:
			rewritten, ok, err := RunFullRewriteStrategy(ctx, router, file, improved, findings)
			if err != nil {
				log.Warnf("full rewrite strategy failed: %v", err)
			} else if ok {
				improved = rewritten
				aiRewritten = true
			}
		default:
			llmHunks, rewritten, err := RunMinimalStrategy(ctx, router, file, improved, findings, opts.MaxPatches, opts.AllowMultiLine)
			if err != nil {
				log.Warnf("minimal strategy failed: %v", err)
			} else {
				hunks = mergeHunks(hunks, llmHunks)
				improved = rewritten
				aiRewritten = true
			}
		}
	}

	if aiRewritten {
		if ok, reason := syntaxCheck(ctx, file, improved); !ok {
			log.Warnf("syntax check failed, discarding llm output: %s", reason)
			hunks = markSyntaxCheckFailed(hunks)
			improved = original
			aiRewritten = false
		}
	}

	findingIDs := make([]string, 0, len(findings))
	for _, f := range findings {
		findingIDs = append(findingIDs, f.ID)
	}

	return model.FilePreview{
		File:          file,
		Ready:         true,
		Hunks:         hunks,
		OriginalText:  original,
		ImprovedText:  improved,
		UnifiedDiff:   UnifiedDiff(file, original, improved),
		AIRewritten:   aiRewritten,
		EOL:           eol,
		FindingIDs:    findingIDs,
		ChangeSummary: changeSummary(hunks, aiRewritten),
	}
}

func hasFailedHunk(hunks []model.Hunk) bool {
	for _, h := range hunks {
		if h.Failed {
			return true
		}
	}
	return false
}

// mergeHunks layers LLM-produced hunks over the deterministic set, keyed
// by line, so an LLM success can supersede a failed deterministic attempt.
func mergeHunks(deterministic, llmHunks []model.Hunk) []model.Hunk {
	byLine := make(map[int]model.Hunk, len(deterministic))
	order := make([]int, 0, len(deterministic))
	for _, h := range deterministic {
		if _, ok := byLine[h.Line]; !ok {
			order = append(order, h.Line)
		}
		byLine[h.Line] = h
	}
	for _, h := range llmHunks {
		if _, ok := byLine[h.Line]; !ok {
			order = append(order, h.Line)
		}
		byLine[h.Line] = h
	}
	out := make([]model.Hunk, 0, len(order))
	for _, line := range order {
		out = append(out, byLine[line])
	}
	return out
}

func markSyntaxCheckFailed(hunks []model.Hunk) []model.Hunk {
	out := make([]model.Hunk, len(hunks))
	for i, h := range hunks {
		h.Failed = true
		h.FailReason = "syntax_check_failed"
		out[i] = h
	}
	return out
}

func changeSummary(hunks []model.Hunk, aiRewritten bool) string {
	if aiRewritten {
		return "AI full-file rewrite"
	}
	applied := 0
	for _, h := range hunks {
		if !h.Failed {
			applied++
		}
	}
	return fmt.Sprintf("%d of %d hunks applied", applied, len(hunks))
}

// syntaxCheck runs an external language checker when available (spec
// §4.5.4 step 4, "the host language runtime's --check mode"). Absence of
// a checker for the language is not a failure.
func syntaxCheck(ctx context.Context, file, content string) (ok bool, reason string) {
	switch filepath.Ext(file) {
	case ".js", ".mjs", ".cjs":
		return runNodeCheck(ctx, file, content)
	default:
		return true, ""
	}
}

func runNodeCheck(ctx context.Context, file, content string) (bool, string) {
	if _, err := exec.LookPath("node"); err != nil {
		return true, ""
	}
	tmp, err := os.CreateTemp("", "peer-syntax-*"+filepath.Ext(file))
	if err != nil {
		return true, ""
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return true, ""
	}
	tmp.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "node", "--check", tmp.Name())
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false, strings.TrimSpace(string(out))
	}
	return true, ""
}
