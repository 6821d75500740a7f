// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package autofix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/peerci/reviewbot/internal/llm"
	"github.com/peerci/reviewbot/internal/model"
)

// DefaultMaxPatchesPerFile is the default cap on LLM minimal patches
// applied to a single file (spec §4.5.2 step 3).
const DefaultMaxPatchesPerFile = 5

// minimalPatch is one element of the LLM's minimal-strategy JSON response
// (spec §4.5.2 "[{findingId, line, newCode, reason, warn?, type?}]").
type minimalPatch struct {
	FindingID    string `json:"findingId"`
	Line         int    `json:"line"`
	NewCode      string `json:"newCode"`
	Reason       string `json:"reason"`
	Warn         string `json:"warn,omitempty"`
	Type         string `json:"type,omitempty"`
	MultiLineOK  bool   `json:"multiLine,omitempty"`
}

const minimalStrategySystemPrompt = `You fix source code issues with single-line patches. Given file content and a
list of findings, return a JSON array of objects: findingId, line (1-based), newCode (the
replacement for that exact line), reason (short), and optionally warn. Do not change any
other line. Return "[]" if nothing can be safely fixed this way.`

// RunMinimalStrategy prompts router for single-line patches, then applies
// each one that passes validation: checksum the original line, cap at
// maxPatches, and reject multi-line output unless allowMultiLine (spec
// §4.5.2).
func RunMinimalStrategy(ctx context.Context, router *llm.Router, file, content string, findings []model.Finding, maxPatches int, allowMultiLine bool) (hunks []model.Hunk, newContent string, err error) {
	if maxPatches <= 0 {
		maxPatches = DefaultMaxPatchesPerFile
	}
	lines, eol := splitLines(content)

	user := fmt.Sprintf("File: %s\n\n%s\n\nFindings:\n%s", file, content, encodeFindingsForPrompt(findings))
	resp, err := router.Call(ctx, llm.RewriteRequest{
		System: minimalStrategySystemPrompt, User: user,
		FilePath: file, FileContent: content, Findings: findings,
	})
	if err != nil {
		return nil, content, fmt.Errorf("minimal strategy llm call: %w", err)
	}

	var patches []minimalPatch
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &patches); err != nil {
		return nil, content, fmt.Errorf("parsing minimal patches: %w", err)
	}

	out := make([]string, len(lines))
	copy(out, lines)
	applied := 0

	for _, p := range patches {
		if applied >= maxPatches {
			hunks = append(hunks, model.Hunk{Line: p.Line, FindingID: p.FindingID, Failed: true, FailReason: "max_patches_per_file_exceeded"})
			continue
		}
		if p.Line < 1 || p.Line > len(lines) {
			hunks = append(hunks, model.Hunk{Line: p.Line, FindingID: p.FindingID, Failed: true, FailReason: "line out of range"})
			continue
		}
		if strings.Contains(p.NewCode, "\n") && !(allowMultiLine && p.MultiLineOK) {
			hunks = append(hunks, model.Hunk{Line: p.Line, FindingID: p.FindingID, Failed: true, FailReason: "multi_line_not_allowed"})
			continue
		}

		original := lines[p.Line-1]
		replacement := p.NewCode + " " + fixComment(file, p.Reason)
		triple := []string{replacement}
		if p.Warn != "" {
			triple = append(triple, warnComment(file, p.Warn))
		}
		triple = append(triple, oldComment(file, original))

		out[p.Line-1] = strings.Join(triple, eol)
		hunks = append(hunks, model.Hunk{
			Line: p.Line, FindingID: p.FindingID,
			OriginalLine: original, NewLine: replacement,
			Reason: p.Reason, Warn: p.Warn,
			OriginalChecksum: sha1Hex(original),
		})
		applied++
	}

	return hunks, joinLines(out, eol), nil
}

func lineComment(file, text string) string {
	style := commentStyleFor(file)
	if style.blockStart != "" {
		return style.blockStart + " " + text + " " + style.blockEnd
	}
	return style.linePrefix + " " + text
}

func fixComment(file, reason string) string { return lineComment(file, "FIX: "+reason) }
func oldComment(file, original string) string {
	return lineComment(file, "OLD: "+strings.TrimRight(original, "\r"))
}
func warnComment(file, warn string) string { return lineComment(file, "WARN: "+warn) }

func encodeFindingsForPrompt(findings []model.Finding) string {
	raw, err := json.Marshal(findings)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
