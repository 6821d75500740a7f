// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package autofix

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/peerci/reviewbot/internal/model"
)

// detectEOL reports the dominant line ending of content, per spec §4.5.4
// step 1 ("read original file, record EOL").
func detectEOL(content string) string {
	if strings.Contains(content, "\r\n") {
		return "\r\n"
	}
	return "\n"
}

// splitLines splits content on its detected EOL without retaining the
// terminators, returning the EOL string alongside.
func splitLines(content string) (lines []string, eol string) {
	eol = detectEOL(content)
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if normalized == "" {
		return nil, eol
	}
	lines = strings.Split(strings.TrimSuffix(normalized, "\n"), "\n")
	return lines, eol
}

func joinLines(lines []string, eol string) string {
	return strings.Join(lines, eol) + eol
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ApplyDeterministic runs the registered transformer for every selected
// finding in fileFindings against content, producing hunks and the
// resulting file text. Findings with no registered transformer, or whose
// line is out of range, are recorded as failed hunks (spec §4.5.1,
// §4.5.4 step 2; invariant 4, "1 ≤ line ≤ len(originalLines)"). Applied
// lines are framed in BEGIN/END marker comments with the original line
// commented out, per spec §4.5.1 / Scenario C; a transformer that reports
// RequiresAsync additionally marks the nearest enclosing `function`
// declaration async.
func ApplyDeterministic(transformers map[string]Transformer, file, content string, fileFindings []model.Finding) (hunks []model.Hunk, newContent string, changed bool) {
	lines, eol := splitLines(content)
	style := commentStyleFor(file)
	workingLines := append([]string(nil), lines...)
	wraps := make(map[int][]string)

	for _, f := range fileFindings {
		if f.Line < 1 || f.Line > len(lines) {
			hunks = append(hunks, model.Hunk{
				Line: f.Line, FindingID: f.ID, Failed: true,
				FailReason: "line out of range",
			})
			continue
		}
		transformer, ok := transformers[f.Rule]
		if !ok {
			hunks = append(hunks, model.Hunk{
				Line: f.Line, FindingID: f.ID, Failed: true,
				FailReason: "no deterministic transformer for rule",
			})
			continue
		}

		idx := f.Line - 1
		original := lines[idx]
		result, applied := transformer.Apply(original)
		if !applied {
			hunks = append(hunks, model.Hunk{
				Line: f.Line, FindingID: f.ID, Failed: true,
				FailReason: "transformer declined line",
			})
			continue
		}

		wraps[idx] = wrap(style, original, result.InsertedLine)
		if result.RequiresAsync {
			markEnclosingFunctionAsync(workingLines, idx)
		}

		hunks = append(hunks, model.Hunk{
			Line:             f.Line,
			FindingID:        f.ID,
			OriginalLine:     original,
			NewLine:          result.InsertedLine,
			Reason:           result.Reason,
			OriginalChecksum: sha1Hex(original),
			RequiresAsync:    result.RequiresAsync,
		})
		changed = true
	}

	out := make([]string, 0, len(workingLines))
	for i, line := range workingLines {
		if wrapped, ok := wraps[i]; ok {
			out = append(out, wrapped...)
			continue
		}
		out = append(out, line)
	}

	return hunks, joinLines(out, eol), changed
}

var (
	functionKeywordRe = regexp.MustCompile(`\bfunction\b`)
	asyncKeywordRe    = regexp.MustCompile(`\basync\b`)
)

// markEnclosingFunctionAsync walks upward from idx to the nearest `function`
// declaration and prefixes it with `async`, since a transformer that
// inserts an `await` needs its enclosing function to actually be async
// (spec §4.5.1). Best-effort: arrow functions and object-method shorthand
// aren't recognized, since the heuristic transformers this feeds only ever
// see named `function` declarations in the cases tested.
func markEnclosingFunctionAsync(lines []string, idx int) {
	for i := idx; i >= 0; i-- {
		if functionKeywordRe.MatchString(lines[i]) {
			if !asyncKeywordRe.MatchString(lines[i]) {
				lines[i] = functionKeywordRe.ReplaceAllString(lines[i], "async function")
			}
			return
		}
	}
}

// NonCodePattern reports whether a file is non-code per spec §4.5.4
// ("license, readme, lockfiles, dotfiles by pattern") and should be
// skipped without any fix attempt.
func NonCodePattern(file string) (skip bool, reason string) {
	lower := strings.ToLower(file)
	base := lower
	if i := strings.LastIndex(lower, "/"); i >= 0 {
		base = lower[i+1:]
	}

	switch {
	case strings.HasPrefix(base, "."):
		return true, "dotfile"
	case base == "license" || strings.HasPrefix(base, "license."):
		return true, "license file"
	case base == "readme" || strings.HasPrefix(base, "readme."):
		return true, "readme file"
	case strings.HasSuffix(base, ".lock") || base == "package-lock.json" || base == "go.sum" || base == "yarn.lock":
		return true, "lockfile"
	default:
		return false, ""
	}
}
