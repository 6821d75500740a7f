// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package autofix

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// UnifiedDiff computes a minimal unified diff (with @@ hunk headers)
// between before and after for a single file path (spec §4.5.4 step 5).
func UnifiedDiff(file, before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	patches := dmp.PatchMake(before, diffs)
	body := dmp.PatchToText(patches)
	if body == "" {
		return ""
	}
	return fmt.Sprintf("--- a/%s\n+++ b/%s\n%s", file, file, body)
}

// CombineUnifiedDiffs concatenates per-file diffs into the patch-level
// unifiedDiff field (spec §3 Preview.unifiedDiff).
func CombineUnifiedDiffs(diffs []string) string {
	var nonEmpty []string
	for _, d := range diffs {
		if d != "" {
			nonEmpty = append(nonEmpty, d)
		}
	}
	return strings.Join(nonEmpty, "\n")
}
