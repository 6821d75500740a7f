// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package autofix_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/peerci/reviewbot/internal/autofix"
)

func TestUnifiedDiff_EmptyWhenUnchanged(t *testing.T) {
	assert.Empty(t, autofix.UnifiedDiff("a.go", "same\n", "same\n"))
}

func TestUnifiedDiff_IncludesFileHeaders(t *testing.T) {
	diff := autofix.UnifiedDiff("a.go", "before\n", "after\n")
	assert.Contains(t, diff, "--- a/a.go")
	assert.Contains(t, diff, "+++ b/a.go")
}

func TestCombineUnifiedDiffs_SkipsEmpty(t *testing.T) {
	combined := autofix.CombineUnifiedDiffs([]string{"", "diff-a", "", "diff-b"})
	assert.Equal(t, "diff-a\ndiff-b", combined)
}
