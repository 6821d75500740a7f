// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import "github.com/peerci/reviewbot/internal/model"

// Complexity is the two-way classification that selects a routing chain
// (spec §4.4).
type Complexity string

const (
	Simple  Complexity = "simple"
	Complex Complexity = "complex"
)

var complexCategories = map[string]bool{
	"security":  true,
	"logic-bug": true,
	"auth":      true,
	"crypto":    true,
}

// isComplexFinding reports whether a single finding counts toward the
// "complex" vote (spec §4.4 "rules tagged security/logic-bug/auth/crypto
// or with severity critical/high count toward complex").
func isComplexFinding(f model.Finding) bool {
	if complexCategories[f.Category] {
		return true
	}
	return f.Severity == model.SeverityCritical || f.Severity == model.SeverityHigh
}

// Classify runs the majority-vote complexity classifier over a finding set
// (spec §4.4). An empty finding set classifies as simple.
func Classify(findings []model.Finding) Complexity {
	complexVotes := 0
	for _, f := range findings {
		if isComplexFinding(f) {
			complexVotes++
		}
	}
	if complexVotes*2 > len(findings) {
		return Complex
	}
	return Simple
}
