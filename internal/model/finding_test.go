// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/peerci/reviewbot/internal/model"
)

func TestFindingKey_StableID_IsDeterministic(t *testing.T) {
	k := model.FindingKey{File: "src/a.go", Line: 12, Rule: "sql-injection"}
	assert.Equal(t, k.StableID(), k.StableID())

	other := model.FindingKey{File: "src/a.go", Line: 13, Rule: "sql-injection"}
	assert.NotEqual(t, k.StableID(), other.StableID())
}

func TestFinding_Normalize_FillsIDOnlyWhenEmpty(t *testing.T) {
	f := model.Finding{File: "a.go", Line: 1, Rule: "r"}
	got := f.Normalize()
	assert.Equal(t, f.Key().StableID(), got.ID)

	withID := model.Finding{File: "a.go", Line: 1, Rule: "r", ID: "explicit"}
	got = withID.Normalize()
	assert.Equal(t, "explicit", got.ID)
}

func TestFinding_Normalize_DoesNotMutateReceiver(t *testing.T) {
	f := model.Finding{File: "a.go", Line: 1, Rule: "r"}
	_ = f.Normalize()
	assert.Empty(t, f.ID, "Normalize must return a new value, not mutate in place")
}

func TestFinding_Normalize_ClampsColumnAndSeverity(t *testing.T) {
	f := model.Finding{File: "a.go", Line: 1, Rule: "r", Column: 0, Severity: "nonsense"}
	got := f.Normalize()
	assert.Equal(t, 1, got.Column)
	assert.Equal(t, model.SeverityLow, got.Severity)
	assert.Equal(t, model.SeverityLow.Weight(), got.SeverityWeight)
}

func TestFinding_Normalize_TruncatesLongFields(t *testing.T) {
	f := model.Finding{
		File:        "a.go",
		Rule:        strings.Repeat("r", 200),
		Message:     strings.Repeat("m", 600),
		Suggestion:  strings.Repeat("s", 600),
		Example:     strings.Repeat("e", 1200),
		CodeSnippet: strings.Repeat("c", 400),
	}
	got := f.Normalize()
	assert.Len(t, got.Rule, 120)
	assert.Len(t, got.Message, 500)
	assert.Len(t, got.Suggestion, 500)
	assert.Len(t, got.Example, 1000)
	assert.Len(t, got.CodeSnippet, 300)
}

func TestFinding_WithFixed(t *testing.T) {
	f := model.Finding{File: "a.go", Line: 1, Rule: "r"}
	now := time.Now()
	got := f.WithFixed("pr-1", now)

	assert.True(t, got.Fixed)
	assert.Equal(t, "pr-1", got.FixedByPatchRequestID)
	if assert.NotNil(t, got.FixedAt) {
		assert.True(t, got.FixedAt.Equal(now))
	}
	assert.False(t, f.Fixed, "WithFixed must not mutate the receiver")
}

func TestSeverity_Weight(t *testing.T) {
	assert.Greater(t, model.SeverityCritical.Weight(), model.SeverityHigh.Weight())
	assert.Greater(t, model.SeverityHigh.Weight(), model.SeverityMedium.Weight())
	assert.Greater(t, model.SeverityMedium.Weight(), model.SeverityLow.Weight())
	assert.Zero(t, model.Severity("bogus").Weight())
}

func TestSeverity_Valid(t *testing.T) {
	assert.True(t, model.SeverityCritical.Valid())
	assert.False(t, model.Severity("bogus").Valid())
}

func TestSummarizeFindings(t *testing.T) {
	findings := []model.Finding{
		{Severity: model.SeverityCritical},
		{Severity: model.SeverityHigh},
		{Severity: model.SeverityHigh},
		{Severity: model.SeverityMedium},
		{Severity: model.SeverityLow},
		{Severity: model.SeverityLow},
		{Severity: model.SeverityLow},
	}
	s := model.SummarizeFindings(findings)
	assert.Equal(t, model.Summary{Critical: 1, High: 2, Medium: 1, Low: 3}, s)
	assert.Equal(t, 7, s.Total())
}
