// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/src-d/enry/v2"

	"github.com/peerci/reviewbot/internal/model"
)

// AICaller is the narrow capability the AI analyzer needs from
// internal/llm.Router: a single prompt/response round trip, independent of
// routing/caching/circuit-breaking concerns owned by the router itself.
type AICaller interface {
	Call(ctx context.Context, system, user string) (text string, modelName string, err error)
}

type aiFindingPayload struct {
	Line       int    `json:"line"`
	Severity   string `json:"severity"`
	Rule       string `json:"rule"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
	Category   string `json:"category"`
}

// aiAnalyzer asks the LLM router to review each changed file's content for
// issues the heuristic analyzers cannot express (spec §2 "an AI analyzer").
type aiAnalyzer struct {
	caller AICaller
}

func NewAIAnalyzer(caller AICaller) Analyzer { return aiAnalyzer{caller: caller} }

func (aiAnalyzer) Name() string { return "ai-review" }

const aiAnalyzerSystemPrompt = `You are a meticulous code reviewer. Given a file's content, list concrete
issues as a JSON array of objects with fields: line, severity (critical|high|medium|low),
rule (a short kebab-case identifier), message, suggestion, category. Return "[]" if there
are no issues. Do not include any text outside the JSON array.`

func (a aiAnalyzer) Analyze(ctx context.Context, workdir string, candidateFiles []string) ([]model.Finding, error) {
	var findings []model.Finding
	for _, file := range candidateFiles {
		content, err := os.ReadFile(filepath.Join(workdir, file))
		if err != nil {
			continue
		}
		if enry.IsBinary(content) {
			continue
		}
		lang := enry.GetLanguage(filepath.Base(file), content)

		user := fmt.Sprintf("Language: %s\nFile: %s\n\n%s", lang, file, string(content))
		text, _, err := a.caller.Call(ctx, aiAnalyzerSystemPrompt, user)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}

		var payloads []aiFindingPayload
		if err := json.Unmarshal([]byte(text), &payloads); err != nil {
			continue
		}
		for _, p := range payloads {
			findings = append(findings, model.Finding{
				File: file, Line: p.Line, Rule: p.Rule,
				Analyzer: "ai-review", Source: "ai:" + lang,
				Severity:   model.Severity(p.Severity),
				Message:    p.Message,
				Suggestion: p.Suggestion,
				Category:   p.Category,
				Language:   lang,
			})
		}
	}
	return findings, nil
}
