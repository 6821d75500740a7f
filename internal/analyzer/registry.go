// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package analyzer

// DefaultRegistry returns the full battery of built-in analyzers: the
// heuristic regex/pattern analyzers, the external-tool adapters, and the
// AI analyzer when llmCaller is non-nil (spec §2 "heuristic linters,
// language-specific pattern matchers, external tool adapters, and an AI
// analyzer").
func DefaultRegistry(llmCaller AICaller) []Analyzer {
	registry := []Analyzer{
		NewDockerfileHealthcheckAnalyzer(),
		NewSecretsAnalyzer(),
		NewMissingAwaitAnalyzer(),
		NewHTTPNotHTTPSAnalyzer(),
		NewLineLengthAnalyzer(),
		NewGofmtAdapter(),
		NewGoVetAdapter(),
		NewESLintAdapter(),
	}
	if llmCaller != nil {
		registry = append(registry, NewAIAnalyzer(llmCaller))
	}
	return registry
}
