// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/peerci/reviewbot/internal/model"
)

func readLines(path string) ([]string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err() == nil
}

// dockerfileHealthcheckAnalyzer flags a Dockerfile with no HEALTHCHECK
// instruction. Evaluated once per file, not per line (spec §9 DESIGN
// NOTES: "the spec mandates file-level evaluation").
type dockerfileHealthcheckAnalyzer struct{}

func NewDockerfileHealthcheckAnalyzer() Analyzer { return dockerfileHealthcheckAnalyzer{} }

func (dockerfileHealthcheckAnalyzer) Name() string { return "dockerfile-healthcheck" }

func (dockerfileHealthcheckAnalyzer) Analyze(_ context.Context, workdir string, candidateFiles []string) ([]model.Finding, error) {
	var findings []model.Finding
	for _, file := range candidateFiles {
		if filepath.Base(file) != "Dockerfile" && !strings.HasSuffix(file, ".dockerfile") {
			continue
		}
		lines, ok := readLines(filepath.Join(workdir, file))
		if !ok {
			continue
		}

		hasHealthcheck := false
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(strings.ToUpper(line)), "HEALTHCHECK") {
				hasHealthcheck = true
				break
			}
		}
		if !hasHealthcheck {
			findings = append(findings, model.Finding{
				File: file, Line: 1, Rule: "dockerfile-missing-healthcheck",
				Analyzer: "dockerfile-healthcheck", Source: "heuristic:dockerfile-healthcheck",
				Severity: model.SeverityLow,
				Message:  "Dockerfile has no HEALTHCHECK instruction",
				Category: "reliability",
			})
		}
	}
	return findings, nil
}

var secretPatterns = []struct {
	rule    string
	pattern *regexp.Regexp
}{
	{"secrets-aws-access-key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"secrets-generic-api-key", regexp.MustCompile(`(?i)(api[_-]?key|secret|token)\s*[:=]\s*['"][A-Za-z0-9_\-]{16,}['"]`)},
	{"secrets-private-key-block", regexp.MustCompile(`-----BEGIN (RSA |EC )?PRIVATE KEY-----`)},
}

// secretsAnalyzer scans changed text files line-by-line for common
// hardcoded-secret shapes.
type secretsAnalyzer struct{}

func NewSecretsAnalyzer() Analyzer { return secretsAnalyzer{} }

func (secretsAnalyzer) Name() string { return "secrets" }

func (secretsAnalyzer) Analyze(_ context.Context, workdir string, candidateFiles []string) ([]model.Finding, error) {
	var findings []model.Finding
	for _, file := range candidateFiles {
		lines, ok := readLines(filepath.Join(workdir, file))
		if !ok {
			continue
		}
		for i, line := range lines {
			for _, sp := range secretPatterns {
				if sp.pattern.MatchString(line) {
					findings = append(findings, model.Finding{
						File: file, Line: i + 1, Rule: sp.rule,
						Analyzer: "secrets", Source: "heuristic:secrets",
						Severity: model.SeverityCritical,
						Message:  "possible hardcoded credential",
						Category: "security",
						CodeSnippet: strings.TrimSpace(line),
					})
				}
			}
		}
	}
	return findings, nil
}

var missingAwaitPattern = regexp.MustCompile(`^\s*[A-Za-z_$][\w.$]*\s*\(.*\)\s*;?\s*$`)
var asyncCallHintPattern = regexp.MustCompile(`\b(fetch|axios\.\w+|\.then\(|promise|Promise\.(all|race))\b`)

// missingAwaitAnalyzer flags JS/TS lines that look like an un-awaited
// promise-returning call.
type missingAwaitAnalyzer struct{}

func NewMissingAwaitAnalyzer() Analyzer { return missingAwaitAnalyzer{} }

func (missingAwaitAnalyzer) Name() string { return "missing-await" }

func (missingAwaitAnalyzer) Analyze(_ context.Context, workdir string, candidateFiles []string) ([]model.Finding, error) {
	var findings []model.Finding
	for _, file := range candidateFiles {
		if !isJSOrTS(file) {
			continue
		}
		lines, ok := readLines(filepath.Join(workdir, file))
		if !ok {
			continue
		}
		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			if strings.Contains(trimmed, "await ") || strings.HasPrefix(trimmed, "return ") {
				continue
			}
			if asyncCallHintPattern.MatchString(trimmed) && missingAwaitPattern.MatchString(trimmed) {
				findings = append(findings, model.Finding{
					File: file, Line: i + 1, Rule: "missing-await-async-call",
					Analyzer: "missing-await", Source: "heuristic:missing-await",
					Severity: model.SeverityMedium,
					Message:  "promise-returning call used without await",
					Category: "logic-bug",
					CodeSnippet: trimmed,
				})
			}
		}
	}
	return findings, nil
}

func isJSOrTS(file string) bool {
	switch filepath.Ext(file) {
	case ".js", ".jsx", ".ts", ".tsx":
		return true
	default:
		return false
	}
}

var httpLinkPattern = regexp.MustCompile(`http://[^\s"'` + "`" + `)]+`)

// httpNotHTTPSAnalyzer flags plain-http URLs in source.
type httpNotHTTPSAnalyzer struct{}

func NewHTTPNotHTTPSAnalyzer() Analyzer { return httpNotHTTPSAnalyzer{} }

func (httpNotHTTPSAnalyzer) Name() string { return "http-not-https" }

func (httpNotHTTPSAnalyzer) Analyze(_ context.Context, workdir string, candidateFiles []string) ([]model.Finding, error) {
	var findings []model.Finding
	for _, file := range candidateFiles {
		lines, ok := readLines(filepath.Join(workdir, file))
		if !ok {
			continue
		}
		for i, line := range lines {
			if !httpLinkPattern.MatchString(line) {
				continue
			}
			if strings.Contains(line, "http://localhost") || strings.Contains(line, "http://127.0.0.1") {
				continue
			}
			findings = append(findings, model.Finding{
				File: file, Line: i + 1, Rule: "http-not-https",
				Analyzer: "http-not-https", Source: "heuristic:http-not-https",
				Severity: model.SeverityLow,
				Message:  "plain-http URL, prefer https",
				Category: "security",
			})
		}
	}
	return findings, nil
}

const maxLineLength = 200
const todoDensityWindow = 50

var todoPattern = regexp.MustCompile(`(?i)\b(TODO|FIXME|HACK)\b`)

// lineLengthAnalyzer flags overly long lines and dense TODO/FIXME
// clustering within a sliding window.
type lineLengthAnalyzer struct{}

func NewLineLengthAnalyzer() Analyzer { return lineLengthAnalyzer{} }

func (lineLengthAnalyzer) Name() string { return "line-length" }

func (lineLengthAnalyzer) Analyze(_ context.Context, workdir string, candidateFiles []string) ([]model.Finding, error) {
	var findings []model.Finding
	for _, file := range candidateFiles {
		lines, ok := readLines(filepath.Join(workdir, file))
		if !ok {
			continue
		}

		todoCount := 0
		for i, line := range lines {
			if len(line) > maxLineLength {
				findings = append(findings, model.Finding{
					File: file, Line: i + 1, Rule: "line-too-long",
					Analyzer: "line-length", Source: "heuristic:line-length",
					Severity: model.SeverityLow,
					Message:  "line exceeds recommended length",
					Category: "style",
				})
			}
			if todoPattern.MatchString(line) {
				todoCount++
			}
			if i > 0 && i%todoDensityWindow == 0 {
				if todoCount >= 3 {
					findings = append(findings, model.Finding{
						File: file, Line: i + 1, Rule: "todo-density",
						Analyzer: "line-length", Source: "heuristic:line-length",
						Severity: model.SeverityLow,
						Message:  "dense cluster of TODO/FIXME comments",
						Category: "maintainability",
					})
				}
				todoCount = 0
			}
		}
	}
	return findings, nil
}
