// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peerci/reviewbot/internal/model"
)

// externalToolAdapter wraps an external CLI linter. It checks the tool's
// presence on the host and returns an empty list (never an error) when
// absent, so optional tooling never fails a run (spec §4.3 "their
// *optional* nature must never fail the run").
type externalToolAdapter struct {
	name       string
	binary     string
	extensions []string
	run        func(ctx context.Context, binary, workdir string, files []string) ([]model.Finding, error)
}

func (a externalToolAdapter) Name() string { return a.name }

func (a externalToolAdapter) Analyze(ctx context.Context, workdir string, candidateFiles []string) ([]model.Finding, error) {
	if _, err := exec.LookPath(a.binary); err != nil {
		return nil, nil
	}

	var relevant []string
	for _, f := range candidateFiles {
		for _, ext := range a.extensions {
			if strings.HasSuffix(f, ext) {
				relevant = append(relevant, f)
				break
			}
		}
	}
	if len(relevant) == 0 {
		return nil, nil
	}

	return a.run(ctx, a.binary, workdir, relevant)
}

// NewGofmtAdapter reports Go files that gofmt -l would rewrite.
func NewGofmtAdapter() Analyzer {
	return externalToolAdapter{
		name: "gofmt", binary: "gofmt", extensions: []string{".go"},
		run: func(ctx context.Context, binary, workdir string, files []string) ([]model.Finding, error) {
			args := append([]string{"-l"}, files...)
			cmd := exec.CommandContext(ctx, binary, args...)
			cmd.Dir = workdir
			out, _ := cmd.Output()

			var findings []model.Finding
			for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
				if line == "" {
					continue
				}
				findings = append(findings, model.Finding{
					File: filepath.ToSlash(line), Line: 1, Rule: "gofmt-unformatted",
					Analyzer: "gofmt", Source: "external:gofmt",
					Severity: model.SeverityLow,
					Message:  "file is not gofmt-formatted",
					Category: "style",
				})
			}
			return findings, nil
		},
	}
}

// NewGoVetAdapter runs `go vet` over the package containing the changed
// Go files and maps its plain-text diagnostics to findings.
func NewGoVetAdapter() Analyzer {
	return externalToolAdapter{
		name: "go-vet", binary: "go", extensions: []string{".go"},
		run: func(ctx context.Context, binary, workdir string, files []string) ([]model.Finding, error) {
			cmd := exec.CommandContext(ctx, binary, "vet", "./...")
			cmd.Dir = workdir
			var stderr bytes.Buffer
			cmd.Stderr = &stderr
			_ = cmd.Run()

			var findings []model.Finding
			for _, line := range strings.Split(stderr.String(), "\n") {
				finding, ok := parseVetLine(line)
				if ok {
					findings = append(findings, finding)
				}
			}
			return findings, nil
		},
	}
}

// parseVetLine parses a "file.go:12:3: message" go vet diagnostic line.
func parseVetLine(line string) (model.Finding, bool) {
	parts := strings.SplitN(line, ":", 4)
	if len(parts) != 4 {
		return model.Finding{}, false
	}
	lineNo, err := strconv.Atoi(parts[1])
	if err != nil {
		return model.Finding{}, false
	}
	col, _ := strconv.Atoi(parts[2])
	return model.Finding{
		File: filepath.ToSlash(parts[0]), Line: lineNo, Column: col, Rule: "go-vet",
		Analyzer: "go-vet", Source: "external:go-vet",
		Severity: model.SeverityMedium,
		Message:  strings.TrimSpace(parts[3]),
		Category: "correctness",
	}, true
}

type eslintMessage struct {
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	RuleID   string `json:"ruleId"`
	Message  string `json:"message"`
	Severity int    `json:"severity"`
}

type eslintResult struct {
	FilePath string          `json:"filePath"`
	Messages []eslintMessage `json:"messages"`
}

// NewESLintAdapter runs eslint --format json over changed JS/TS files.
func NewESLintAdapter() Analyzer {
	return externalToolAdapter{
		name: "eslint", binary: "eslint", extensions: []string{".js", ".jsx", ".ts", ".tsx"},
		run: func(ctx context.Context, binary, workdir string, files []string) ([]model.Finding, error) {
			args := append([]string{"--format", "json"}, files...)
			cmd := exec.CommandContext(ctx, binary, args...)
			cmd.Dir = workdir
			out, _ := cmd.Output()

			var results []eslintResult
			if err := json.Unmarshal(out, &results); err != nil {
				return nil, nil
			}

			var findings []model.Finding
			for _, r := range results {
				rel, err := filepath.Rel(workdir, r.FilePath)
				if err != nil {
					rel = r.FilePath
				}
				for _, m := range r.Messages {
					severity := model.SeverityLow
					if m.Severity >= 2 {
						severity = model.SeverityMedium
					}
					findings = append(findings, model.Finding{
						File: filepath.ToSlash(rel), Line: m.Line, Column: m.Column,
						Rule: "eslint:" + m.RuleID, Analyzer: "eslint", Source: "external:eslint",
						Severity: severity, Message: m.Message, Category: "style",
					})
				}
			}
			return findings, nil
		},
	}
}
