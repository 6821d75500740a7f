// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peerci/reviewbot/internal/analyzer"
	"github.com/peerci/reviewbot/internal/config"
	"github.com/peerci/reviewbot/internal/llm"
	"github.com/peerci/reviewbot/internal/logging"
	"github.com/peerci/reviewbot/internal/orchestrator"
)

var (
	analyzeJSON   bool
	analyzeUseLLM bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <dir>",
	Short: "Run the analyzer battery against a local checkout",
	Long: `Run every registered analyzer against the files under <dir> and print
the resulting findings, without touching Postgres, Redis, or any webhook
or job-queue machinery. Useful for trying the analyzer battery against a
local clone, or in CI as a standalone lint step.

By default the AI analyzer is left out, since it requires at least one
LLM provider API key; pass --llm to include it using whatever keys are
present in the environment.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print findings as JSON instead of a text summary")
	analyzeCmd.Flags().BoolVar(&analyzeUseLLM, "llm", false, "include the AI analyzer using configured provider keys")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := logging.Setup(context.Background(), "peer-analyze")
	dir := args[0]

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	var caller analyzer.AICaller
	if analyzeUseLLM {
		cfg, err := config.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading config for --llm: %w", err)
		}
		caller = llm.AICaller{Router: buildRouter(cfg, nil)}
	}

	files, err := walkCandidateFiles(dir)
	if err != nil {
		return fmt.Errorf("walking %s: %w", dir, err)
	}

	result := orchestrator.Run(ctx, analyzer.DefaultRegistry(caller), dir, files)

	if analyzeJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d finding(s) across %d file(s)\n", len(result.Findings), len(files))
	fmt.Fprintf(out, "critical=%d high=%d medium=%d low=%d\n\n",
		result.Summary.Critical, result.Summary.High, result.Summary.Medium, result.Summary.Low)
	for _, f := range result.Findings {
		fmt.Fprintf(out, "%s:%d [%s/%s] %s (%s)\n", f.File, f.Line, f.Severity, f.Rule, f.Message, f.Analyzer)
	}
	if result.Summary.Critical > 0 || result.Summary.High > 0 {
		return fmt.Errorf("%d high/critical finding(s)", result.Summary.Critical+result.Summary.High)
	}
	return nil
}

// walkCandidateFiles lists every non-hidden, non-vendor file under dir,
// relative to dir, for analyzers that expect repo-relative paths.
func walkCandidateFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		base := filepath.Base(rel)
		if d.IsDir() {
			if base == ".git" || base == "node_modules" || base == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(base, ".") {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
