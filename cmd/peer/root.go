// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the peer review service's command-line entry
// point: a long-running server (webhook ingest, job workers, polling API)
// and a one-shot local analysis command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "peer",
	Short: "Automated PR review and autofix service",
	Long: `peer analyzes pull requests for a connected source-control host,
proposes fixes via deterministic transformers and an LLM router, and
optionally opens or auto-merges the resulting fix PR.

Run 'peer serve' to start the webhook/worker process, or
'peer analyze <dir>' to run the analyzer battery against a local
checkout without any of the service's storage or queue machinery.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
