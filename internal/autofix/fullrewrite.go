// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package autofix

import (
	"context"
	"fmt"
	"strings"

	"github.com/peerci/reviewbot/internal/llm"
	"github.com/peerci/reviewbot/internal/model"
)

const fullRewriteSystemPrompt = `You fix source code issues by returning the entire corrected file. Given the
current file content and a list of findings, return only the replacement file content,
with no markdown fences or commentary. If nothing should change, return the file
unmodified.`

// RunFullRewriteStrategy asks the router for a complete replacement file
// and accepts it only if it is non-empty after trimming and differs from
// the input (spec §4.5.3).
func RunFullRewriteStrategy(ctx context.Context, router *llm.Router, file, content string, findings []model.Finding) (rewritten string, ok bool, err error) {
	user := fmt.Sprintf("File: %s\n\n%s\n\nFindings:\n%s", file, content, encodeFindingsForPrompt(findings))
	resp, err := router.Call(ctx, llm.RewriteRequest{
		System: fullRewriteSystemPrompt, User: user,
		FilePath: file, FileContent: content, Findings: findings,
	})
	if err != nil {
		return "", false, fmt.Errorf("full rewrite llm call: %w", err)
	}

	trimmed := strings.TrimSpace(resp.Text)
	if trimmed == "" || trimmed == strings.TrimSpace(content) {
		return "", false, nil
	}
	return resp.Text, true, nil
}
