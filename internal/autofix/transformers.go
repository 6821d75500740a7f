// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package autofix implements the deterministic and LLM-driven fix
// strategies, preview assembly, apply, and auto-merge gate of spec §4.5.
package autofix

import (
	"path/filepath"
	"regexp"
	"strings"
)

// TransformResult is what a deterministic transformer proposes for one
// line (spec §4.5.1).
type TransformResult struct {
	InsertedLine  string
	RequiresAsync bool
	Reason        string
}

// Transformer targets a single finding rule and proposes a line-level fix.
// Contracts: a transformer only requests multi-line context (e.g.
// "requires enclosing function to become async"); the engine, not the
// transformer, performs any such wider edit (spec §4.5.1).
type Transformer interface {
	Rule() string
	Apply(line string) (TransformResult, bool)
}

// commentStyle chooses marker-comment syntax from a file's language family
// (spec §4.5.1 "comment syntax is chosen from the file extension").
type commentStyle struct {
	linePrefix string
	blockStart string
	blockEnd   string
}

var (
	lineCommentStyle = commentStyle{linePrefix: "//"}
	hashCommentStyle = commentStyle{linePrefix: "#"}
	htmlCommentStyle = commentStyle{blockStart: "<!--", blockEnd: "-->"}
)

func commentStyleFor(file string) commentStyle {
	switch filepath.Ext(file) {
	case ".html", ".htm", ".xml", ".vue":
		return htmlCommentStyle
	case ".py", ".rb", ".sh", ".yaml", ".yml", ".toml":
		return hashCommentStyle
	default:
		return lineCommentStyle
	}
}

// wrap frames originalLine (commented out) and insertedLine between
// BEGIN/END marker comments (spec §4.5.1).
func wrap(style commentStyle, originalLine, insertedLine string) []string {
	comment := func(text string) string {
		if style.blockStart != "" {
			return style.blockStart + " " + text + " " + style.blockEnd
		}
		return style.linePrefix + " " + text
	}
	return []string{
		comment("peer:autofix:begin"),
		comment("OLD: " + strings.TrimRight(originalLine, "\r")),
		insertedLine,
		comment("peer:autofix:end"),
	}
}

// httpNotHTTPSTransformer rewrites a plain-http URL to https in place.
type httpNotHTTPSTransformer struct{}

func NewHTTPNotHTTPSTransformer() Transformer { return httpNotHTTPSTransformer{} }

func (httpNotHTTPSTransformer) Rule() string { return "http-not-https" }

var httpScheme = regexp.MustCompile(`http://`)

func (httpNotHTTPSTransformer) Apply(line string) (TransformResult, bool) {
	if !httpScheme.MatchString(line) || strings.Contains(line, "http://localhost") || strings.Contains(line, "http://127.0.0.1") {
		return TransformResult{}, false
	}
	return TransformResult{
		InsertedLine: httpScheme.ReplaceAllString(line, "https://"),
		Reason:       "rewrote plain-http URL to https",
	}, true
}

// missingAwaitTransformer inserts `await ` before the call expression.
type missingAwaitTransformer struct{}

func NewMissingAwaitTransformer() Transformer { return missingAwaitTransformer{} }

func (missingAwaitTransformer) Rule() string { return "missing-await-async-call" }

func (missingAwaitTransformer) Apply(line string) (TransformResult, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" || strings.Contains(trimmed, "await ") {
		return TransformResult{}, false
	}
	indent := line[:len(line)-len(trimmed)]
	return TransformResult{
		InsertedLine:  indent + "await " + trimmed,
		RequiresAsync: true,
		Reason:        "await async call",
	}, true
}

// DefaultTransformers returns the built-in table of deterministic
// per-rule transformers.
func DefaultTransformers() map[string]Transformer {
	table := map[string]Transformer{}
	for _, t := range []Transformer{
		NewHTTPNotHTTPSTransformer(),
		NewMissingAwaitTransformer(),
	} {
		table[t.Rule()] = t
	}
	return table
}
