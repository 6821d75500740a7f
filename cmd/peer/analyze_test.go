// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkCandidateFiles(t *testing.T) {
	dir := t.TempDir()

	write := func(rel string, content string) {
		full := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	write("a.go", "package a\n")
	write("src/b.go", "package a\n")
	write(".hidden.go", "package a\n")
	write(".git/HEAD", "ref: refs/heads/main\n")
	write("node_modules/pkg/index.js", "module.exports = {}\n")
	write("vendor/lib/lib.go", "package lib\n")

	got, err := walkCandidateFiles(dir)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a.go", "src/b.go"}, got)
}

func TestWalkCandidateFiles_MissingDir(t *testing.T) {
	_, err := walkCandidateFiles(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}
