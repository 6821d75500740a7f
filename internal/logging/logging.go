// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging wires up process-wide structured logging. All other
// packages pull their logger from the context via clog.FromContext, never
// from a package-level global.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/chainguard-dev/clog"
)

// Setup returns a context carrying a JSON-structured logger tagged with the
// given component name. Every handler downstream pulls its logger back out
// via clog.FromContext(ctx) rather than touching a package-level global.
func Setup(ctx context.Context, component string) context.Context {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := clog.New(handler).With("component", component)
	return clog.WithLogger(ctx, logger)
}
