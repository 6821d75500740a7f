// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package retry implements bounded exponential backoff with jitter, shared
// by the job queue and the LLM router.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config configures backoff behavior.
type Config struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxJitter   time.Duration
}

// Default returns a sensible backoff configuration for transient I/O
// (spec §4.1, §7 "Transient I/O... retried within the component (bounded)").
func Default() Config {
	return Config{
		MaxRetries:  5,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

func (c Config) validate() error {
	if c.MaxRetries < 0 || c.BaseBackoff < 0 || c.MaxBackoff < 0 || c.MaxJitter < 0 {
		return errors.New("retry config values must be non-negative")
	}
	return nil
}

// Do runs fn, retrying with exponential backoff while isRetryable(err) is
// true, up to cfg.MaxRetries additional attempts. It stops immediately (no
// sleep) on a non-retryable error, and honors ctx cancellation between
// attempts.
func Do[T any](ctx context.Context, cfg Config, operation string, isRetryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	if err := cfg.validate(); err != nil {
		return zero, err
	}

	var result T
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}
		if !isRetryable(lastErr) {
			return result, lastErr
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		backoff := cfg.BaseBackoff << attempt
		if backoff > cfg.MaxBackoff || backoff <= 0 {
			backoff = cfg.MaxBackoff
		}
		backoff += jitter(cfg.MaxJitter)

		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("max_retries", cfg.MaxRetries).
			With("backoff", backoff).
			With("error", lastErr.Error()).
			Warn("retrying after transient error")

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return result, fmt.Errorf("%s failed after %d retries: %w", operation, cfg.MaxRetries, lastErr)
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}

// AlwaysRetryable treats every non-nil error as retryable. Useful for
// callers that already classify errors before invoking Do.
func AlwaysRetryable(err error) bool { return err != nil }
