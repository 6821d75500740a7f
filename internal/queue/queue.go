// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue implements the three named job queues (analyze, autofix,
// apply) the pipeline dispatches work through (spec §4.1, §2.1). At-least-
// once delivery is modeled with an explicit visibility timeout: a dequeued
// job stays invisible to other workers until the handler acks it or the
// timeout elapses, at which point it is eligible for redelivery.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Name identifies one of the three queues the pipeline uses.
type Name string

const (
	Analyze Name = "analyze"
	Autofix Name = "autofix"
	Apply   Name = "apply"
)

// Job is a unit of work enqueued onto a named queue.
type Job struct {
	ID         string          `json:"id"`
	Queue      Name            `json:"queue"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// NewJob constructs a job ready for enqueueing.
func NewJob(queue Name, kind string, payload any, now time.Time) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshaling job payload: %w", err)
	}
	return Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: now,
	}, nil
}

// KVStore is the storage substrate a queue is built on: enough primitives
// to implement at-least-once delivery with a visibility timeout, whether
// backed by Redis sorted sets or an in-process map (spec §2.1).
type KVStore interface {
	// Enqueue makes job visible for Dequeue immediately.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue claims the oldest visible job on queue, hiding it from other
	// callers until visibility elapses or Ack/Nack is called. Returns
	// (Job{}, false, nil) if nothing is visible.
	Dequeue(ctx context.Context, queue Name, visibility time.Duration) (Job, bool, error)
	// Ack permanently removes a claimed job.
	Ack(ctx context.Context, queue Name, jobID string) error
	// Nack makes a claimed job visible again after delay (used for
	// retryable failures, spec §7 "transient errors are retried").
	Nack(ctx context.Context, queue Name, job Job, delay time.Duration) error
	// ReapExpired requeues any claimed job whose visibility has elapsed
	// without being acked, recovering from a worker that died mid-job
	// (spec §2.1 "crash recovery re-queues anything whose visibility
	// timeout elapsed").
	ReapExpired(ctx context.Context, queue Name) (int, error)
}
