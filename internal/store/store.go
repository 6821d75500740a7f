// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

// Package store defines the repository interfaces the pipeline persists
// through, and the two implementations: an in-memory store for tests and
// the local CLI path, and a Postgres-backed store for the server.
package store

import (
	"context"
	"errors"

	"github.com/peerci/reviewbot/internal/model"
)

// ErrNotFound is returned by lookups that find no matching record.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when creating a PRRun would violate the
// (repo, prNumber, sha) uniqueness invariant (spec §8, invariant 3).
var ErrConflict = errors.New("store: conflicting record exists")

// PRRunStore persists PRRun documents, keyed by (repo, prNumber, sha)
// (spec §8, invariant 3).
type PRRunStore interface {
	Create(ctx context.Context, run model.PRRun) error
	Get(ctx context.Context, id string) (model.PRRun, error)
	GetByKey(ctx context.Context, key model.PRRunKey) (model.PRRun, error)
	Update(ctx context.Context, run model.PRRun) error
}

// PatchRequestStore persists PatchRequest documents.
type PatchRequestStore interface {
	Create(ctx context.Context, pr model.PatchRequest) error
	Get(ctx context.Context, id string) (model.PatchRequest, error)
	GetByRunID(ctx context.Context, runID string) (model.PatchRequest, error)
	Update(ctx context.Context, pr model.PatchRequest) error
}

// InstallationStore persists tenant installation configuration.
type InstallationStore interface {
	Get(ctx context.Context, id string) (model.Installation, error)
	GetByExternalID(ctx context.Context, externalID int64) (model.Installation, error)
	Upsert(ctx context.Context, inst model.Installation) error
}

// UserStore persists user quota state.
type UserStore interface {
	Get(ctx context.Context, id string) (model.User, error)
	Update(ctx context.Context, user model.User) error
}

// NotificationStore persists out-of-band user notifications (spec §7,
// quota-exceeded notifications).
type NotificationStore interface {
	Create(ctx context.Context, n model.Notification) error
	ListForUser(ctx context.Context, userID string) ([]model.Notification, error)
}

// Store bundles the full persistence surface the pipeline depends on.
type Store interface {
	PRRuns() PRRunStore
	PatchRequests() PatchRequestStore
	Installations() InstallationStore
	Users() UserStore
	Notifications() NotificationStore
}
