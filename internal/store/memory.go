// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"

	"github.com/peerci/reviewbot/internal/model"
)

// Memory is an in-process Store implementation backing tests and the
// DB-less `peer analyze` CLI path (spec §2.7).
type Memory struct {
	mu            sync.RWMutex
	runs          map[string]model.PRRun
	patchRequests map[string]model.PatchRequest
	installations map[string]model.Installation
	users         map[string]model.User
	notifications map[string][]model.Notification
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		runs:          make(map[string]model.PRRun),
		patchRequests: make(map[string]model.PatchRequest),
		installations: make(map[string]model.Installation),
		users:         make(map[string]model.User),
		notifications: make(map[string][]model.Notification),
	}
}

func (m *Memory) PRRuns() PRRunStore               { return (*memoryPRRuns)(m) }
func (m *Memory) PatchRequests() PatchRequestStore { return (*memoryPatchRequests)(m) }
func (m *Memory) Installations() InstallationStore { return (*memoryInstallations)(m) }
func (m *Memory) Users() UserStore                 { return (*memoryUsers)(m) }
func (m *Memory) Notifications() NotificationStore { return (*memoryNotifications)(m) }

type memoryPRRuns Memory

func (s *memoryPRRuns) Create(_ context.Context, run model.PRRun) error {
	m := (*Memory)(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	key := run.Key()
	for _, existing := range m.runs {
		if existing.Key() == key {
			return ErrConflict
		}
	}
	m.runs[run.ID] = run
	return nil
}

func (s *memoryPRRuns) Get(_ context.Context, id string) (model.PRRun, error) {
	m := (*Memory)(s)
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return model.PRRun{}, ErrNotFound
	}
	return run, nil
}

func (s *memoryPRRuns) GetByKey(_ context.Context, key model.PRRunKey) (model.PRRun, error) {
	m := (*Memory)(s)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, run := range m.runs {
		if key.Of(run) {
			return run, nil
		}
	}
	return model.PRRun{}, ErrNotFound
}

func (s *memoryPRRuns) Update(_ context.Context, run model.PRRun) error {
	m := (*Memory)(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrNotFound
	}
	m.runs[run.ID] = run
	return nil
}

type memoryPatchRequests Memory

func (s *memoryPatchRequests) Create(_ context.Context, pr model.PatchRequest) error {
	m := (*Memory)(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patchRequests[pr.ID] = pr
	return nil
}

func (s *memoryPatchRequests) Get(_ context.Context, id string) (model.PatchRequest, error) {
	m := (*Memory)(s)
	m.mu.RLock()
	defer m.mu.RUnlock()
	pr, ok := m.patchRequests[id]
	if !ok {
		return model.PatchRequest{}, ErrNotFound
	}
	return pr, nil
}

func (s *memoryPatchRequests) GetByRunID(_ context.Context, runID string) (model.PatchRequest, error) {
	m := (*Memory)(s)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pr := range m.patchRequests {
		if pr.RunID == runID {
			return pr, nil
		}
	}
	return model.PatchRequest{}, ErrNotFound
}

func (s *memoryPatchRequests) Update(_ context.Context, pr model.PatchRequest) error {
	m := (*Memory)(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patchRequests[pr.ID]; !ok {
		return ErrNotFound
	}
	m.patchRequests[pr.ID] = pr
	return nil
}

type memoryInstallations Memory

func (s *memoryInstallations) Get(_ context.Context, id string) (model.Installation, error) {
	m := (*Memory)(s)
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.installations[id]
	if !ok {
		return model.Installation{}, ErrNotFound
	}
	return inst, nil
}

func (s *memoryInstallations) GetByExternalID(_ context.Context, externalID int64) (model.Installation, error) {
	m := (*Memory)(s)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inst := range m.installations {
		if inst.ExternalID == externalID {
			return inst, nil
		}
	}
	return model.Installation{}, ErrNotFound
}

func (s *memoryInstallations) Upsert(_ context.Context, inst model.Installation) error {
	m := (*Memory)(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installations[inst.ID] = inst
	return nil
}

type memoryUsers Memory

func (s *memoryUsers) Get(_ context.Context, id string) (model.User, error) {
	m := (*Memory)(s)
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return user, nil
}

func (s *memoryUsers) Update(_ context.Context, user model.User) error {
	m := (*Memory)(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

type memoryNotifications Memory

func (s *memoryNotifications) Create(_ context.Context, n model.Notification) error {
	m := (*Memory)(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.UserID] = append(m.notifications[n.UserID], n)
	return nil
}

func (s *memoryNotifications) ListForUser(_ context.Context, userID string) ([]model.Notification, error) {
	m := (*Memory)(s)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Notification, len(m.notifications[userID]))
	copy(out, m.notifications[userID])
	return out, nil
}
