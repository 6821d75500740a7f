// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryKVStore is an in-process KVStore used by tests and the local CLI.
type MemoryKVStore struct {
	mu       sync.Mutex
	ready    map[Name][]Job
	inFlight map[Name]map[string]inFlightJob
}

type inFlightJob struct {
	job        Job
	visibleAt  time.Time
}

// NewMemoryKVStore returns an empty MemoryKVStore.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{
		ready:    make(map[Name][]Job),
		inFlight: make(map[Name]map[string]inFlightJob),
	}
}

func (m *MemoryKVStore) Enqueue(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready[job.Queue] = append(m.ready[job.Queue], job)
	sort.SliceStable(m.ready[job.Queue], func(i, j int) bool {
		return m.ready[job.Queue][i].EnqueuedAt.Before(m.ready[job.Queue][j].EnqueuedAt)
	})
	return nil
}

func (m *MemoryKVStore) Dequeue(_ context.Context, queue Name, visibility time.Duration) (Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := m.ready[queue]
	if len(jobs) == 0 {
		return Job{}, false, nil
	}
	job := jobs[0]
	m.ready[queue] = jobs[1:]

	if m.inFlight[queue] == nil {
		m.inFlight[queue] = make(map[string]inFlightJob)
	}
	job.Attempts++
	m.inFlight[queue][job.ID] = inFlightJob{job: job, visibleAt: time.Now().Add(visibility)}
	return job, true, nil
}

func (m *MemoryKVStore) Ack(_ context.Context, queue Name, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight[queue], jobID)
	return nil
}

func (m *MemoryKVStore) Nack(_ context.Context, queue Name, job Job, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight[queue], job.ID)
	job.EnqueuedAt = time.Now().Add(delay)
	m.ready[queue] = append(m.ready[queue], job)
	sort.SliceStable(m.ready[queue], func(i, j int) bool {
		return m.ready[queue][i].EnqueuedAt.Before(m.ready[queue][j].EnqueuedAt)
	})
	return nil
}

func (m *MemoryKVStore) ReapExpired(_ context.Context, queue Name) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	reaped := 0
	for id, entry := range m.inFlight[queue] {
		if now.Before(entry.visibleAt) {
			continue
		}
		delete(m.inFlight[queue], id)
		m.ready[queue] = append(m.ready[queue], entry.job)
		reaped++
	}
	return reaped, nil
}
