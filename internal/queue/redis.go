// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKVStore backs the named queues with Redis sorted sets: one ZSET of
// ready job IDs scored by ready-time, one ZSET of in-flight job IDs scored
// by visibility deadline, and a per-job string holding the serialized Job
// (spec §2.1).
type RedisKVStore struct {
	client *redis.Client
}

// NewRedisKVStore wraps an existing go-redis client.
func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func readyKey(q Name) string    { return fmt.Sprintf("peer:queue:%s:ready", q) }
func inFlightKey(q Name) string { return fmt.Sprintf("peer:queue:%s:inflight", q) }
func jobKey(q Name, id string) string { return fmt.Sprintf("peer:queue:%s:job:%s", q, id) }

func (s *RedisKVStore) Enqueue(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.Queue, job.ID), raw, 0)
	pipe.ZAdd(ctx, readyKey(job.Queue), redis.Z{Score: float64(job.EnqueuedAt.UnixNano()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("enqueueing job %s: %w", job.ID, err)
	}
	return nil
}

// dequeueScript atomically pops the earliest-ready job ID and marks it
// in-flight, so concurrent workers never claim the same job.
var dequeueScript = redis.NewScript(`
local ready = KEYS[1]
local inflight = KEYS[2]
local now = ARGV[1]
local deadline = ARGV[2]
local ids = redis.call('ZRANGEBYSCORE', ready, '-inf', now, 'LIMIT', 0, 1)
if #ids == 0 then
	return nil
end
local id = ids[1]
redis.call('ZREM', ready, id)
redis.call('ZADD', inflight, deadline, id)
return id
`)

func (s *RedisKVStore) Dequeue(ctx context.Context, queue Name, visibility time.Duration) (Job, bool, error) {
	now := time.Now()
	id, err := dequeueScript.Run(ctx, s.client, []string{readyKey(queue), inFlightKey(queue)},
		now.UnixNano(), now.Add(visibility).UnixNano()).Text()
	if err == redis.Nil {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("dequeuing from %s: %w", queue, err)
	}

	raw, err := s.client.Get(ctx, jobKey(queue, id)).Bytes()
	if err != nil {
		return Job{}, false, fmt.Errorf("loading job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, false, fmt.Errorf("unmarshaling job %s: %w", id, err)
	}
	job.Attempts++

	updated, err := json.Marshal(job)
	if err != nil {
		return Job{}, false, fmt.Errorf("marshaling job %s: %w", id, err)
	}
	if err := s.client.Set(ctx, jobKey(queue, id), updated, 0).Err(); err != nil {
		return Job{}, false, fmt.Errorf("recording attempt for job %s: %w", id, err)
	}

	return job, true, nil
}

func (s *RedisKVStore) Ack(ctx context.Context, queue Name, jobID string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, inFlightKey(queue), jobID)
	pipe.Del(ctx, jobKey(queue, jobID))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("acking job %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisKVStore) Nack(ctx context.Context, queue Name, job Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", job.ID, err)
	}
	readyAt := time.Now().Add(delay)
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, inFlightKey(queue), job.ID)
	pipe.Set(ctx, jobKey(queue, job.ID), raw, 0)
	pipe.ZAdd(ctx, readyKey(queue), redis.Z{Score: float64(readyAt.UnixNano()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("nacking job %s: %w", job.ID, err)
	}
	return nil
}

// reapScript moves every in-flight member whose deadline has elapsed back
// onto the ready set, recovering jobs whose worker died before acking
// (spec §2.1 crash recovery).
var reapScript = redis.NewScript(`
local inflight = KEYS[1]
local ready = KEYS[2]
local now = ARGV[1]
local expired = redis.call('ZRANGEBYSCORE', inflight, '-inf', now)
for _, id in ipairs(expired) do
	redis.call('ZREM', inflight, id)
	redis.call('ZADD', ready, now, id)
end
return #expired
`)

func (s *RedisKVStore) ReapExpired(ctx context.Context, queue Name) (int, error) {
	n, err := reapScript.Run(ctx, s.client, []string{inFlightKey(queue), readyKey(queue)}, time.Now().UnixNano()).Int()
	if err != nil {
		return 0, fmt.Errorf("reaping %s: %w", queue, err)
	}
	return n, nil
}
