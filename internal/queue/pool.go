// Copyright 2026 The Peer Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/peerci/reviewbot/internal/metrics"
	"github.com/peerci/reviewbot/internal/retry"
)

// Handler processes one job. A nil return acks the job; a non-nil error
// nacks it for redelivery after backoff (spec §2.1).
type Handler func(ctx context.Context, job Job) error

// Pool runs a bounded set of goroutines pulling jobs from one named queue
// (spec §2.1 "Workers are goroutine pools with bounded concurrency").
type Pool struct {
	store      KVStore
	queue      Name
	handler    Handler
	concurrency int
	visibility time.Duration
	retryCfg   retry.Config
	pollInterval time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool constructs a worker pool for queue, not yet started.
func NewPool(store KVStore, queue Name, concurrency int, visibility time.Duration, retryCfg retry.Config, handler Handler) *Pool {
	return &Pool{
		store:        store,
		queue:        queue,
		handler:      handler,
		concurrency:  concurrency,
		visibility:   visibility,
		retryCfg:     retryCfg,
		pollInterval: 200 * time.Millisecond,
	}
}

// Start launches the pool's workers plus a background reaper that requeues
// jobs whose visibility timeout has elapsed.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.wg.Add(1)
	go p.reap(ctx)
}

// Shutdown stops accepting new jobs and waits, bounded by ctx, for
// in-flight handlers to finish (spec §2.1).
func (p *Pool) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	log := clog.FromContext(ctx).With("queue", string(p.queue))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok, err := p.store.Dequeue(ctx, p.queue, p.visibility)
		if err != nil {
			log.Errorf("dequeue failed: %v", err)
			time.Sleep(p.pollInterval)
			continue
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}

		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	log := clog.FromContext(ctx).With("queue", string(p.queue))
	err := p.handler(ctx, job)
	if err == nil {
		metrics.JobsProcessed.WithLabelValues(string(p.queue), "ack").Inc()
		if ackErr := p.store.Ack(ctx, p.queue, job.ID); ackErr != nil {
			log.Errorf("ack failed for job %s: %v", job.ID, ackErr)
		}
		return
	}

	if job.Attempts > p.retryCfg.MaxRetries {
		log.Errorf("job %s exhausted retries, dropping: %v", job.ID, err)
		metrics.JobsProcessed.WithLabelValues(string(p.queue), "dropped").Inc()
		if ackErr := p.store.Ack(ctx, p.queue, job.ID); ackErr != nil {
			log.Errorf("ack failed for exhausted job %s: %v", job.ID, ackErr)
		}
		return
	}
	metrics.JobsProcessed.WithLabelValues(string(p.queue), "nack").Inc()

	backoff := p.retryCfg.BaseBackoff << (job.Attempts - 1)
	if backoff > p.retryCfg.MaxBackoff || backoff <= 0 {
		backoff = p.retryCfg.MaxBackoff
	}
	log.With("attempt", job.Attempts).With("error", err.Error()).Warnf("job %s failed, requeuing after %s", job.ID, backoff)
	if nackErr := p.store.Nack(ctx, p.queue, job, backoff); nackErr != nil {
		log.Errorf("nack failed for job %s: %v", job.ID, nackErr)
	}
}

func (p *Pool) reap(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.visibility)
	defer ticker.Stop()
	log := clog.FromContext(ctx).With("queue", string(p.queue))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.ReapExpired(ctx, p.queue)
			if err != nil {
				log.Errorf("reap failed: %v", err)
				continue
			}
			if n > 0 {
				log.Infof("reaped %d expired jobs", n)
			}
		}
	}
}
