package main

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"contest-engine/internal/milestone"
)

const (
	loopbackBuffer     = 256
	loopbackRetryDelay = 5 * time.Second
)

// loopbackQueue is the in-process redelivery queue backing manual retries.
// It deduplicates on the token while a job is pending, the same contract an
// external queue would honor.
type loopbackQueue struct {
	logger *log.Logger

	mu      sync.Mutex
	pending map[string]bool
	ch      chan queuedJob
}

type queuedJob struct {
	job   milestone.Job
	token string
}

func newLoopbackQueue(logger *log.Logger) *loopbackQueue {
	return &loopbackQueue{
		logger:  logger,
		pending: make(map[string]bool),
		ch:      make(chan queuedJob, loopbackBuffer),
	}
}

// Enqueue queues a job for redelivery. A token already pending is a noop.
func (q *loopbackQueue) Enqueue(ctx context.Context, job milestone.Job, dedupToken string) error {
	q.mu.Lock()
	if q.pending[dedupToken] {
		q.mu.Unlock()
		return nil
	}
	q.pending[dedupToken] = true
	q.mu.Unlock()

	select {
	case q.ch <- queuedJob{job: job, token: dedupToken}:
		return nil
	case <-ctx.Done():
		q.release(dedupToken)
		return ctx.Err()
	default:
		q.release(dedupToken)
		return errors.New("loopback queue full")
	}
}

func (q *loopbackQueue) release(token string) {
	q.mu.Lock()
	delete(q.pending, token)
	q.mu.Unlock()
}

// drain processes queued jobs until ctx is cancelled. A failed job is
// redelivered after a fixed delay; the processor escalates on its own once
// the attempt ceiling is reached, which stops the cycle.
func (q *loopbackQueue) drain(ctx context.Context, proc *milestone.Processor) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q.ch:
			q.release(item.token)
			outcome, err := proc.Process(ctx, item.job)
			if err == nil {
				q.logger.Printf("queued milestone %s: %s", item.token, outcome)
				continue
			}
			if errors.Is(err, milestone.ErrPaused) {
				q.logger.Printf("queued milestone %s paused, dropping; resume re-enqueues it", item.token)
				continue
			}
			q.logger.Printf("queued milestone %s failed, redelivering in %s: %v", item.token, loopbackRetryDelay, err)
			q.redeliverLater(ctx, item)
		}
	}
}

func (q *loopbackQueue) redeliverLater(ctx context.Context, item queuedJob) {
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(loopbackRetryDelay):
			if err := q.Enqueue(ctx, item.job, item.token); err != nil {
				q.logger.Printf("redeliver milestone %s: %v", item.token, err)
			}
		}
	}()
}
