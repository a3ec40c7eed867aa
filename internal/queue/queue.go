// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package queue serializes pipeline work: one worker, FIFO order. The
// database is the durable record; on restart interrupted jobs are requeued
// from there, so the in-memory channel never needs to survive a crash.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/callaudit/internal/log"
	"github.com/ManuGH/callaudit/internal/metrics"
)

const (
	defaultCapacity = 1024
	pollInterval    = time.Second
)

// Processor runs one job to completion. Errors are the processor's own
// business; the queue only sequences work.
type Processor interface {
	Process(ctx context.Context, fileID uuid.UUID)
}

// Queue is a bounded FIFO of file ids with a single worker.
type Queue struct {
	jobs      chan uuid.UUID
	processor Processor

	mu      sync.Mutex
	current *uuid.UUID
}

// New builds a queue with the default capacity.
func New(processor Processor) *Queue {
	return &Queue{
		jobs:      make(chan uuid.UUID, defaultCapacity),
		processor: processor,
	}
}

// Enqueue adds a job without blocking. It fails when the queue is full.
func (q *Queue) Enqueue(fileID uuid.UUID) error {
	select {
	case q.jobs <- fileID:
		metrics.QueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		return fmt.Errorf("queue is full (%d jobs)", cap(q.jobs))
	}
}

// EnqueueSync blocks until the job is accepted or ctx expires. Safe to call
// from any goroutine alongside the worker.
func (q *Queue) EnqueueSync(ctx context.Context, fileID uuid.UUID) error {
	select {
	case q.jobs <- fileID:
		metrics.QueueDepth.Set(float64(len(q.jobs)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", fileID, ctx.Err())
	}
}

// Len reports the number of pending jobs (the running one excluded).
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Current returns the id of the job being processed, if any.
func (q *Queue) Current() *uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return nil
	}
	id := *q.current
	return &id
}

func (q *Queue) setCurrent(id *uuid.UUID) {
	q.mu.Lock()
	q.current = id
	q.mu.Unlock()
}

// Run is the worker loop. It polls with a bounded wait so shutdown is
// noticed within a second even when the queue is idle. A job in flight
// finishes before Run returns.
func (q *Queue) Run(ctx context.Context) error {
	logger := log.WithComponent("queue")
	logger.Info().Int("capacity", cap(q.jobs)).Msg("queue worker started")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Int("pending", len(q.jobs)).Msg("queue worker stopping")
			return ctx.Err()
		case fileID := <-q.jobs:
			metrics.QueueDepth.Set(float64(len(q.jobs)))
			q.setCurrent(&fileID)
			start := time.Now()
			logger.Info().
				Str("file_id", fileID.String()).
				Int("pending", len(q.jobs)).
				Msg("job started")

			q.processor.Process(ctx, fileID)

			q.setCurrent(nil)
			logger.Info().
				Str("file_id", fileID.String()).
				Dur("elapsed", time.Since(start)).
				Msg("job finished")
		case <-ticker.C:
			// Idle poll keeps the shutdown check bounded.
		}
	}
}
