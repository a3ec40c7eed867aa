// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu        sync.Mutex
	processed []uuid.UUID
	block     chan struct{} // when set, Process waits for a signal
	started   chan uuid.UUID
}

func (p *recordingProcessor) Process(_ context.Context, fileID uuid.UUID) {
	if p.started != nil {
		p.started <- fileID
	}
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.processed = append(p.processed, fileID)
	p.mu.Unlock()
}

func (p *recordingProcessor) done() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.processed...)
}

func TestQueueProcessesFIFO(t *testing.T) {
	p := &recordingProcessor{}
	q := New(p)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(id))
	}
	assert.Equal(t, 3, q.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(p.done()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ids, p.done())
	assert.Zero(t, q.Len())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestQueueCurrentTracksRunningJob(t *testing.T) {
	p := &recordingProcessor{
		block:   make(chan struct{}),
		started: make(chan uuid.UUID, 1),
	}
	q := New(p)

	id := uuid.New()
	require.NoError(t, q.Enqueue(id))
	assert.Nil(t, q.Current())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Run(ctx) }()

	<-p.started
	require.NotNil(t, q.Current())
	assert.Equal(t, id, *q.Current())
	assert.Zero(t, q.Len(), "running job is not pending")

	close(p.block)
	require.Eventually(t, func() bool {
		return q.Current() == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnqueueFailsWhenFull(t *testing.T) {
	q := &Queue{jobs: make(chan uuid.UUID, 1), processor: &recordingProcessor{}}

	require.NoError(t, q.Enqueue(uuid.New()))
	err := q.Enqueue(uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestEnqueueSyncHonorsContext(t *testing.T) {
	q := &Queue{jobs: make(chan uuid.UUID, 1), processor: &recordingProcessor{}}
	require.NoError(t, q.EnqueueSync(context.Background(), uuid.New()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.EnqueueSync(ctx, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunFinishesInFlightJobOnShutdown(t *testing.T) {
	p := &recordingProcessor{
		block:   make(chan struct{}),
		started: make(chan uuid.UUID, 1),
	}
	q := New(p)
	require.NoError(t, q.Enqueue(uuid.New()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()

	<-p.started
	cancel() // shutdown begins while the job runs

	select {
	case <-done:
		t.Fatal("worker stopped before the running job finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(p.block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after the job finished")
	}
	assert.Len(t, p.done(), 1)
}
