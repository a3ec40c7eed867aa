// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/callaudit/internal/audio"
	"github.com/ManuGH/callaudit/internal/store"
)

type stubProber struct{}

func (stubProber) Probe(context.Context, string) (audio.Info, error) {
	return audio.Info{DurationSec: 60, Channels: 2}, nil
}

type recordingQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (q *recordingQueue) EnqueueSync(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

func newTestIngestor(t *testing.T) (*Ingestor, *store.Store, *recordingQueue) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	q := &recordingQueue{}
	ing := &Ingestor{
		Store: s,
		Validator: &audio.Validator{
			MaxBytes:       1 << 20,
			MinDurationSec: 3,
			MaxDurationSec: 14400,
			Prober:         stubProber{},
		},
		Queue:        q,
		UploadsDir:   filepath.Join(t.TempDir(), "uploads"),
		MaxBatchSize: 20,
	}
	return ing, s, q
}

func mp3Item(name string, seed byte) Item {
	data := append([]byte("ID3"), make([]byte, 64)...)
	data[10] = seed
	return Item{Name: name, Data: data}
}

func TestIngestAcceptsBatch(t *testing.T) {
	ing, s, q := newTestIngestor(t)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, "  Ivan ", []Item{
		mp3Item("call1.mp3", 1),
		mp3Item("call2.mp3", 2),
	})
	require.NoError(t, err)

	assert.Equal(t, "Ivan", res.Operator)
	require.Len(t, res.FileIDs, 2)
	assert.Equal(t, res.FileIDs, res.Fresh)
	assert.Empty(t, res.Rejections)
	assert.Equal(t, res.Fresh, q.ids, "fresh files reach the queue in order")

	for _, id := range res.FileIDs {
		f, err := s.GetFile(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusQueued, f.Status)
		assert.Equal(t, 0, f.Stage)
		require.NotNil(t, f.DurationSec)
		assert.InDelta(t, 60, *f.DurationSec, 0.001)

		// Blob lands at <uploads_dir>/<file_id>.<ext>.
		assert.Equal(t, filepath.Join(ing.UploadsDir, id.String()+".mp3"), f.AudioPath)
		_, statErr := os.Stat(f.AudioPath)
		assert.NoError(t, statErr)
	}
}

func TestIngestResolvesDuplicates(t *testing.T) {
	ing, _, q := newTestIngestor(t)
	ctx := context.Background()

	first, err := ing.Ingest(ctx, "Ivan", []Item{mp3Item("call.mp3", 1)})
	require.NoError(t, err)
	require.Len(t, first.Fresh, 1)

	// Same bytes again, different name: resolves to the existing id and is
	// not re-enqueued.
	second, err := ing.Ingest(ctx, "Maria", []Item{mp3Item("copy.mp3", 1)})
	require.NoError(t, err)
	require.Len(t, second.FileIDs, 1)
	assert.Equal(t, first.FileIDs[0], second.FileIDs[0])
	assert.Empty(t, second.Fresh)
	assert.Len(t, q.ids, 1)
}

func TestIngestCatchesIntraBatchDuplicates(t *testing.T) {
	ing, _, _ := newTestIngestor(t)

	res, err := ing.Ingest(context.Background(), "Ivan", []Item{
		mp3Item("a.mp3", 7),
		mp3Item("b.mp3", 7), // identical bytes inside the same batch
	})
	require.NoError(t, err)
	require.Len(t, res.FileIDs, 2)
	assert.Equal(t, res.FileIDs[0], res.FileIDs[1])
	assert.Len(t, res.Fresh, 1)
}

func TestIngestPartialBatch(t *testing.T) {
	ing, _, _ := newTestIngestor(t)

	res, err := ing.Ingest(context.Background(), "Ivan", []Item{
		mp3Item("good.mp3", 1),
		{Name: "bad.txt", Data: []byte("not audio")},
	})
	require.NoError(t, err)
	assert.Len(t, res.FileIDs, 1)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, "bad.txt", res.Rejections[0].File)
}

func TestIngestAbortsWhenAllRejected(t *testing.T) {
	ing, s, q := newTestIngestor(t)
	ctx := context.Background()

	_, err := ing.Ingest(ctx, "Ivan", []Item{
		{Name: "bad.txt", Data: []byte("not audio")},
		{Name: "empty.mp3", Data: nil},
	})

	var all *AllRejectedError
	require.ErrorAs(t, err, &all)
	assert.Len(t, all.Rejections, 2)
	assert.Empty(t, q.ids)

	// Nothing committed, including the operator row.
	_, _, lerr := s.ListFiles(ctx, store.ListFilter{})
	require.NoError(t, lerr)
	hashes, herr := s.KnownHashes(ctx)
	require.NoError(t, herr)
	assert.Empty(t, hashes)
}

func TestIngestRejectsBadBatches(t *testing.T) {
	ing, _, _ := newTestIngestor(t)
	ctx := context.Background()

	_, err := ing.Ingest(ctx, "   ", []Item{mp3Item("a.mp3", 1)})
	assert.ErrorIs(t, err, ErrEmptyOperator)

	ing.MaxBatchSize = 1
	_, err = ing.Ingest(ctx, "Ivan", []Item{mp3Item("a.mp3", 1), mp3Item("b.mp3", 2)})
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}
