// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ftpsync

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/callaudit/internal/audio"
	"github.com/ManuGH/callaudit/internal/ingest"
	"github.com/ManuGH/callaudit/internal/store"
)

type stubProber struct {
	durations map[string]float64
}

func (p stubProber) Probe(_ context.Context, path string) (audio.Info, error) {
	d := 60.0
	if p.durations != nil {
		if v, ok := p.durations[filepath.Base(path)]; ok {
			d = v
		}
	}
	return audio.Info{DurationSec: d, Channels: 2}, nil
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

func newTestService(t *testing.T, prober audio.Prober) (*Service, *store.Store, *recordingQueue) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	q := &recordingQueue{}
	svc := &Service{
		Dir:    t.TempDir(),
		Prober: prober,
		Ingestor: &ingest.Ingestor{
			Store: s,
			Validator: &audio.Validator{
				MaxBytes:       1 << 20,
				MinDurationSec: 3,
				MaxDurationSec: 14400,
				Prober:         prober,
			},
			Queue:        q,
			UploadsDir:   filepath.Join(t.TempDir(), "uploads"),
			MaxBatchSize: 20,
		},
	}
	return svc, s, q
}

func writeSynced(t *testing.T, dir, name string, seed byte, mtime time.Time) {
	t.Helper()
	data := append([]byte("ID3"), make([]byte, 64)...)
	data[10] = seed
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestListSortsNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t, stubProber{})
	base := time.Now().Add(-time.Hour)
	writeSynced(t, svc.Dir, "old.mp3", 1, base)
	writeSynced(t, svc.Dir, "new.mp3", 2, base.Add(30*time.Minute))
	require.NoError(t, os.WriteFile(filepath.Join(svc.Dir, "notes.txt"), []byte("x"), 0o600))

	items, total, err := svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, "new.mp3", items[0].Filename)
	assert.Equal(t, "old.mp3", items[1].Filename)
	require.NotNil(t, items[0].DurationSec)
	assert.InDelta(t, 60, *items[0].DurationSec, 0.001)
}

func TestListFilters(t *testing.T) {
	prober := stubProber{durations: map[string]float64{
		"short.mp3": 10,
		"long.mp3":  300,
	}}
	svc, _, _ := newTestService(t, prober)
	base := time.Now().Add(-time.Hour)
	writeSynced(t, svc.Dir, "short.mp3", 1, base)
	writeSynced(t, svc.Dir, "long.mp3", 2, base.Add(10*time.Minute))

	items, total, err := svc.List(context.Background(), ListFilter{Query: "LONG"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "long.mp3", items[0].Filename)

	min := 60.0
	items, _, err = svc.List(context.Background(), ListFilter{DurationMin: &min})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "long.mp3", items[0].Filename)

	cutoff := base.Add(5 * time.Minute)
	items, _, err = svc.List(context.Background(), ListFilter{DateTo: &cutoff})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "short.mp3", items[0].Filename)
}

func TestListPaginates(t *testing.T) {
	svc, _, _ := newTestService(t, stubProber{})
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		writeSynced(t, svc.Dir, string(rune('a'+i))+".mp3", byte(i+1), base.Add(time.Duration(i)*time.Minute))
	}

	items, total, err := svc.List(context.Background(), ListFilter{Page: 3, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 1)
	assert.Equal(t, "a.mp3", items[0].Filename)

	items, total, err = svc.List(context.Background(), ListFilter{Page: 4, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, items)
}

func TestListMissingDirIsEmpty(t *testing.T) {
	svc, _, _ := newTestService(t, stubProber{})
	svc.Dir = filepath.Join(svc.Dir, "does-not-exist")

	items, total, err := svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}

func TestResolveConfinesPaths(t *testing.T) {
	svc, _, _ := newTestService(t, stubProber{})

	path, err := svc.Resolve("call.mp3")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(svc.Dir, "call.mp3"), path)

	for _, name := range []string{"../escape.mp3", "/etc/passwd", "a/b.mp3", "..", "."} {
		_, err := svc.Resolve(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestProcessIngestsSyncedFiles(t *testing.T) {
	svc, s, q := newTestService(t, stubProber{})
	writeSynced(t, svc.Dir, "call1.mp3", 1, time.Now())
	writeSynced(t, svc.Dir, "call2.mp3", 2, time.Now())

	res, err := svc.Process(context.Background(), []string{"call1.mp3", "call2.mp3"}, "Ivan")
	require.NoError(t, err)
	require.Len(t, res.Fresh, 2)
	assert.Len(t, q.ids, 2)

	f, err := s.GetFile(context.Background(), res.Fresh[0])
	require.NoError(t, err)
	assert.Equal(t, "call1.mp3", f.OriginalName)
}

func TestProcessRejectsTraversal(t *testing.T) {
	svc, _, _ := newTestService(t, stubProber{})
	_, err := svc.Process(context.Background(), []string{"../outside.mp3"}, "Ivan")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestOperatorFromFilename(t *testing.T) {
	assert.Equal(t, "Ivan", OperatorFromFilename("call_ivan_2026-02-25.mp3"))
	assert.Equal(t, "Maria", OperatorFromFilename("rec_MARIA_x.wav"))
	assert.Equal(t, "Иван", OperatorFromFilename("call_иван_2026-02-25.mp3"))
	assert.Equal(t, "FTP", OperatorFromFilename("recording.mp3"))
	assert.Equal(t, "FTP", OperatorFromFilename("call_.mp3"))
}

func TestWatcherAutoIngests(t *testing.T) {
	svc, s, _ := newTestService(t, stubProber{})
	w := &Watcher{Service: svc, StabilityWindow: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before dropping the file.
	time.Sleep(100 * time.Millisecond)
	writeSynced(t, svc.Dir, "call_ivan_2026-02-25.mp3", 9, time.Now())

	require.Eventually(t, func() bool {
		files, _, err := s.ListFiles(context.Background(), store.ListFilter{})
		return err == nil && len(files) == 1
	}, 5*time.Second, 50*time.Millisecond)

	files, _, err := s.ListFiles(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, "Ivan", files[0].OperatorName)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
