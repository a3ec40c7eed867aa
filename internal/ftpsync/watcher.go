// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ftpsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ManuGH/callaudit/internal/audio"
	"github.com/ManuGH/callaudit/internal/log"
)

// Watcher auto-ingests files the provider drops into the synced directory.
// The operator name is parsed from the provider's filename scheme.
type Watcher struct {
	Service *Service

	// StabilityWindow is how long a file's size must hold still before it
	// is considered fully uploaded. FTP writes arrive in chunks and the
	// Create event fires on the first byte.
	StabilityWindow time.Duration
}

// Run watches the synced directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	stability := w.StabilityWindow
	if stability <= 0 {
		stability = 2 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := os.MkdirAll(w.Service.Dir, 0o750); err != nil {
		return fmt.Errorf("create synced dir: %w", err)
	}
	if err := watcher.Add(w.Service.Dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", w.Service.Dir, err)
	}

	logger := log.WithComponent("ftpsync")
	logger.Info().Str("dir", w.Service.Dir).Msg("watching synced directory")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher channel closed")
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if _, supported := MIMETypes[audio.Ext(name)]; !supported {
				continue
			}
			go w.ingestWhenStable(ctx, name, stability)
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

// ingestWhenStable waits for the upload to finish, then processes the file.
// Deduplication in the ingestion gate makes repeated events harmless.
func (w *Watcher) ingestWhenStable(ctx context.Context, name string, stability time.Duration) {
	logger := log.WithComponent("ftpsync")

	path, err := w.Service.Resolve(name)
	if err != nil {
		return
	}
	if err := waitStable(ctx, path, stability, 10*time.Minute); err != nil {
		logger.Warn().Err(err).Str("file", name).Msg("synced file never stabilized")
		return
	}

	operator := OperatorFromFilename(name)
	res, err := w.Service.Process(ctx, []string{name}, operator)
	if err != nil {
		logger.Error().Err(err).Str("file", name).Msg("auto-ingest failed")
		return
	}
	logger.Info().
		Str("file", name).
		Str("operator", operator).
		Int("accepted", len(res.Fresh)).
		Int("rejected", len(res.Rejections)).
		Msg("auto-ingested synced file")
}

// waitStable returns once the file's size and mtime hold still for one
// stability window, or fails on timeout.
func waitStable(ctx context.Context, path string, window, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for stable file")
		}

		info1, err := os.Stat(path)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(window):
		}

		info2, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info2.Size() == info1.Size() && info2.ModTime().Equal(info1.ModTime()) && info2.Size() > 0 {
			return nil
		}
	}
}
