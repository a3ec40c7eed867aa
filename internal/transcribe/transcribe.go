// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package transcribe turns a call recording into text with word timings.
package transcribe

import (
	"context"

	"github.com/ManuGH/callaudit/internal/store"
)

// Result is a completed transcription for one recording.
type Result struct {
	FullText string
	Words    []store.WordTiming
	Language string
}

// Engine produces a transcript from an audio file on disk.
type Engine interface {
	Transcribe(ctx context.Context, path string) (Result, error)
}
