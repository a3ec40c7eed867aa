// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package audio validates uploaded call recordings before they enter the
// pipeline: container format, size, probed duration and content hash.
package audio

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError is a client-side rejection. The gate maps it to a 4xx
// while infrastructure failures stay 5xx.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// DuplicateError marks content already known to the system. Its message
// carries the hash so callers can resolve the existing file.
type DuplicateError struct {
	Hash string
}

func (e *DuplicateError) Error() string {
	return "duplicate:" + e.Hash
}

// magicChecks maps an extension to the byte signatures that may open the
// file. A non-zero offset matches at that position.
type magic struct {
	prefix []byte
	offset int
}

var magicChecks = map[string][]magic{
	"mp3": {
		{prefix: []byte{0xFF, 0xFB}},
		{prefix: []byte{0xFF, 0xF3}},
		{prefix: []byte{0xFF, 0xF2}},
		{prefix: []byte("ID3")},
	},
	"wav":  {{prefix: []byte("RIFF")}},
	"ogg":  {{prefix: []byte("OggS")}},
	"flac": {{prefix: []byte("fLaC")}},
	"webm": {{prefix: []byte{0x1A, 0x45, 0xDF, 0xA3}}},
	"m4a":  {{prefix: []byte("ftyp"), offset: 4}},
}

// Ext returns the lowercased extension of name without the leading dot.
func Ext(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// HashContent returns the hex sha256 of the payload, the pipeline's dedup key.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func checkMagic(ext string, data []byte) bool {
	for _, m := range magicChecks[ext] {
		end := m.offset + len(m.prefix)
		if len(data) >= end && bytes.Equal(data[m.offset:end], m.prefix) {
			return true
		}
	}
	return false
}

// Meta is what validation learns about an accepted payload.
type Meta struct {
	Ext         string
	Hash        string
	Size        int64
	DurationSec float64
	Channels    int
}

// Validator runs the ingestion gate checks in a fixed order: extension,
// size, magic bytes, probed duration, dedup. The dedup check runs last so
// a duplicate report always refers to playable content.
type Validator struct {
	MaxBytes       int64
	MinDurationSec float64
	MaxDurationSec float64
	Prober         Prober
}

// Validate checks one payload against the gate. known is the dedup set for
// this batch; the caller grows it between calls so intra-batch duplicates
// are caught too.
func (v *Validator) Validate(ctx context.Context, name string, data []byte, known map[string]bool) (Meta, error) {
	ext := Ext(name)
	if _, ok := magicChecks[ext]; !ok {
		return Meta{}, &ValidationError{Field: "extension", Msg: fmt.Sprintf("unsupported format %q", ext)}
	}
	if len(data) == 0 {
		return Meta{}, &ValidationError{Field: "size", Msg: "file is empty"}
	}
	if int64(len(data)) > v.MaxBytes {
		return Meta{}, &ValidationError{
			Field: "size",
			Msg:   fmt.Sprintf("file is %d bytes, limit is %d", len(data), v.MaxBytes),
		}
	}
	if !checkMagic(ext, data) {
		return Meta{}, &ValidationError{Field: "content", Msg: fmt.Sprintf("content does not match %s signature", ext)}
	}

	hash := HashContent(data)

	info, err := v.probeBytes(ctx, ext, data)
	if err != nil {
		return Meta{}, err
	}
	if info.DurationSec < v.MinDurationSec {
		return Meta{}, &ValidationError{
			Field: "duration",
			Msg:   fmt.Sprintf("%.1fs is below the %.0fs minimum", info.DurationSec, v.MinDurationSec),
		}
	}
	if info.DurationSec > v.MaxDurationSec {
		return Meta{}, &ValidationError{
			Field: "duration",
			Msg:   fmt.Sprintf("%.1fs exceeds the %.0fs maximum", info.DurationSec, v.MaxDurationSec),
		}
	}

	if known[hash] {
		return Meta{}, &DuplicateError{Hash: hash}
	}

	return Meta{
		Ext:         ext,
		Hash:        hash,
		Size:        int64(len(data)),
		DurationSec: info.DurationSec,
		Channels:    info.Channels,
	}, nil
}

// probeBytes writes the payload to a temp file for ffprobe and cleans up.
func (v *Validator) probeBytes(ctx context.Context, ext string, data []byte) (Info, error) {
	tmp, err := os.CreateTemp("", "callaudit-probe-*."+ext)
	if err != nil {
		return Info{}, fmt.Errorf("create probe temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return Info{}, fmt.Errorf("write probe temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Info{}, fmt.Errorf("close probe temp file: %w", err)
	}

	info, err := v.Prober.Probe(ctx, tmpPath)
	if err != nil {
		return Info{}, &ValidationError{Field: "content", Msg: "file cannot be decoded"}
	}
	return info, nil
}
