// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ftpsync exposes the telephony provider's synced FTP directory:
// browsing with probed metadata, confined path resolution for streaming,
// and batch handoff into the ingestion gate.
package ftpsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ManuGH/callaudit/internal/audio"
	"github.com/ManuGH/callaudit/internal/ingest"
)

// ErrInvalidName rejects filenames that escape the synced directory.
var ErrInvalidName = errors.New("invalid filename")

// MIMETypes maps supported extensions to their content type.
var MIMETypes = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
	"m4a":  "audio/mp4",
	"webm": "audio/webm",
}

// FileItem is one synced file with probed metadata.
type FileItem struct {
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	DurationSec *float64  `json:"duration_sec"`
}

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Query       string
	DateFrom    *time.Time
	DateTo      *time.Time
	DurationMin *float64
	DurationMax *float64
	Page        int
	Limit       int
}

// Service works against one synced directory.
type Service struct {
	Dir      string
	Prober   audio.Prober
	Ingestor *ingest.Ingestor
}

// Resolve maps a bare filename to its absolute path inside the synced
// directory. Any traversal attempt fails.
func (s *Service) Resolve(filename string) (string, error) {
	name := filepath.Base(filename)
	if name != filename || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.Dir, name), nil
}

// List returns one page of synced audio files, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]FileItem, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read synced dir: %w", err)
	}

	var items []FileItem
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := MIMETypes[audio.Ext(entry.Name())]; !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		item := FileItem{
			Filename:  entry.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		}
		if probed, err := s.Prober.Probe(ctx, filepath.Join(s.Dir, entry.Name())); err == nil {
			d := probed.DurationSec
			item.DurationSec = &d
		}
		if !matches(item, filter) {
			continue
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	offset := (filter.Page - 1) * filter.Limit
	if offset >= total {
		return nil, total, nil
	}
	end := offset + filter.Limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

func matches(item FileItem, filter ListFilter) bool {
	if filter.Query != "" && !strings.Contains(strings.ToLower(item.Filename), strings.ToLower(filter.Query)) {
		return false
	}
	if filter.DateFrom != nil && item.CreatedAt.Before(*filter.DateFrom) {
		return false
	}
	if filter.DateTo != nil && item.CreatedAt.After(*filter.DateTo) {
		return false
	}
	if filter.DurationMin != nil && (item.DurationSec == nil || *item.DurationSec < *filter.DurationMin) {
		return false
	}
	if filter.DurationMax != nil && (item.DurationSec == nil || *item.DurationSec > *filter.DurationMax) {
		return false
	}
	return true
}

// Process reads the named synced files and hands them to ingestion as one
// batch under the given operator.
func (s *Service) Process(ctx context.Context, filenames []string, operatorName string) (ingest.Result, error) {
	items := make([]ingest.Item, 0, len(filenames))
	for _, name := range filenames {
		path, err := s.Resolve(name)
		if err != nil {
			return ingest.Result{}, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return ingest.Result{}, fmt.Errorf("read synced file %s: %w", name, err)
		}
		items = append(items, ingest.Item{Name: name, Data: data})
	}
	return s.Ingestor.Ingest(ctx, operatorName, items)
}

// OperatorFromFilename extracts the operator from the provider's naming
// scheme, call_<operator>_<date>.<ext>. Unknown shapes fall back to "FTP".
func OperatorFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "_")
	if len(parts) >= 2 && parts[1] != "" {
		// Names may be Cyrillic, so casing must be rune-aware.
		return cases.Title(language.Und).String(parts[1])
	}
	return "FTP"
}
