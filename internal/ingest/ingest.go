// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ingest is the single entry point for new recordings. Uploads,
// FTP-synced files and CRM downloads all pass the same gate: validation,
// dedup, durable blob write, database row, then the processing queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/ManuGH/callaudit/internal/audio"
	"github.com/ManuGH/callaudit/internal/log"
	"github.com/ManuGH/callaudit/internal/metrics"
	"github.com/ManuGH/callaudit/internal/store"
)

var (
	// ErrEmptyOperator rejects a batch without an operator name.
	ErrEmptyOperator = errors.New("operator name is empty")
	// ErrBatchTooLarge rejects an oversized batch outright.
	ErrBatchTooLarge = errors.New("too many files in batch")
)

// AllRejectedError aborts the batch when no file passed validation.
type AllRejectedError struct {
	Rejections []Rejection
}

func (e *AllRejectedError) Error() string {
	return fmt.Sprintf("all %d files rejected", len(e.Rejections))
}

// Item is one file of an incoming batch.
type Item struct {
	Name string
	Data []byte
}

// Rejection reports why one file was refused.
type Rejection struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Result is the outcome of one accepted batch. FileIDs preserves input
// order and includes resolved duplicates; Fresh lists only the ids that
// were actually created and enqueued.
type Result struct {
	FileIDs    []uuid.UUID
	Fresh      []uuid.UUID
	Rejections []Rejection
	Operator   string
}

// Enqueuer hands accepted files to the processing queue.
type Enqueuer interface {
	EnqueueSync(ctx context.Context, fileID uuid.UUID) error
}

// Ingestor runs the ingestion gate.
type Ingestor struct {
	Store        *store.Store
	Validator    *audio.Validator
	Queue        Enqueuer
	UploadsDir   string
	MaxBatchSize int
}

// Ingest validates and persists a batch under one operator. All database
// writes share one transaction; fresh files are enqueued only after it
// commits, so the queue never sees an id the database does not have.
func (i *Ingestor) Ingest(ctx context.Context, operatorName string, items []Item) (Result, error) {
	logger := log.WithComponent("ingest")

	if strings.TrimSpace(operatorName) == "" {
		return Result{}, ErrEmptyOperator
	}
	if len(items) > i.MaxBatchSize {
		return Result{}, fmt.Errorf("%w: %d files, limit is %d", ErrBatchTooLarge, len(items), i.MaxBatchSize)
	}

	var res Result
	err := i.Store.WithTx(ctx, func(tx *store.Tx) error {
		op, err := tx.UpsertOperatorByName(ctx, operatorName)
		if err != nil {
			return err
		}
		res.Operator = op.Name

		hashes, err := tx.KnownHashes(ctx)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(hashes))
		for h := range hashes {
			known[h] = true
		}

		for _, item := range items {
			meta, err := i.Validator.Validate(ctx, item.Name, item.Data, known)
			if err != nil {
				var dup *audio.DuplicateError
				if errors.As(err, &dup) {
					// Dedup resolves to the existing file instead of an error.
					if existing, ok := hashes[dup.Hash]; ok {
						res.FileIDs = append(res.FileIDs, existing)
						metrics.RecordUpload("duplicate")
						continue
					}
				}
				res.Rejections = append(res.Rejections, Rejection{File: item.Name, Error: err.Error()})
				metrics.RecordUpload("rejected")
				continue
			}

			fileID := uuid.New()
			path, err := i.writeBlob(fileID, meta.Ext, item.Data)
			if err != nil {
				return fmt.Errorf("store blob for %s: %w", item.Name, err)
			}

			duration := meta.DurationSec
			if err := tx.InsertFile(ctx, store.File{
				ID:           fileID,
				OperatorID:   &op.ID,
				OriginalName: item.Name,
				FileHash:     meta.Hash,
				FileSize:     meta.Size,
				DurationSec:  &duration,
				AudioPath:    path,
			}); err != nil {
				return err
			}

			known[meta.Hash] = true
			hashes[meta.Hash] = fileID
			res.FileIDs = append(res.FileIDs, fileID)
			res.Fresh = append(res.Fresh, fileID)
			metrics.RecordUpload("accepted")
		}

		if len(res.Rejections) > 0 && len(res.FileIDs) == 0 {
			return &AllRejectedError{Rejections: res.Rejections}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for _, fileID := range res.Fresh {
		if err := i.Queue.EnqueueSync(ctx, fileID); err != nil {
			// The row is committed; recovery will requeue it on restart.
			logger.Error().Err(err).Str("file_id", fileID.String()).
				Msg("enqueue after commit failed")
		}
	}

	logger.Info().
		Str("operator", res.Operator).
		Int("accepted", len(res.FileIDs)).
		Int("fresh", len(res.Fresh)).
		Int("rejected", len(res.Rejections)).
		Msg("batch ingested")
	return res, nil
}

// writeBlob lands the payload at <uploads_dir>/<file_id>.<ext> atomically.
func (i *Ingestor) writeBlob(fileID uuid.UUID, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(i.UploadsDir, 0o755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}
	path := filepath.Join(i.UploadsDir, fileID.String()+"."+ext)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return path, nil
}
