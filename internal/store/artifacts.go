// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ManuGH/callaudit/internal/log"
)

// SaveTranscription persists the stage-1 artefact. Any pre-existing row for
// the file is deleted first so re-runs stay idempotent; both statements share
// one transaction.
func (s *Store) SaveTranscription(ctx context.Context, tr Transcription) error {
	wordsJSON, err := json.Marshal(tr.Words)
	if err != nil {
		return fmt.Errorf("encode word timings: %w", err)
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx,
			`DELETE FROM transcriptions WHERE file_id = ?`, tr.FileID.String()); err != nil {
			return fmt.Errorf("delete transcription: %w", err)
		}
		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO transcriptions (id, file_id, full_text, word_timings, language, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), tr.FileID.String(), tr.FullText, string(wordsJSON), tr.Language, now())
		if err != nil {
			return fmt.Errorf("insert transcription: %w", err)
		}
		return nil
	})
}

// GetTranscription loads the stage-1 artefact for a file.
func (s *Store) GetTranscription(ctx context.Context, fileID uuid.UUID) (Transcription, error) {
	var tr Transcription
	var wordsJSON sql.NullString
	var createdStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT full_text, word_timings, language, created_at
		FROM transcriptions WHERE file_id = ?`, fileID.String(),
	).Scan(&tr.FullText, &wordsJSON, &tr.Language, &createdStr)
	if err == sql.ErrNoRows {
		return Transcription{}, ErrNotFound
	}
	if err != nil {
		return Transcription{}, fmt.Errorf("select transcription: %w", err)
	}
	tr.FileID = fileID
	tr.CreatedAt = parseTime(createdStr)
	if wordsJSON.Valid && wordsJSON.String != "" {
		if err := json.Unmarshal([]byte(wordsJSON.String), &tr.Words); err != nil {
			lg := log.WithComponent("store")
			lg.Warn().
				Err(err).
				Str("file_id", fileID.String()).
				Msg("corrupt word timings, returning empty set")
			tr.Words = nil
		}
	}
	return tr, nil
}

// SaveDiarization persists the stage-2 artefact (delete-then-insert).
func (s *Store) SaveDiarization(ctx context.Context, d Diarization) error {
	segmentsJSON, err := json.Marshal(d.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	var confidence any
	if d.Confidence != nil {
		confidence = *d.Confidence
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx,
			`DELETE FROM diarizations WHERE file_id = ?`, d.FileID.String()); err != nil {
			return fmt.Errorf("delete diarization: %w", err)
		}
		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO diarizations (id, file_id, segments, method, confidence, num_speakers, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), d.FileID.String(), string(segmentsJSON), d.Method, confidence, d.NumSpeakers, now())
		if err != nil {
			return fmt.Errorf("insert diarization: %w", err)
		}
		return nil
	})
}

// GetDiarization loads the stage-2 artefact for a file.
func (s *Store) GetDiarization(ctx context.Context, fileID uuid.UUID) (Diarization, error) {
	var d Diarization
	var segmentsJSON string
	var method sql.NullString
	var confidence sql.NullFloat64
	var numSpeakers sql.NullInt64
	var createdStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT segments, method, confidence, num_speakers, created_at
		FROM diarizations WHERE file_id = ?`, fileID.String(),
	).Scan(&segmentsJSON, &method, &confidence, &numSpeakers, &createdStr)
	if err == sql.ErrNoRows {
		return Diarization{}, ErrNotFound
	}
	if err != nil {
		return Diarization{}, fmt.Errorf("select diarization: %w", err)
	}
	d.FileID = fileID
	d.Method = method.String
	if confidence.Valid {
		v := confidence.Float64
		d.Confidence = &v
	}
	d.NumSpeakers = int(numSpeakers.Int64)
	d.CreatedAt = parseTime(createdStr)
	if err := json.Unmarshal([]byte(segmentsJSON), &d.Segments); err != nil {
		return Diarization{}, fmt.Errorf("decode segments: %w", err)
	}
	return d, nil
}

// SaveAnalysis persists the stage-3 artefact (delete-then-insert).
// The schema check constraints reject any score outside [0,100].
func (s *Store) SaveAnalysis(ctx context.Context, a Analysis) error {
	quotesJSON, err := json.Marshal(a.Quotes)
	if err != nil {
		return fmt.Errorf("encode quotes: %w", err)
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx,
			`DELETE FROM analyses WHERE file_id = ?`, a.FileID.String()); err != nil {
			return fmt.Errorf("delete analysis: %w", err)
		}
		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO analyses (id, file_id, standard, loyalty, kindness, overall, summary, quotes, llm_model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), a.FileID.String(), a.Standard, a.Loyalty, a.Kindness, a.Overall,
			a.Summary, string(quotesJSON), a.Model, now())
		if err != nil {
			return fmt.Errorf("insert analysis: %w", err)
		}
		return nil
	})
}

// GetAnalysis loads the stage-3 artefact for a file.
func (s *Store) GetAnalysis(ctx context.Context, fileID uuid.UUID) (Analysis, error) {
	var a Analysis
	var quotesJSON, model sql.NullString
	var createdStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT standard, loyalty, kindness, overall, summary, quotes, llm_model, created_at
		FROM analyses WHERE file_id = ?`, fileID.String(),
	).Scan(&a.Standard, &a.Loyalty, &a.Kindness, &a.Overall, &a.Summary, &quotesJSON, &model, &createdStr)
	if err == sql.ErrNoRows {
		return Analysis{}, ErrNotFound
	}
	if err != nil {
		return Analysis{}, fmt.Errorf("select analysis: %w", err)
	}
	a.FileID = fileID
	a.Model = model.String
	a.CreatedAt = parseTime(createdStr)
	a.Quotes = decodeQuotes(quotesJSON.String)
	return a, nil
}

func decodeQuotes(raw string) []Quote {
	if raw == "" || raw == "null" {
		return nil
	}
	var quotes []Quote
	if err := json.Unmarshal([]byte(raw), &quotes); err != nil {
		return nil
	}
	return quotes
}
