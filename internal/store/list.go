// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ListFiles returns one page of the results listing plus the unpaged total.
func (s *Store) ListFiles(ctx context.Context, filter ListFilter) ([]FileListItem, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}

	where := " WHERE 1=1"
	args := []any{}

	if filter.Operator != "" {
		where += ` AND o.name LIKE ? COLLATE NOCASE`
		args = append(args, "%"+filter.Operator+"%")
	}
	if filter.Status != "" {
		where += ` AND f.status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.DateFrom != nil {
		where += ` AND f.created_at >= ?`
		args = append(args, formatTime(*filter.DateFrom))
	}
	if filter.DateTo != nil {
		where += ` AND f.created_at <= ?`
		args = append(args, formatTime(*filter.DateTo))
	}
	if filter.Query != "" {
		where += ` AND f.original_name LIKE ? COLLATE NOCASE`
		args = append(args, "%"+filter.Query+"%")
	}

	join := `
		FROM files f
		LEFT JOIN operators o ON o.id = f.operator_id
		LEFT JOIN analyses a ON a.file_id = f.id`
	// Score bounds require a present analysis, so they flip the join to inner.
	if filter.ScoreMin != nil || filter.ScoreMax != nil {
		join = `
		FROM files f
		LEFT JOIN operators o ON o.id = f.operator_id
		JOIN analyses a ON a.file_id = f.id`
		if filter.ScoreMin != nil {
			where += ` AND a.overall >= ?`
			args = append(args, *filter.ScoreMin)
		}
		if filter.ScoreMax != nil {
			where += ` AND a.overall <= ?`
			args = append(args, *filter.ScoreMax)
		}
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+join+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}

	query := `SELECT ` + prefixedFileColumns + `,
		o.name,
		a.standard, a.loyalty, a.kindness, a.overall, a.summary, a.quotes, a.llm_model` +
		join + where + `
		ORDER BY f.created_at DESC
		LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []FileListItem
	for rows.Next() {
		item, err := scanListItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

const prefixedFileColumns = `f.id, f.operator_id, f.original_name, f.file_hash, f.file_size, f.duration_sec,
	f.audio_path, f.status, f.stage, f.progress, f.retry_count, f.error_message,
	f.caller_phone, f.called_phone, f.operator_phone, f.call_duration, f.order_id,
	f.created_at, f.updated_at`

func scanListItem(rows *sql.Rows) (FileListItem, error) {
	var item FileListItem
	var idStr string
	var operatorID, audioPath, errorMessage sql.NullString
	var callerPhone, calledPhone, operatorPhone, orderID sql.NullString
	var durationSec sql.NullFloat64
	var callDuration sql.NullInt64
	var createdStr, updatedStr string
	var operatorName sql.NullString
	var standard, loyalty, kindness, overall sql.NullInt64
	var summary, quotesJSON, model sql.NullString

	err := rows.Scan(
		&idStr, &operatorID, &item.OriginalName, &item.FileHash, &item.FileSize, &durationSec,
		&audioPath, &item.Status, &item.Stage, &item.Progress, &item.RetryCount, &errorMessage,
		&callerPhone, &calledPhone, &operatorPhone, &callDuration, &orderID,
		&createdStr, &updatedStr,
		&operatorName,
		&standard, &loyalty, &kindness, &overall, &summary, &quotesJSON, &model,
	)
	if err != nil {
		return FileListItem{}, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return FileListItem{}, fmt.Errorf("corrupt file id %q: %w", idStr, err)
	}
	item.ID = id
	if operatorID.Valid {
		if oid, perr := uuid.Parse(operatorID.String); perr == nil {
			item.OperatorID = &oid
		}
	}
	if durationSec.Valid {
		v := durationSec.Float64
		item.DurationSec = &v
	}
	item.AudioPath = audioPath.String
	item.ErrorMessage = errorMessage.String
	item.CallerPhone = callerPhone.String
	item.CalledPhone = calledPhone.String
	item.OperatorPhone = operatorPhone.String
	if callDuration.Valid {
		v := int(callDuration.Int64)
		item.CallDuration = &v
	}
	item.OrderID = orderID.String
	item.CreatedAt = parseTime(createdStr)
	item.UpdatedAt = parseTime(updatedStr)
	item.OperatorName = operatorName.String

	if standard.Valid && summary.Valid {
		a := &Analysis{
			FileID:   id,
			Standard: int(standard.Int64),
			Loyalty:  int(loyalty.Int64),
			Kindness: int(kindness.Int64),
			Overall:  int(overall.Int64),
			Summary:  summary.String,
			Model:    model.String,
		}
		a.Quotes = decodeQuotes(quotesJSON.String)
		item.Analysis = a
	}
	return item, nil
}

// GetFileDetail returns one file with every derived artefact attached.
func (s *Store) GetFileDetail(ctx context.Context, id uuid.UUID) (FileDetail, error) {
	f, err := s.GetFile(ctx, id)
	if err != nil {
		return FileDetail{}, err
	}

	detail := FileDetail{File: f}

	if f.OperatorID != nil {
		if op, err := s.GetOperator(ctx, *f.OperatorID); err == nil {
			detail.OperatorName = op.Name
		}
	}

	if tr, err := s.GetTranscription(ctx, id); err == nil {
		detail.Transcription = &tr
	} else if err != ErrNotFound {
		return FileDetail{}, err
	}
	if d, err := s.GetDiarization(ctx, id); err == nil {
		detail.Diarization = &d
	} else if err != ErrNotFound {
		return FileDetail{}, err
	}
	if a, err := s.GetAnalysis(ctx, id); err == nil {
		detail.Analysis = &a
	} else if err != ErrNotFound {
		return FileDetail{}, err
	}
	return detail, nil
}
