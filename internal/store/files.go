// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const fileColumns = `id, operator_id, original_name, file_hash, file_size, duration_sec,
	audio_path, status, stage, progress, retry_count, error_message,
	caller_phone, called_phone, operator_phone, call_duration, order_id,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (File, error) {
	var f File
	var idStr string
	var operatorID, audioPath, errorMessage sql.NullString
	var callerPhone, calledPhone, operatorPhone, orderID sql.NullString
	var durationSec sql.NullFloat64
	var callDuration sql.NullInt64
	var createdStr, updatedStr string

	err := row.Scan(
		&idStr, &operatorID, &f.OriginalName, &f.FileHash, &f.FileSize, &durationSec,
		&audioPath, &f.Status, &f.Stage, &f.Progress, &f.RetryCount, &errorMessage,
		&callerPhone, &calledPhone, &operatorPhone, &callDuration, &orderID,
		&createdStr, &updatedStr,
	)
	if err != nil {
		return File{}, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return File{}, fmt.Errorf("corrupt file id %q: %w", idStr, err)
	}
	f.ID = id

	if operatorID.Valid {
		if oid, err := uuid.Parse(operatorID.String); err == nil {
			f.OperatorID = &oid
		}
	}
	if durationSec.Valid {
		v := durationSec.Float64
		f.DurationSec = &v
	}
	f.AudioPath = audioPath.String
	f.ErrorMessage = errorMessage.String
	f.CallerPhone = callerPhone.String
	f.CalledPhone = calledPhone.String
	f.OperatorPhone = operatorPhone.String
	if callDuration.Valid {
		v := int(callDuration.Int64)
		f.CallDuration = &v
	}
	f.OrderID = orderID.String
	f.CreatedAt = parseTime(createdStr)
	f.UpdatedAt = parseTime(updatedStr)
	return f, nil
}

// InsertFile persists a freshly ingested file (status=queued, stage=0).
func (s *Store) InsertFile(ctx context.Context, f File) error {
	return insertFile(ctx, s.db, f)
}

// InsertFile is the transactional variant used by ingestion.
func (t *Tx) InsertFile(ctx context.Context, f File) error {
	return insertFile(ctx, t.tx, f)
}

func insertFile(ctx context.Context, q dbtx, f File) error {
	if f.Status == "" {
		f.Status = StatusQueued
	}
	var operatorID any
	if f.OperatorID != nil {
		operatorID = f.OperatorID.String()
	}
	var durationSec any
	if f.DurationSec != nil {
		durationSec = *f.DurationSec
	}
	ts := now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO files (id, operator_id, original_name, file_hash, file_size,
			duration_sec, audio_path, status, stage, progress, retry_count,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID.String(), operatorID, f.OriginalName, f.FileHash, f.FileSize,
		durationSec, nullable(f.AudioPath), string(f.Status), f.Stage, f.Progress, f.RetryCount,
		ts, ts,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetFile retrieves one file by id.
func (s *Store) GetFile(ctx context.Context, id uuid.UUID) (File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ?`, id.String())
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, fmt.Errorf("select file: %w", err)
	}
	return f, nil
}

// KnownHashes returns the file_hash → id mapping of every non-failed file.
// Ingestion uses it as the dedup snapshot.
func (s *Store) KnownHashes(ctx context.Context) (map[string]uuid.UUID, error) {
	return knownHashes(ctx, s.db)
}

// KnownHashes is the transactional variant used by ingestion.
func (t *Tx) KnownHashes(ctx context.Context) (map[string]uuid.UUID, error) {
	return knownHashes(ctx, t.tx)
}

func knownHashes(ctx context.Context, q dbtx) (map[string]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT file_hash, id FROM files WHERE status != ?`, string(StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("select known hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]uuid.UUID)
	for rows.Next() {
		var hash, idStr string
		if err := rows.Scan(&hash, &idStr); err != nil {
			return nil, err
		}
		id, perr := uuid.Parse(idStr)
		if perr != nil {
			continue
		}
		// First-wins: keep the earliest mapping if the same hash appears twice.
		if _, ok := out[hash]; !ok {
			out[hash] = id
		}
	}
	return out, rows.Err()
}

// SetFileProgress records a status/stage/progress transition for a running job.
// Stage never decreases here; the caller drives transitions in order.
func (s *Store) SetFileProgress(ctx context.Context, id uuid.UUID, status FileStatus, stage, progress int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET status = ?, stage = ?, progress = ?, updated_at = ?
		WHERE id = ?`,
		string(status), stage, progress, now(), id.String())
	if err != nil {
		return fmt.Errorf("update file progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailFile marks a job failed, records the cause and bumps retry_count.
func (s *Store) FailFile(ctx context.Context, id uuid.UUID, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET status = ?, error_message = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE id = ?`,
		string(StatusFailed), errorMessage, now(), id.String())
	if err != nil {
		return fmt.Errorf("fail file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecoverInterrupted rewrites every file stuck in a running status back to
// queued, leaving stage untouched so the orchestrator resumes from its last
// checkpoint. Returns the affected ids for re-enqueueing.
func (s *Store) RecoverInterrupted(ctx context.Context) ([]uuid.UUID, error) {
	placeholders := make([]string, len(RunningStatuses))
	args := make([]any, len(RunningStatuses))
	for i, st := range RunningStatuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	in := strings.Join(placeholders, ", ")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM files WHERE status IN (`+in+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("select interrupted files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		if id, perr := uuid.Parse(idStr); perr == nil {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE files SET status = ?, updated_at = ? WHERE id = ?`,
			string(StatusQueued), now(), id.String()); err != nil {
			return nil, fmt.Errorf("requeue file %s: %w", id, err)
		}
	}
	return ids, nil
}

// QueuedFiles returns the ids still waiting for a worker, oldest first.
// Startup refills the in-memory queue from this after RecoverInterrupted.
func (s *Store) QueuedFiles(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM files WHERE status = ? ORDER BY created_at ASC`,
		string(StatusQueued))
	if err != nil {
		return nil, fmt.Errorf("select queued files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		if id, perr := uuid.Parse(idStr); perr == nil {
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// UpdateFileCRM writes the CRM correlation columns on a file.
func (s *Store) UpdateFileCRM(ctx context.Context, id uuid.UUID, callerPhone, calledPhone, operatorPhone string, duration *int, orderID string) error {
	var dur any
	if duration != nil {
		dur = *duration
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET caller_phone = ?, called_phone = ?, operator_phone = ?,
			call_duration = ?, order_id = ?, updated_at = ?
		WHERE id = ?`,
		nullable(callerPhone), nullable(calledPhone), nullable(operatorPhone),
		dur, nullable(orderID), now(), id.String())
	if err != nil {
		return fmt.Errorf("update file crm columns: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestFileByCallerPhone returns the newest file matching a caller phone, if any.
func (s *Store) LatestFileByCallerPhone(ctx context.Context, phone string) (File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE caller_phone = ? ORDER BY created_at DESC LIMIT 1`,
		phone)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, fmt.Errorf("select file by caller phone: %w", err)
	}
	return f, nil
}
