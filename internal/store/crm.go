// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// InsertCallRecord stores a CRM webhook entry. Duplicate deliveries for the
// same crm_id are ignored (webhooks retry).
func (s *Store) InsertCallRecord(ctx context.Context, rec CallRecord) error {
	var callDate any
	if rec.CallDate != nil {
		callDate = formatTime(*rec.CallDate)
	}
	var duration any
	if rec.Duration != nil {
		duration = *rec.Duration
	}
	var fileID any
	if rec.FileID != nil {
		fileID = rec.FileID.String()
	}
	raw := "{}"
	if len(rec.RawData) > 0 {
		raw = string(rec.RawData)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_records (crm_id, file_id, caller_phone, called_phone, operator_phone,
			duration, order_id, call_date, status, has_recording, local_path, raw_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(crm_id) DO NOTHING`,
		rec.CRMID, fileID, nullable(rec.CallerPhone), nullable(rec.CalledPhone), nullable(rec.OperatorPhone),
		duration, nullable(rec.OrderID), callDate, nullable(rec.Status), boolToInt(rec.HasRecording),
		nullable(rec.LocalPath), raw, now())
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const callRecordColumns = `id, crm_id, file_id, caller_phone, called_phone, operator_phone,
	duration, order_id, call_date, status, has_recording, local_path, raw_data, created_at`

func scanCallRecord(row rowScanner) (CallRecord, error) {
	var rec CallRecord
	var fileID, callerPhone, calledPhone, operatorPhone sql.NullString
	var orderID, callDate, status, localPath, rawData sql.NullString
	var duration sql.NullInt64
	var hasRecording int
	var createdStr string

	err := row.Scan(&rec.ID, &rec.CRMID, &fileID, &callerPhone, &calledPhone, &operatorPhone,
		&duration, &orderID, &callDate, &status, &hasRecording, &localPath, &rawData, &createdStr)
	if err != nil {
		return CallRecord{}, err
	}

	if fileID.Valid {
		if id, perr := uuid.Parse(fileID.String); perr == nil {
			rec.FileID = &id
		}
	}
	rec.CallerPhone = callerPhone.String
	rec.CalledPhone = calledPhone.String
	rec.OperatorPhone = operatorPhone.String
	if duration.Valid {
		v := int(duration.Int64)
		rec.Duration = &v
	}
	rec.OrderID = orderID.String
	if callDate.Valid && callDate.String != "" {
		t := parseTime(callDate.String)
		rec.CallDate = &t
	}
	rec.Status = status.String
	rec.HasRecording = hasRecording != 0
	rec.LocalPath = localPath.String
	if rawData.Valid {
		rec.RawData = json.RawMessage(rawData.String)
	}
	rec.CreatedAt = parseTime(createdStr)
	return rec, nil
}

// GetCallRecordByFileID returns the CRM record correlated to a file, if any.
func (s *Store) GetCallRecordByFileID(ctx context.Context, fileID uuid.UUID) (CallRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE file_id = ?`, fileID.String())
	rec, err := scanCallRecord(row)
	if err == sql.ErrNoRows {
		return CallRecord{}, ErrNotFound
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("select call record: %w", err)
	}
	return rec, nil
}

// UnlinkedCallRecords returns webhook entries not yet correlated to a file.
func (s *Store) UnlinkedCallRecords(ctx context.Context) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+callRecordColumns+` FROM call_records WHERE file_id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("select unlinked call records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanCallRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LinkCallRecord attaches a CRM record to a file.
func (s *Store) LinkCallRecord(ctx context.Context, recordID int64, fileID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE call_records SET file_id = ? WHERE id = ?`, fileID.String(), recordID)
	if err != nil {
		return fmt.Errorf("link call record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
