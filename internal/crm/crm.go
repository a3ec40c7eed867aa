// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package crm ingests call-tracking webhooks and correlates their records
// with processed recordings by caller phone number.
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/callaudit/internal/log"
	"github.com/ManuGH/callaudit/internal/store"
)

// ErrMissingCallID rejects a webhook without a call id.
var ErrMissingCallID = errors.New("call id is required")

// Service processes webhook deliveries and runs the correlation sync.
type Service struct {
	Store *store.Store
}

// ProcessWebhook validates and stores one delivery. Payload values arrive
// as strings from form posts and as mixed types from JSON; both are
// tolerated. Redeliveries of the same call id are ignored.
func (s *Service) ProcessWebhook(ctx context.Context, payload map[string]any) (store.CallRecord, error) {
	callID := stringField(payload, "id")
	if callID == "" {
		return store.CallRecord{}, ErrMissingCallID
	}

	rec := store.CallRecord{
		CRMID:         callID,
		CallerPhone:   stringField(payload, "callerphone"),
		CalledPhone:   stringField(payload, "calledphone"),
		OperatorPhone: stringField(payload, "operatorphone"),
		OrderID:       stringField(payload, "order_id"),
		Status:        stringField(payload, "status"),
		HasRecording:  stringField(payload, "record") == "1" || stringField(payload, "recordlink") != "",
	}

	if d := intField(payload, "duration"); d > 0 {
		rec.Duration = &d
	}
	if ts := intField(payload, "calltime"); ts > 0 {
		t := time.Unix(int64(ts), 0).UTC()
		rec.CallDate = &t
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return store.CallRecord{}, fmt.Errorf("encode webhook payload: %w", err)
	}
	rec.RawData = raw

	if err := s.Store.InsertCallRecord(ctx, rec); err != nil {
		return store.CallRecord{}, err
	}

	lg := log.WithComponent("crm")
	lg.Info().
		Str("crm_id", callID).
		Str("caller_phone", rec.CallerPhone).
		Bool("has_recording", rec.HasRecording).
		Msg("webhook stored")
	return rec, nil
}

// Metadata returns the CRM record correlated with a file.
func (s *Service) Metadata(ctx context.Context, fileID string) (store.CallRecord, error) {
	id, err := parseUUID(fileID)
	if err != nil {
		return store.CallRecord{}, err
	}
	return s.Store.GetCallRecordByFileID(ctx, id)
}

// Sync links every uncorrelated record to the newest file sharing its
// caller phone and copies the CRM columns onto the file. Returns the
// number of records linked.
func (s *Service) Sync(ctx context.Context) (int, error) {
	records, err := s.Store.UnlinkedCallRecords(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, rec := range records {
		if rec.CallerPhone == "" {
			continue
		}
		f, err := s.Store.LatestFileByCallerPhone(ctx, rec.CallerPhone)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return updated, err
		}

		if err := s.Store.LinkCallRecord(ctx, rec.ID, f.ID); err != nil {
			return updated, err
		}
		if err := s.Store.UpdateFileCRM(ctx, f.ID,
			rec.CallerPhone, rec.CalledPhone, rec.OperatorPhone, rec.Duration, rec.OrderID); err != nil {
			return updated, err
		}
		updated++
	}

	lg := log.WithComponent("crm")
	lg.Info().
		Int("unlinked", len(records)).
		Int("updated", updated).
		Msg("crm sync finished")
	return updated, nil
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid file id %q: %w", s, err)
	}
	return id, nil
}

func stringField(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

func intField(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
