// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ManuGH/callaudit/internal/audio"
	"github.com/ManuGH/callaudit/internal/bus"
	"github.com/ManuGH/callaudit/internal/crm"
	"github.com/ManuGH/callaudit/internal/ftpsync"
	"github.com/ManuGH/callaudit/internal/ingest"
	"github.com/ManuGH/callaudit/internal/store"
)

// ---------------------------------------------------------------------------
// Upload

type uploadResponse struct {
	FileIDs    []string `json:"file_ids"`
	Operator   string   `json:"operator"`
	Status     string   `json:"status"`
	TotalFiles int      `json:"total_files"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	operatorName := r.FormValue("operator_name")
	headers := r.MultipartForm.File["files"]

	items := make([]ingest.Item, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file part: "+fh.Filename)
			return
		}
		// One extra byte so the validator sees the over-limit size.
		data, err := io.ReadAll(io.LimitReader(f, s.MaxUploadBytes+1))
		_ = f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file part: "+fh.Filename)
			return
		}
		items = append(items, ingest.Item{Name: fh.Filename, Data: data})
	}

	res, err := s.Ingestor.Ingest(r.Context(), operatorName, items)
	if err != nil {
		var all *ingest.AllRejectedError
		switch {
		case errors.Is(err, ingest.ErrEmptyOperator):
			writeError(w, http.StatusUnprocessableEntity, "operator_name must not be empty")
		case errors.Is(err, ingest.ErrBatchTooLarge):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &all):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "validation_error",
				"details": all.Rejections,
			})
		default:
			writeError(w, http.StatusInternalServerError, "upload failed")
		}
		return
	}

	ids := make([]string, len(res.FileIDs))
	for i, id := range res.FileIDs {
		ids[i] = id.String()
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		FileIDs:    ids,
		Operator:   res.Operator,
		Status:     string(store.StatusQueued),
		TotalFiles: len(ids),
	})
}

// ---------------------------------------------------------------------------
// Results

type analysisJSON struct {
	Standard int           `json:"standard"`
	Loyalty  int           `json:"loyalty"`
	Kindness int           `json:"kindness"`
	Overall  int           `json:"overall"`
	Summary  string        `json:"summary"`
	Quotes   []store.Quote `json:"quotes"`
	Model    string        `json:"model"`
}

func toAnalysisJSON(a *store.Analysis) *analysisJSON {
	if a == nil {
		return nil
	}
	quotes := a.Quotes
	if quotes == nil {
		quotes = []store.Quote{}
	}
	return &analysisJSON{
		Standard: a.Standard,
		Loyalty:  a.Loyalty,
		Kindness: a.Kindness,
		Overall:  a.Overall,
		Summary:  a.Summary,
		Quotes:   quotes,
		Model:    a.Model,
	}
}

type resultItem struct {
	FileID       string        `json:"file_id"`
	OriginalName string        `json:"original_name"`
	OperatorID   *string       `json:"operator_id"`
	OperatorName string        `json:"operator_name"`
	FileSize     int64         `json:"file_size"`
	DurationSec  *float64      `json:"duration_sec"`
	Status       string        `json:"status"`
	Stage        int           `json:"stage"`
	Progress     int           `json:"progress"`
	CreatedAt    time.Time     `json:"created_at"`
	Analysis     *analysisJSON `json:"analysis"`
}

type paginatedResults struct {
	Items []resultItem `json:"items"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
	Pages int          `json:"pages"`
}

func toResultItem(it store.FileListItem) resultItem {
	var opID *string
	if it.OperatorID != nil {
		id := it.OperatorID.String()
		opID = &id
	}
	return resultItem{
		FileID:       it.ID.String(),
		OriginalName: it.OriginalName,
		OperatorID:   opID,
		OperatorName: it.OperatorName,
		FileSize:     it.FileSize,
		DurationSec:  it.DurationSec,
		Status:       string(it.Status),
		Stage:        it.Stage,
		Progress:     it.Progress,
		CreatedAt:    it.CreatedAt,
		Analysis:     toAnalysisJSON(it.Analysis),
	}
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.ListFilter{
		Operator: q.Get("operator"),
		Status:   store.FileStatus(q.Get("status")),
		Query:    q.Get("q"),
		Page:     intParam(q.Get("page"), 1),
		Limit:    intParam(q.Get("limit"), 20),
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	if t, ok := timeParam(q.Get("date_from")); ok {
		filter.DateFrom = &t
	}
	if t, ok := timeParam(q.Get("date_to")); ok {
		filter.DateTo = &t
	}
	if n, ok := optionalInt(q.Get("score_min")); ok {
		filter.ScoreMin = &n
	}
	if n, ok := optionalInt(q.Get("score_max")); ok {
		filter.ScoreMax = &n
	}

	items, total, err := s.Store.ListFiles(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}

	out := make([]resultItem, 0, len(items))
	for _, it := range items {
		out = append(out, toResultItem(it))
	}
	pages := 1
	if total > 0 {
		pages = int(math.Ceil(float64(total) / float64(filter.Limit)))
	}
	writeJSON(w, http.StatusOK, paginatedResults{
		Items: out,
		Total: total,
		Page:  filter.Page,
		Limit: filter.Limit,
		Pages: pages,
	})
}

type diarizationJSON struct {
	Method     string          `json:"method"`
	Confidence *float64        `json:"confidence"`
	Segments   []store.Segment `json:"segments"`
}

type resultDetail struct {
	resultItem
	ErrorMessage string           `json:"error_message,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
	FullText     *string          `json:"full_text"`
	Diarization  *diarizationJSON `json:"diarization"`
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r)
	if !ok {
		return
	}

	detail, err := s.Store.GetFileDetail(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	out := resultDetail{
		resultItem: toResultItem(store.FileListItem{
			File:         detail.File,
			OperatorName: detail.OperatorName,
			Analysis:     detail.Analysis,
		}),
		ErrorMessage: detail.ErrorMessage,
		UpdatedAt:    detail.UpdatedAt,
	}
	if detail.Transcription != nil {
		out.FullText = &detail.Transcription.FullText
	}
	if d := detail.Diarization; d != nil {
		segments := d.Segments
		if segments == nil {
			segments = []store.Segment{}
		}
		out.Diarization = &diarizationJSON{
			Method:     d.Method,
			Confidence: d.Confidence,
			Segments:   segments,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r)
	if !ok {
		return
	}

	f, err := s.Store.GetFile(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	resp := map[string]any{
		"file_id":    f.ID.String(),
		"status":     string(f.Status),
		"progress":   f.Progress,
		"stage":      f.Stage,
		"stage_name": bus.StageName(f.Stage),
	}
	if f.Status == store.StatusFailed {
		resp["error"] = f.ErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Audio playback

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r)
	if !ok {
		return
	}

	f, err := s.Store.GetFile(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if f.AudioPath == "" {
		writeError(w, http.StatusNotFound, "Audio file not available on disk")
		return
	}
	if _, err := os.Stat(f.AudioPath); err != nil {
		writeError(w, http.StatusNotFound, "Audio file missing from disk")
		return
	}

	if mime, ok := ftpsync.MIMETypes[audio.Ext(f.AudioPath)]; ok {
		w.Header().Set("Content-Type", mime)
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", `inline; filename="`+filepath.Base(f.OriginalName)+`"`)
	http.ServeFile(w, r, f.AudioPath)
}

// ---------------------------------------------------------------------------
// Operators

func (s *Server) handleListOperators(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ops, err := s.Store.ListOperators(r.Context(), q.Get("q"), intParam(q.Get("limit"), 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}

	// Autocomplete contract: a plain list of names.
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, op.Name)
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleGetOperator(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r)
	if !ok {
		return
	}

	op, err := s.Store.GetOperator(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Operator not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	count, err := s.Store.CountFilesByOperator(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         op.ID.String(),
		"name":       op.Name,
		"created_at": op.CreatedAt,
		"file_count": count,
	})
}

// ---------------------------------------------------------------------------
// Health

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Health.Report(r.Context()))
}

// ---------------------------------------------------------------------------
// CRM

func (s *Server) handleCRMWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeWebhookPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	rec, err := s.CRM.ProcessWebhook(r.Context(), payload)
	if errors.Is(err, crm.ErrMissingCallID) {
		writeError(w, http.StatusBadRequest, "call id is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "crm_id": rec.CRMID})
}

// decodeWebhookPayload tolerates both JSON bodies and form posts; the CRM
// sends either depending on the notification type.
func decodeWebhookPayload(r *http.Request) (map[string]any, error) {
	ct := r.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") {
		var payload map[string]any
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
			return nil, err
		}
		return payload, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	payload := make(map[string]any, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			payload[key] = values[0]
		}
	}
	return payload, nil
}

func (s *Server) handleCRMSync(w http.ResponseWriter, r *http.Request) {
	updated, err := s.CRM.Sync(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) handleCRMMetadata(w http.ResponseWriter, r *http.Request) {
	rec, err := s.CRM.Metadata(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No CRM record for this file")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file id")
		return
	}
	writeJSON(w, http.StatusOK, toCallRecordJSON(rec))
}

func toCallRecordJSON(rec store.CallRecord) map[string]any {
	var fileID *string
	if rec.FileID != nil {
		id := rec.FileID.String()
		fileID = &id
	}
	return map[string]any{
		"crm_id":         rec.CRMID,
		"file_id":        fileID,
		"caller_phone":   rec.CallerPhone,
		"called_phone":   rec.CalledPhone,
		"operator_phone": rec.OperatorPhone,
		"duration":       rec.Duration,
		"order_id":       rec.OrderID,
		"call_date":      rec.CallDate,
		"status":         rec.Status,
		"has_recording":  rec.HasRecording,
	}
}

// ---------------------------------------------------------------------------
// Synced FTP directory

func (s *Server) handleFTPList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := ftpsync.ListFilter{
		Query: q.Get("q"),
		Page:  intParam(q.Get("page"), 1),
		Limit: intParam(q.Get("limit"), 50),
	}
	if t, ok := timeParam(q.Get("date_from")); ok {
		filter.DateFrom = &t
	}
	if t, ok := timeParam(q.Get("date_to")); ok {
		filter.DateTo = &t
	}
	if f, ok := optionalFloat(q.Get("duration_min")); ok {
		filter.DurationMin = &f
	}
	if f, ok := optionalFloat(q.Get("duration_max")); ok {
		filter.DurationMax = &f
	}

	items, total, err := s.FTP.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if items == nil {
		items = []ftpsync.FileItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files": items,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

func (s *Server) serveFTPFile(w http.ResponseWriter, r *http.Request, attachment bool) {
	name := chi.URLParam(r, "filename")
	path, err := s.FTP.Resolve(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	if mime, ok := ftpsync.MIMETypes[audio.Ext(name)]; ok {
		w.Header().Set("Content-Type", mime)
	}
	w.Header().Set("Accept-Ranges", "bytes")
	if attachment {
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleFTPStream(w http.ResponseWriter, r *http.Request) {
	s.serveFTPFile(w, r, false)
}

func (s *Server) handleFTPDownload(w http.ResponseWriter, r *http.Request) {
	s.serveFTPFile(w, r, true)
}

type ftpProcessRequest struct {
	Filenames    []string `json:"filenames"`
	OperatorName string   `json:"operator_name"`
}

func (s *Server) handleFTPProcess(w http.ResponseWriter, r *http.Request) {
	var req ftpProcessRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	if len(req.Filenames) == 0 {
		writeError(w, http.StatusBadRequest, "filenames must not be empty")
		return
	}
	if strings.TrimSpace(req.OperatorName) == "" {
		req.OperatorName = "FTP"
	}

	res, err := s.FTP.Process(r.Context(), req.Filenames, req.OperatorName)
	if err != nil {
		var all *ingest.AllRejectedError
		switch {
		case errors.Is(err, ftpsync.ErrInvalidName):
			writeError(w, http.StatusBadRequest, "invalid filename")
		case errors.As(err, &all):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "validation_error",
				"details": all.Rejections,
			})
		default:
			writeError(w, http.StatusInternalServerError, "processing failed")
		}
		return
	}

	ids := make([]string, len(res.FileIDs))
	for i, id := range res.FileIDs {
		ids[i] = id.String()
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		FileIDs:    ids,
		Operator:   res.Operator,
		Status:     string(store.StatusQueued),
		TotalFiles: len(ids),
	})
}

// ---------------------------------------------------------------------------
// Param helpers

func uuidParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func optionalInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func optionalFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func timeParam(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
