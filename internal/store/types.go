// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FileStatus is the lifecycle status of an ingested recording.
type FileStatus string

const (
	StatusQueued       FileStatus = "queued"
	StatusTranscribing FileStatus = "transcribing"
	StatusDiarizing    FileStatus = "diarizing"
	StatusAnalyzing    FileStatus = "analyzing"
	StatusDone         FileStatus = "done"
	StatusFailed       FileStatus = "failed"
)

// RunningStatuses are the statuses a worker holds while a job is in flight.
// A file left in one of these after a restart was interrupted mid-stage.
var RunningStatuses = []FileStatus{StatusTranscribing, StatusDiarizing, StatusAnalyzing}

// Running reports whether the status means a worker owns the job.
func (s FileStatus) Running() bool {
	switch s {
	case StatusTranscribing, StatusDiarizing, StatusAnalyzing:
		return true
	}
	return false
}

// Terminal reports whether the status is final.
func (s FileStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Operator is a call-center agent. Name acts as a natural key at ingestion
// (first-wins upsert); the schema does not enforce uniqueness.
type Operator struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// File is one ingested audio recording tracked through the pipeline.
type File struct {
	ID           uuid.UUID
	OperatorID   *uuid.UUID
	OriginalName string
	FileHash     string
	FileSize     int64
	DurationSec  *float64
	AudioPath    string
	Status       FileStatus
	Stage        int
	Progress     int
	RetryCount   int
	ErrorMessage string

	// CRM correlation (populated by the webhook sync, may be empty)
	CallerPhone   string
	CalledPhone   string
	OperatorPhone string
	CallDuration  *int
	OrderID       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WordTiming is a single transcript word with its time window.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcription is the stage-1 artefact, 1:1 with a File.
type Transcription struct {
	FileID    uuid.UUID
	FullText  string
	Words     []WordTiming
	Language  string
	CreatedAt time.Time
}

// Speaker is a diarization role label.
type Speaker string

const (
	SpeakerOperator Speaker = "operator"
	SpeakerClient   Speaker = "client"
	SpeakerUnknown  Speaker = "unknown"
)

// Segment is a speaker-labelled slice of the transcript.
type Segment struct {
	Speaker Speaker `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

// Diarization is the stage-2 artefact, 1:1 with a File.
// Confidence is nil for exact results (stereo channel split).
type Diarization struct {
	FileID      uuid.UUID
	Segments    []Segment
	Method      string
	Confidence  *float64
	NumSpeakers int
	CreatedAt   time.Time
}

// Quote is a supporting citation from the scoring engine.
type Quote struct {
	Text      string `json:"text"`
	Criterion string `json:"criterion"`
	Sentiment string `json:"sentiment"`
}

// Analysis is the stage-3 artefact, 1:1 with a File. All scores are 0-100.
type Analysis struct {
	FileID    uuid.UUID
	Standard  int
	Loyalty   int
	Kindness  int
	Overall   int
	Summary   string
	Quotes    []Quote
	Model     string
	CreatedAt time.Time
}

// CallRecord is a CRM webhook entry awaiting (or holding) correlation to a File.
type CallRecord struct {
	ID            int64
	CRMID         string
	FileID        *uuid.UUID
	CallerPhone   string
	CalledPhone   string
	OperatorPhone string
	Duration      *int
	OrderID       string
	CallDate      *time.Time
	Status        string
	HasRecording  bool
	LocalPath     string
	RawData       json.RawMessage
	CreatedAt     time.Time
}

// ListFilter narrows ListFiles results. Zero values mean "no filter".
type ListFilter struct {
	Operator  string // operator name, substring match
	Status    FileStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	ScoreMin  *int // on analyses.overall; forces the analysis join
	ScoreMax  *int
	Query     string // original_name substring
	Page      int
	Limit     int
}

// FileListItem is one row of the results listing.
type FileListItem struct {
	File
	OperatorName string
	Analysis     *Analysis
}

// FileDetail is the full nested view of one recording.
type FileDetail struct {
	File
	OperatorName  string
	Transcription *Transcription
	Diarization   *Diarization
	Analysis      *Analysis
}
