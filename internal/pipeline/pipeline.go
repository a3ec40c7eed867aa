// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package pipeline drives one recording through its processing stages.
//
// Stages are checkpointed in files.stage:
//
//	0  ingested (blob on disk, row in DB)
//	1  transcribed
//	2  diarized
//	3  analyzed
//	4  done
//
// A requeued file resumes after its last checkpoint; a checkpoint whose
// artefact is missing re-runs its stage. Transcription and diarization
// failures fail the file, a missing or failing analysis does not.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/callaudit/internal/analysis"
	"github.com/ManuGH/callaudit/internal/bus"
	"github.com/ManuGH/callaudit/internal/diarize"
	"github.com/ManuGH/callaudit/internal/log"
	"github.com/ManuGH/callaudit/internal/metrics"
	"github.com/ManuGH/callaudit/internal/store"
	"github.com/ManuGH/callaudit/internal/transcribe"
)

// Progress published when a stage starts and when it completes.
const (
	progressTranscribeStart = 5
	progressTranscribeDone  = 40
	progressDiarizeStart    = 45
	progressDiarizeDone     = 70
	progressAnalyzeStart    = 75
	progressAnalyzeDone     = 90
	progressDone            = 100
)

// SpeakerLabeler is the diarization stage.
type SpeakerLabeler interface {
	Diarize(ctx context.Context, path string, words []store.WordTiming) (diarize.Result, error)
}

// Scorer is the analysis stage. A nil result means analysis is unavailable.
type Scorer interface {
	Analyze(ctx context.Context, operatorText, clientContext string) *analysis.Result
}

// Orchestrator processes files sequentially from the queue.
type Orchestrator struct {
	Store       *store.Store
	Bus         *bus.Bus
	Transcriber transcribe.Engine
	Diarizer    SpeakerLabeler
	Scorer      Scorer
}

// Process runs the pipeline for one file. It satisfies queue.Processor.
// Every state transition is committed before it is published, so the bus
// never announces state the database does not hold.
func (o *Orchestrator) Process(ctx context.Context, fileID uuid.UUID) {
	logger := log.WithComponent("pipeline").With().Str("file_id", fileID.String()).Logger()

	f, err := o.Store.GetFile(ctx, fileID)
	if err != nil {
		logger.Error().Err(err).Msg("file not found, dropping job")
		return
	}
	logger.Info().Int("stage", f.Stage).Str("status", string(f.Status)).Msg("pipeline started")

	// Stage 1: transcription
	var tr store.Transcription
	runStage1 := f.Stage < 1
	if !runStage1 {
		tr, err = o.Store.GetTranscription(ctx, fileID)
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn().Msg("transcription checkpoint missing, re-running stage 1")
			runStage1 = true
		} else if err != nil {
			o.fail(ctx, &f, fmt.Sprintf("Транскрибация: %v", err))
			return
		} else {
			logger.Info().Msg("stage 1 skipped (checkpoint)")
		}
	}
	if runStage1 {
		o.setProgress(ctx, &f, store.StatusTranscribing, 1, progressTranscribeStart)
		start := time.Now()
		res, err := o.Transcriber.Transcribe(ctx, f.AudioPath)
		if err != nil {
			o.fail(ctx, &f, fmt.Sprintf("Транскрибация: %v", err))
			return
		}
		tr = store.Transcription{
			FileID:   fileID,
			FullText: res.FullText,
			Words:    res.Words,
			Language: res.Language,
		}
		if err := o.Store.SaveTranscription(ctx, tr); err != nil {
			o.fail(ctx, &f, fmt.Sprintf("Транскрибация: %v", err))
			return
		}
		metrics.ObserveStage("transcription", time.Since(start))
		o.setProgress(ctx, &f, store.StatusTranscribing, 1, progressTranscribeDone)
	}

	// Stage 2: diarization
	var di store.Diarization
	runStage2 := f.Stage < 2
	if !runStage2 {
		di, err = o.Store.GetDiarization(ctx, fileID)
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn().Msg("diarization checkpoint missing, re-running stage 2")
			runStage2 = true
		} else if err != nil {
			o.fail(ctx, &f, fmt.Sprintf("Диаризация: %v", err))
			return
		} else {
			logger.Info().Msg("stage 2 skipped (checkpoint)")
		}
	}
	if runStage2 {
		o.setProgress(ctx, &f, store.StatusDiarizing, 2, progressDiarizeStart)
		start := time.Now()
		res, err := o.Diarizer.Diarize(ctx, f.AudioPath, tr.Words)
		if err != nil {
			o.fail(ctx, &f, fmt.Sprintf("Диаризация: %v", err))
			return
		}
		for _, w := range res.Warnings {
			logger.Warn().Str("warning", w).Msg("diarization warning")
		}
		di = store.Diarization{
			FileID:      fileID,
			Segments:    res.Segments,
			Method:      res.Method,
			Confidence:  res.Confidence,
			NumSpeakers: res.NumSpeakers,
		}
		if err := o.Store.SaveDiarization(ctx, di); err != nil {
			o.fail(ctx, &f, fmt.Sprintf("Диаризация: %v", err))
			return
		}
		metrics.ObserveStage("diarization", time.Since(start))
		o.setProgress(ctx, &f, store.StatusDiarizing, 2, progressDiarizeDone)
	}

	// Stage 3: analysis, never fatal
	if f.Stage < 3 {
		o.setProgress(ctx, &f, store.StatusAnalyzing, 3, progressAnalyzeStart)
		start := time.Now()
		operatorText, clientText := splitBySpeaker(di.Segments)
		if operatorText == "" {
			// Without usable diarization the full transcript stands in.
			operatorText = tr.FullText
		}
		if res := o.Scorer.Analyze(ctx, operatorText, clientText); res != nil {
			err := o.Store.SaveAnalysis(ctx, store.Analysis{
				FileID:   fileID,
				Standard: res.Standard,
				Loyalty:  res.Loyalty,
				Kindness: res.Kindness,
				Overall:  res.Overall,
				Summary:  res.Summary,
				Quotes:   res.Quotes,
				Model:    res.Model,
			})
			if err != nil {
				logger.Error().Err(err).Msg("saving analysis failed, continuing without it")
				metrics.RecordAnalysisAttempt("save_failed")
			} else {
				logger.Info().Int("overall", res.Overall).Bool("partial", res.Partial).Msg("analysis saved")
				metrics.RecordAnalysisAttempt("ok")
			}
		} else {
			logger.Warn().Msg("analysis unavailable, completing without scores")
			metrics.RecordAnalysisAttempt("unavailable")
		}
		metrics.ObserveStage("analysis", time.Since(start))
		o.setProgress(ctx, &f, store.StatusAnalyzing, 3, progressAnalyzeDone)
	} else {
		logger.Info().Msg("stage 3 skipped (checkpoint)")
	}

	// Stage 4: done
	o.setProgress(ctx, &f, store.StatusDone, 4, progressDone)
	metrics.RecordJobOutcome("done")
	logger.Info().Msg("pipeline complete")
}

// splitBySpeaker joins utterances per role, one line per segment.
func splitBySpeaker(segments []store.Segment) (operator, client string) {
	var op, cl []string
	for _, seg := range segments {
		switch seg.Speaker {
		case store.SpeakerOperator:
			op = append(op, seg.Text)
		case store.SpeakerClient:
			cl = append(cl, seg.Text)
		}
	}
	return strings.Join(op, "\n"), strings.Join(cl, "\n")
}

func (o *Orchestrator) setProgress(ctx context.Context, f *store.File, status store.FileStatus, stage, progress int) {
	if err := o.Store.SetFileProgress(ctx, f.ID, status, stage, progress); err != nil {
		lg := log.WithComponent("pipeline")
		lg.Error().Err(err).
			Str("file_id", f.ID.String()).
			Msg("progress update failed")
		return
	}
	f.Status = status
	f.Stage = stage
	f.Progress = progress
	o.Bus.Publish(bus.NewEvent(f.ID, status, stage, progress, ""))
}

func (o *Orchestrator) fail(ctx context.Context, f *store.File, msg string) {
	logger := log.WithComponent("pipeline").With().Str("file_id", f.ID.String()).Logger()
	if err := o.Store.FailFile(ctx, f.ID, msg); err != nil {
		logger.Error().Err(err).Msg("marking file failed did not stick")
	}
	o.Bus.Publish(bus.NewEvent(f.ID, store.StatusFailed, f.Stage, f.Progress, msg))
	metrics.RecordJobOutcome("failed")
	logger.Error().Str("error", msg).Msg("pipeline failed")
}
