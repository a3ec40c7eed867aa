// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package diarize labels each transcript word with a speaker role.
//
// Two strategies, selected by channel count:
//   - stereo: left channel is the operator, right the client; each word is
//     assigned by comparing per-channel energy in its window. Exact, so
//     confidence is nil.
//   - mono: external speaker-diarization turns. The first voice heard is
//     the operator, the second the client, any further voices unknown.
package diarize

import (
	"context"
	"fmt"

	"github.com/ManuGH/callaudit/internal/audio"
	"github.com/ManuGH/callaudit/internal/log"
	"github.com/ManuGH/callaudit/internal/store"
)

// Confidence below this adds a review warning.
const lowConfidenceThreshold = 70.0

// Turn is one raw diarization interval with the backend's opaque label.
type Turn struct {
	Start float64
	End   float64
	Label string
}

// TurnProvider produces raw speaker turns for a mono recording.
type TurnProvider interface {
	Turns(ctx context.Context, path string) ([]Turn, error)
}

// Result is the outcome of diarizing one recording.
type Result struct {
	Segments    []store.Segment
	Method      string
	Confidence  *float64 // nil means exact
	NumSpeakers int
	Warnings    []string
}

// Diarizer picks a strategy per file and merges speaker turns with the
// transcript's word timings.
type Diarizer struct {
	Prober audio.Prober
	PCM    audio.PCMDecoder
	Turns  TurnProvider // nil when no diarization backend is configured
}

// Diarize labels the transcript words of the recording at path.
func (d *Diarizer) Diarize(ctx context.Context, path string, words []store.WordTiming) (Result, error) {
	channels := 1
	if info, err := d.Prober.Probe(ctx, path); err == nil {
		channels = info.Channels
	} else {
		lg := log.WithComponent("diarize")
		lg.Warn().Err(err).Str("path", path).
			Msg("channel detection failed, assuming mono")
	}

	if channels == 2 {
		return d.diarizeStereo(ctx, path, words)
	}
	return d.diarizeMono(ctx, path, words)
}

func (d *Diarizer) diarizeStereo(ctx context.Context, path string, words []store.WordTiming) (Result, error) {
	left, right, err := d.PCM.DecodeStereo(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("decode stereo: %w", err)
	}

	var assigned []store.Segment
	for _, w := range words {
		s := int(w.Start * audio.SampleRate)
		e := int(w.End * audio.SampleRate)
		if s < 0 {
			s = 0
		}
		if e > len(left) {
			e = len(left)
		}
		if s >= e {
			continue
		}
		speaker := store.SpeakerClient
		if audio.RMS(left[s:e]) >= audio.RMS(right[s:e]) {
			speaker = store.SpeakerOperator
		}
		assigned = append(assigned, store.Segment{
			Speaker: speaker,
			Start:   w.Start,
			End:     w.End,
			Text:    w.Word,
		})
	}

	return Result{
		Segments:    mergeAdjacent(assigned),
		Method:      "channel_split",
		NumSpeakers: 2,
	}, nil
}

func (d *Diarizer) diarizeMono(ctx context.Context, path string, words []store.WordTiming) (Result, error) {
	if d.Turns == nil {
		lg := log.WithComponent("diarize")
		lg.Warn().Str("path", path).
			Msg("no diarization backend configured, labelling everything as operator")
		return singleSpeakerFallback(words,
			"Диаризация недоступна: HF_TOKEN не настроен. Весь текст помечен как оператор."), nil
	}

	turns, err := d.Turns.Turns(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("diarization backend: %w", err)
	}

	var warnings []string
	roles := mapRoles(turns)

	labelled := make([]store.Segment, 0, len(turns))
	speakers := map[string]struct{}{}
	for _, t := range turns {
		speakers[t.Label] = struct{}{}
		labelled = append(labelled, store.Segment{
			Speaker: roles[t.Label],
			Start:   t.Start,
			End:     t.End,
		})
	}
	numSpeakers := len(speakers)
	if numSpeakers > 2 {
		warnings = append(warnings,
			fmt.Sprintf("Обнаружено %d говорящих. Оценка может быть неточной.", numSpeakers))
	}

	confidence := estimateConfidence(turns)
	if confidence < lowConfidenceThreshold {
		warnings = append(warnings,
			fmt.Sprintf("Разделение неуверенное (%.0f%%). Рекомендуем проверить вручную.", confidence))
	}

	var assigned []store.Segment
	for _, w := range words {
		assigned = append(assigned, store.Segment{
			Speaker: bestOverlap(w.Start, w.End, labelled),
			Start:   w.Start,
			End:     w.End,
			Text:    w.Word,
		})
	}

	return Result{
		Segments:    mergeAdjacent(assigned),
		Method:      "pyannote",
		Confidence:  &confidence,
		NumSpeakers: numSpeakers,
		Warnings:    warnings,
	}, nil
}

// mapRoles assigns roles by first appearance: the earliest-heard label is
// the operator, the next the client, the rest unknown.
func mapRoles(turns []Turn) map[string]store.Speaker {
	ordered := make([]Turn, len(turns))
	copy(ordered, turns)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Start < ordered[j-1].Start; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	roles := []store.Speaker{store.SpeakerOperator, store.SpeakerClient}
	mapping := map[string]store.Speaker{}
	for _, t := range ordered {
		if _, seen := mapping[t.Label]; seen {
			continue
		}
		if len(mapping) < len(roles) {
			mapping[t.Label] = roles[len(mapping)]
		} else {
			mapping[t.Label] = store.SpeakerUnknown
		}
	}
	return mapping
}

// estimateConfidence scores 0-100 from turn quality. Many sub-half-second
// turns indicate an unsure split; each one costs a share of 30 points.
func estimateConfidence(turns []Turn) float64 {
	if len(turns) == 0 {
		return 0
	}
	var total float64
	short := 0
	for _, t := range turns {
		d := t.End - t.Start
		total += d
		if d < 0.5 {
			short++
		}
	}
	if total == 0 {
		return 0
	}
	c := 90.0 - float64(short)/float64(len(turns))*30.0
	if c < 0 {
		c = 0
	}
	if c > 100 {
		c = 100
	}
	return c
}

// bestOverlap returns the speaker whose segment overlaps the word window the
// most. Strictly greater wins, so ties go to the earlier segment. No overlap
// at all means unknown.
func bestOverlap(start, end float64, segments []store.Segment) store.Speaker {
	best := store.SpeakerUnknown
	bestOverlap := 0.0
	for _, seg := range segments {
		lo := start
		if seg.Start > lo {
			lo = seg.Start
		}
		hi := end
		if seg.End < hi {
			hi = seg.End
		}
		if overlap := hi - lo; overlap > bestOverlap {
			bestOverlap = overlap
			best = seg.Speaker
		}
	}
	return best
}

// mergeAdjacent folds consecutive same-speaker words into utterances.
func mergeAdjacent(words []store.Segment) []store.Segment {
	if len(words) == 0 {
		return nil
	}
	merged := []store.Segment{words[0]}
	for _, w := range words[1:] {
		last := &merged[len(merged)-1]
		if w.Speaker == last.Speaker {
			last.End = w.End
			last.Text = last.Text + " " + w.Text
		} else {
			merged = append(merged, w)
		}
	}
	return merged
}

func singleSpeakerFallback(words []store.WordTiming, warning string) Result {
	assigned := make([]store.Segment, 0, len(words))
	for _, w := range words {
		assigned = append(assigned, store.Segment{
			Speaker: store.SpeakerOperator,
			Start:   w.Start,
			End:     w.End,
			Text:    w.Word,
		})
	}
	return Result{
		Segments:    mergeAdjacent(assigned),
		Method:      "pyannote",
		NumSpeakers: 1,
		Warnings:    []string{warning},
	}
}
