// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bus is the in-process progress feed. The pipeline publishes one
// event per state transition; WebSocket sessions subscribe per file id.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ManuGH/callaudit/internal/log"
	"github.com/ManuGH/callaudit/internal/metrics"
	"github.com/ManuGH/callaudit/internal/store"
)

// stageNames maps a pipeline stage to its display name.
var stageNames = map[int]string{
	0: "waiting",
	1: "transcription",
	2: "diarization",
	3: "analysis",
	4: "done",
}

// StageName returns the display name of a stage.
func StageName(stage int) string {
	if name, ok := stageNames[stage]; ok {
		return name
	}
	return "unknown"
}

// Event is one progress update for a file.
type Event struct {
	FileID    uuid.UUID        `json:"file_id"`
	Status    store.FileStatus `json:"status"`
	Stage     int              `json:"stage"`
	StageName string           `json:"stage_name"`
	Progress  int              `json:"progress"`
	Error     string           `json:"error,omitempty"`
}

// NewEvent builds an Event with the stage name filled in.
func NewEvent(fileID uuid.UUID, status store.FileStatus, stage, progress int, errMsg string) Event {
	return Event{
		FileID:    fileID,
		Status:    status,
		Stage:     stage,
		StageName: StageName(stage),
		Progress:  progress,
		Error:     errMsg,
	}
}

// Sink receives published events. A failing sink is dropped from every topic.
type Sink interface {
	Send(ev Event) error
}

// Bus fans progress events out to per-file subscribers. One mutex guards
// both maps so a sink can never receive after Unsubscribe returns.
type Bus struct {
	mu     sync.Mutex
	topics map[uuid.UUID]map[Sink]struct{}
	sinks  map[Sink]map[uuid.UUID]struct{}
}

func New() *Bus {
	return &Bus{
		topics: make(map[uuid.UUID]map[Sink]struct{}),
		sinks:  make(map[Sink]map[uuid.UUID]struct{}),
	}
}

// Subscribe registers sink for events about fileID.
func (b *Bus) Subscribe(fileID uuid.UUID, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.topics[fileID] == nil {
		b.topics[fileID] = make(map[Sink]struct{})
	}
	b.topics[fileID][sink] = struct{}{}

	if b.sinks[sink] == nil {
		b.sinks[sink] = make(map[uuid.UUID]struct{})
	}
	b.sinks[sink][fileID] = struct{}{}
}

// Unsubscribe removes sink from every topic it subscribed to.
func (b *Bus) Unsubscribe(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sink)
}

func (b *Bus) removeLocked(sink Sink) {
	for fileID := range b.sinks[sink] {
		delete(b.topics[fileID], sink)
		if len(b.topics[fileID]) == 0 {
			delete(b.topics, fileID)
		}
	}
	delete(b.sinks, sink)
}

// Publish delivers ev to every subscriber of its file id. Sinks whose Send
// fails are dropped from all topics; delivery to the rest continues.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var failed []Sink
	for sink := range b.topics[ev.FileID] {
		if err := sink.Send(ev); err != nil {
			failed = append(failed, sink)
			metrics.IncBusDrop("send_failed")
			lg := log.WithComponent("bus")
			lg.Debug().
				Err(err).
				Str("file_id", ev.FileID.String()).
				Msg("dropping dead subscriber")
		}
	}
	for _, sink := range failed {
		b.removeLocked(sink)
	}
}

// SubscriberCount reports the live subscribers of one file id.
func (b *Bus) SubscriberCount(fileID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[fileID])
}
