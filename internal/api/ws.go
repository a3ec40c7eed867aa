// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ManuGH/callaudit/internal/bus"
	"github.com/ManuGH/callaudit/internal/log"
	"github.com/ManuGH/callaudit/internal/metrics"
	"github.com/ManuGH/callaudit/internal/store"
)

const (
	// wsInactivityTimeout closes sessions that stop talking. Clients keep
	// the session alive with {"type":"ping"}.
	wsInactivityTimeout = 300 * time.Second
	wsWriteTimeout      = 10 * time.Second
	wsSendBuffer        = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are vetted by the CORS layer; the WS endpoint carries no auth.
	CheckOrigin: func(*http.Request) bool { return true },
}

type progressFrame struct {
	Type      string `json:"type"`
	FileID    string `json:"file_id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Stage     int    `json:"stage"`
	StageName string `json:"stage_name"`
	Error     string `json:"error,omitempty"`
}

type errorFrame struct {
	Type   string `json:"type"`
	FileID string `json:"file_id,omitempty"`
	Error  string `json:"error"`
}

type pongFrame struct {
	Type string `json:"type"`
}

// frameType maps a file status to the wire frame type.
func frameType(status store.FileStatus) string {
	switch status {
	case store.StatusDone:
		return "complete"
	case store.StatusFailed:
		return "error"
	default:
		return "progress"
	}
}

// wsSession is one live WebSocket connection. Outbound frames go through a
// buffered channel and a single writer goroutine; gorilla connections allow
// only one concurrent writer.
type wsSession struct {
	conn *websocket.Conn
	out  chan any

	mu     sync.Mutex
	closed bool
}

// Send implements bus.Sink. A full buffer counts as a dead subscriber; the
// bus drops the session and the store remains authoritative.
func (s *wsSession) Send(ev bus.Event) error {
	frame := progressFrame{
		Type:      frameType(ev.Status),
		FileID:    ev.FileID.String(),
		Status:    string(ev.Status),
		Progress:  ev.Progress,
		Stage:     ev.Stage,
		StageName: ev.StageName,
		Error:     ev.Error,
	}
	return s.push(frame)
}

func (s *wsSession) push(frame any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	select {
	case s.out <- frame:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// close stops the writer goroutine. Callers must have unsubscribed from the
// bus first so no Send can race the channel close.
func (s *wsSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

func (s *wsSession) writeLoop() {
	for frame := range s.out {
		_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := s.conn.WriteJSON(frame); err != nil {
			// Reader will notice the broken connection and tear down.
			return
		}
	}
}

type wsClientMessage struct {
	Type   string `json:"type"`
	FileID string `json:"file_id"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "ws")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := &wsSession{conn: conn, out: make(chan any, wsSendBuffer)}
	metrics.WSConnections.Inc()
	go session.writeLoop()

	defer func() {
		s.Bus.Unsubscribe(session)
		session.close()
		_ = conn.Close()
		metrics.WSConnections.Dec()
		logger.Debug().Msg("websocket session closed")
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsInactivityTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "Inactivity timeout")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
				logger.Info().Msg("websocket inactivity timeout")
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = session.push(errorFrame{Type: "error", Error: "Invalid JSON"})
			continue
		}

		if msg.Type == "ping" {
			_ = session.push(pongFrame{Type: "pong"})
			continue
		}

		if msg.FileID == "" {
			_ = session.push(errorFrame{Type: "error", Error: "Missing file_id"})
			continue
		}
		fileID, err := uuid.Parse(msg.FileID)
		if err != nil {
			_ = session.push(errorFrame{Type: "error", Error: fmt.Sprintf("Invalid file_id: %s", msg.FileID)})
			continue
		}

		// Subscribe first, then snapshot: a transition between the two is
		// delivered twice at worst, never lost.
		s.Bus.Subscribe(fileID, session)
		s.sendSnapshot(r, session, fileID)
	}
}

// sendSnapshot pushes the current database state of a file right after
// subscription so the client never waits for the next transition.
func (s *Server) sendSnapshot(r *http.Request, session *wsSession, fileID uuid.UUID) {
	f, err := s.Store.GetFile(r.Context(), fileID)
	if errors.Is(err, store.ErrNotFound) {
		_ = session.push(errorFrame{Type: "error", FileID: fileID.String(), Error: "File not found"})
		return
	}
	if err != nil {
		lg := log.WithComponentFromContext(r.Context(), "ws")
		lg.Error().
			Err(err).Str("file_id", fileID.String()).Msg("snapshot lookup failed")
		return
	}

	frame := progressFrame{
		Type:      frameType(f.Status),
		FileID:    f.ID.String(),
		Status:    string(f.Status),
		Progress:  f.Progress,
		Stage:     f.Stage,
		StageName: bus.StageName(f.Stage),
	}
	if f.Status == store.StatusFailed {
		frame.Error = f.ErrorMessage
	}
	_ = session.push(frame)
}
