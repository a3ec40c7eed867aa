// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api is the HTTP surface of the daemon: uploads, results browsing,
// audio playback, live progress over WebSocket, CRM webhooks and the synced
// FTP directory.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/callaudit/internal/bus"
	"github.com/ManuGH/callaudit/internal/crm"
	"github.com/ManuGH/callaudit/internal/ftpsync"
	"github.com/ManuGH/callaudit/internal/health"
	"github.com/ManuGH/callaudit/internal/ingest"
	"github.com/ManuGH/callaudit/internal/store"
)

// Server bundles the handler dependencies. All fields are required except
// FTP, which is nil when no synced directory is configured.
type Server struct {
	Store    *store.Store
	Bus      *bus.Bus
	Ingestor *ingest.Ingestor
	CRM      *crm.Service
	Health   *health.Manager
	FTP      *ftpsync.Service

	// MaxUploadBytes bounds a single multipart part.
	MaxUploadBytes int64

	AllowedOrigins []string
}

// Router assembles the chi router with the full middleware stack.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(CORS(s.AllowedOrigins))
	r.Use(RequestLogger)
	r.Use(RateLimit(600, time.Minute))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/results", s.handleListResults)
		r.Get("/results/{id}", s.handleGetResult)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/audio/{id}", s.handleAudio)
		r.Get("/operators", s.handleListOperators)
		r.Get("/operators/{id}", s.handleGetOperator)
		r.Get("/health", s.handleHealth)

		r.Post("/crm/webhook", s.handleCRMWebhook)
		r.Post("/crm/sync", s.handleCRMSync)
		r.Get("/crm/metadata/{id}", s.handleCRMMetadata)

		if s.FTP != nil {
			r.Get("/sftp/files", s.handleFTPList)
			r.Get("/sftp/stream/{filename}", s.handleFTPStream)
			r.Get("/sftp/download/{filename}", s.handleFTPDownload)
			r.Post("/sftp/process", s.handleFTPProcess)
		}
	})

	r.Get("/ws", s.handleWS)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
