// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// The callaudit daemon ingests call-center recordings, runs them through
// transcription, diarization and scoring, and serves the results over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/callaudit/internal/analysis"
	"github.com/ManuGH/callaudit/internal/api"
	"github.com/ManuGH/callaudit/internal/audio"
	"github.com/ManuGH/callaudit/internal/bus"
	"github.com/ManuGH/callaudit/internal/config"
	"github.com/ManuGH/callaudit/internal/crm"
	"github.com/ManuGH/callaudit/internal/diarize"
	"github.com/ManuGH/callaudit/internal/ftpsync"
	"github.com/ManuGH/callaudit/internal/health"
	"github.com/ManuGH/callaudit/internal/ingest"
	"github.com/ManuGH/callaudit/internal/log"
	"github.com/ManuGH/callaudit/internal/pipeline"
	"github.com/ManuGH/callaudit/internal/queue"
	"github.com/ManuGH/callaudit/internal/store"
	"github.com/ManuGH/callaudit/internal/transcribe"
)

var version = "dev"

const shutdownGrace = 5 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	log.Configure(log.Config{Service: "callaudit"})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("daemon stopped")
}

func run(ctx context.Context, logger zerolog.Logger) error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	logger.Info().Str("database", cfg.DatabaseURL).Msg("store opened")

	progressBus := bus.New()
	prober := &audio.FFProbe{}

	var turns diarize.TurnProvider
	if cfg.HFToken != "" {
		turns = &diarize.PyannoteClient{Endpoint: cfg.PyannoteEndpoint, HFToken: cfg.HFToken}
	} else {
		logger.Warn().Msg("HF_TOKEN not set, mono recordings fall back to a single speaker")
	}

	var completer analysis.Completer
	if cfg.OpenAIAPIKey != "" {
		completer = &analysis.OpenAIClient{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel}
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set, calls complete without scores")
	}

	orch := &pipeline.Orchestrator{
		Store: st,
		Bus:   progressBus,
		Transcriber: &transcribe.WhisperClient{
			Endpoint: strings.TrimSuffix(cfg.WhisperEndpoint, "/") + "/v1/audio/transcriptions",
			Model:    cfg.WhisperModel,
			Language: cfg.WhisperLanguage,
		},
		Diarizer: &diarize.Diarizer{
			Prober: prober,
			PCM:    &audio.FFmpegDecoder{},
			Turns:  turns,
		},
		Scorer: analysis.New(completer, cfg.OpenAIModel),
	}
	jobs := queue.New(orch)

	// Refill the queue before serving traffic: first flip interrupted jobs
	// back to queued, then enqueue everything still waiting.
	recovered, err := st.RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("crash recovery: %w", err)
	}
	pending, err := st.QueuedFiles(ctx)
	if err != nil {
		return fmt.Errorf("refill queue: %w", err)
	}
	for _, id := range pending {
		if err := jobs.Enqueue(id); err != nil {
			logger.Error().Err(err).Str("file_id", id.String()).Msg("startup enqueue failed")
		}
	}
	logger.Info().
		Int("interrupted", len(recovered)).
		Int("requeued", len(pending)).
		Msg("startup recovery finished")

	ingestor := &ingest.Ingestor{
		Store: st,
		Validator: &audio.Validator{
			MaxBytes:       cfg.MaxFileSizeBytes(),
			MinDurationSec: float64(cfg.MinDurationSec),
			MaxDurationSec: float64(cfg.MaxDurationSec),
			Prober:         prober,
		},
		Queue:        jobs,
		UploadsDir:   cfg.UploadsDir,
		MaxBatchSize: cfg.MaxBatchSize,
	}

	healthMgr := health.NewManager(version, queueSnapshot{jobs})
	healthMgr.RegisterChecker(health.DatabaseChecker{DB: st})
	healthMgr.RegisterChecker(health.DiskChecker{Path: cfg.UploadsDir, MinBytes: 1 << 30})
	healthMgr.RegisterChecker(health.EndpointChecker{Component: "transcription", URL: cfg.WhisperEndpoint})
	healthMgr.RegisterChecker(health.CredentialChecker{Component: "llm", Credential: cfg.OpenAIAPIKey})
	healthMgr.RegisterChecker(health.CredentialChecker{Component: "diarization", Credential: cfg.HFToken})

	srv := &api.Server{
		Store:          st,
		Bus:            progressBus,
		Ingestor:       ingestor,
		CRM:            &crm.Service{Store: st},
		Health:         healthMgr,
		MaxUploadBytes: cfg.MaxFileSizeBytes(),
		AllowedOrigins: cfg.CORSOriginList(),
	}

	var watcher *ftpsync.Watcher
	if cfg.FTPSyncDir != "" {
		ftp := &ftpsync.Service{Dir: cfg.FTPSyncDir, Prober: prober, Ingestor: ingestor}
		srv.FTP = ftp
		watcher = &ftpsync.Watcher{Service: ftp}
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return jobs.Run(gctx)
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Stop accepting HTTP traffic first, then let the worker drain.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown incomplete")
		}
		return gctx.Err()
	})

	return g.Wait()
}

// queueSnapshot adapts the queue to the health report's string-based view.
type queueSnapshot struct {
	q *queue.Queue
}

func (s queueSnapshot) Len() int { return s.q.Len() }

func (s queueSnapshot) CurrentID() *string {
	if id := s.q.Current(); id != nil {
		str := id.String()
		return &str
	}
	return nil
}
