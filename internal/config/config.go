// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the daemon configuration from the environment.
// A .env file in the working directory is honoured when present, matching
// the deployment convention of the frontend and the sync helper.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ManuGH/callaudit/internal/log"
)

// Config holds every tunable of the call-analytics daemon.
type Config struct {
	// Database
	DatabaseURL string

	// Analysis engine (OpenAI-compatible chat endpoint)
	OpenAIAPIKey string
	OpenAIModel  string

	// Transcription engine
	WhisperModel    string
	WhisperDevice   string
	WhisperLanguage string
	WhisperEndpoint string

	// Diarization engine
	HFToken          string
	PyannoteEndpoint string

	// Upload limits
	MaxFileSizeMB  int
	MaxBatchSize   int
	MinDurationSec int
	MaxDurationSec int

	// Retention (enforced by an operator cron, not the daemon)
	AudioRetentionDays int

	// HTTP server
	Host        string
	Port        int
	CORSOrigins string

	// Data paths
	UploadsDir string
	AudioDir   string
	FTPSyncDir string
}

// FromEnv builds a Config from the process environment. A .env file is loaded
// first when present; explicit environment variables win over the file.
func FromEnv() Config {
	if err := godotenv.Load(); err == nil {
		lg := log.WithComponent("config")
		lg.Debug().Msg("loaded .env file")
	}

	return Config{
		DatabaseURL: ParseString("DATABASE_URL", "data/callaudit.db"),

		OpenAIAPIKey: ParseString("OPENAI_API_KEY", ""),
		OpenAIModel:  ParseString("OPENAI_MODEL", "gpt-4o"),

		WhisperModel:    ParseString("WHISPER_MODEL", "large-v3"),
		WhisperDevice:   ParseString("WHISPER_DEVICE", "cuda"),
		WhisperLanguage: ParseString("WHISPER_LANGUAGE", "ru"),
		WhisperEndpoint: ParseString("WHISPER_ENDPOINT", "http://127.0.0.1:9000"),

		HFToken:          ParseString("HF_TOKEN", ""),
		PyannoteEndpoint: ParseString("PYANNOTE_ENDPOINT", "http://127.0.0.1:9001"),

		MaxFileSizeMB:  ParseInt("MAX_FILE_SIZE_MB", 500),
		MaxBatchSize:   ParseInt("MAX_BATCH_SIZE", 20),
		MinDurationSec: ParseInt("MIN_DURATION_SEC", 3),
		MaxDurationSec: ParseInt("MAX_DURATION_SEC", 14400),

		AudioRetentionDays: ParseInt("AUDIO_RETENTION_DAYS", 7),

		Host:        ParseString("HOST", "0.0.0.0"),
		Port:        ParseInt("PORT", 8000),
		CORSOrigins: ParseString("CORS_ORIGINS", "http://localhost:5173"),

		UploadsDir: ParseString("UPLOADS_DIR", "data/uploads"),
		AudioDir:   ParseString("AUDIO_DIR", "data/audio"),
		FTPSyncDir: ParseString("FTP_SYNC_DIR", ""),
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}
	if c.UploadsDir == "" {
		return fmt.Errorf("UPLOADS_DIR must not be empty")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive, got %d", c.MaxBatchSize)
	}
	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE_MB must be positive, got %d", c.MaxFileSizeMB)
	}
	if c.MinDurationSec < 0 || c.MaxDurationSec < c.MinDurationSec {
		return fmt.Errorf("duration bounds invalid: min=%d max=%d", c.MinDurationSec, c.MaxDurationSec)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	return nil
}

// MaxFileSizeBytes returns the upload size limit in bytes.
func (c Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// CORSOriginList splits the comma-separated CORS_ORIGINS value.
func (c Config) CORSOriginList() []string {
	if strings.TrimSpace(c.CORSOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ListenAddr returns the host:port pair the HTTP server binds to.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
