// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import "fmt"

// migrations are append-only. Never edit an entry after it has shipped;
// add a new one instead.
var migrations = []string{
	// 1: base schema
	`
	CREATE TABLE IF NOT EXISTS operators (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_operators_name ON operators(name);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		operator_id TEXT REFERENCES operators(id),
		original_name TEXT NOT NULL,
		file_hash TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		duration_sec REAL,
		audio_path TEXT,
		status TEXT NOT NULL DEFAULT 'queued'
			CHECK(status IN ('queued', 'transcribing', 'diarizing', 'analyzing', 'done', 'failed')),
		stage INTEGER NOT NULL DEFAULT 0 CHECK(stage BETWEEN 0 AND 4),
		progress INTEGER NOT NULL DEFAULT 0 CHECK(progress BETWEEN 0 AND 100),
		retry_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_files_operator ON files(operator_id);
	CREATE INDEX IF NOT EXISTS idx_files_status ON files(status);
	CREATE INDEX IF NOT EXISTS idx_files_created ON files(created_at);
	CREATE INDEX IF NOT EXISTS idx_files_hash ON files(file_hash);

	CREATE TABLE IF NOT EXISTS transcriptions (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL UNIQUE REFERENCES files(id) ON DELETE CASCADE,
		full_text TEXT NOT NULL,
		word_timings TEXT,
		language TEXT NOT NULL DEFAULT 'ru',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS diarizations (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL UNIQUE REFERENCES files(id) ON DELETE CASCADE,
		segments TEXT NOT NULL,
		method TEXT,
		confidence REAL,
		num_speakers INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL UNIQUE REFERENCES files(id) ON DELETE CASCADE,
		standard INTEGER NOT NULL CHECK(standard BETWEEN 0 AND 100),
		loyalty INTEGER NOT NULL CHECK(loyalty BETWEEN 0 AND 100),
		kindness INTEGER NOT NULL CHECK(kindness BETWEEN 0 AND 100),
		overall INTEGER NOT NULL CHECK(overall BETWEEN 0 AND 100),
		summary TEXT NOT NULL,
		quotes TEXT,
		llm_model TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_standard ON analyses(standard);
	CREATE INDEX IF NOT EXISTS idx_analyses_loyalty ON analyses(loyalty);
	CREATE INDEX IF NOT EXISTS idx_analyses_kindness ON analyses(kindness);
	CREATE INDEX IF NOT EXISTS idx_analyses_overall ON analyses(overall);
	`,

	// 2: CRM correlation columns on files
	`
	ALTER TABLE files ADD COLUMN caller_phone TEXT;
	ALTER TABLE files ADD COLUMN called_phone TEXT;
	ALTER TABLE files ADD COLUMN operator_phone TEXT;
	ALTER TABLE files ADD COLUMN call_duration INTEGER;
	ALTER TABLE files ADD COLUMN order_id TEXT;
	CREATE INDEX IF NOT EXISTS idx_files_order_id ON files(order_id);
	`,

	// 3: CRM webhook ledger
	`
	CREATE TABLE IF NOT EXISTS call_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crm_id TEXT NOT NULL UNIQUE,
		file_id TEXT REFERENCES files(id),
		caller_phone TEXT,
		called_phone TEXT,
		operator_phone TEXT,
		duration INTEGER,
		order_id TEXT,
		call_date TEXT,
		status TEXT,
		has_recording INTEGER NOT NULL DEFAULT 0,
		local_path TEXT,
		raw_data TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_call_records_caller ON call_records(caller_phone);
	`,
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, version, now(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}

	return nil
}
