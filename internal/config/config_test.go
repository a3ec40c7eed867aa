// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, 500, cfg.MaxFileSizeMB)
	assert.Equal(t, 20, cfg.MaxBatchSize)
	assert.Equal(t, 3, cfg.MinDurationSec)
	assert.Equal(t, 14400, cfg.MaxDurationSec)
	assert.Equal(t, 8000, cfg.Port)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MAX_BATCH_SIZE", "5")
	t.Setenv("PORT", "9090")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example")

	cfg := FromEnv()
	assert.Equal(t, 5, cfg.MaxBatchSize)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORSOriginList())
}

func TestParseIntRejectsGarbage(t *testing.T) {
	t.Setenv("MAX_BATCH_SIZE", "not-a-number")
	assert.Equal(t, 20, ParseInt("MAX_BATCH_SIZE", 20))
}

func TestParseDuration(t *testing.T) {
	t.Setenv("SOME_TIMEOUT", "45s")
	assert.Equal(t, 45*time.Second, ParseDuration("SOME_TIMEOUT", time.Second))
	assert.Equal(t, time.Second, ParseDuration("UNSET_TIMEOUT", time.Second))
}

func TestValidateRejectsBadBounds(t *testing.T) {
	cfg := FromEnv()
	cfg.MinDurationSec = 100
	cfg.MaxDurationSec = 10
	require.Error(t, cfg.Validate())

	cfg = FromEnv()
	cfg.Port = 0
	require.Error(t, cfg.Validate())
}

func TestMaxFileSizeBytes(t *testing.T) {
	cfg := Config{MaxFileSizeMB: 2}
	assert.Equal(t, int64(2*1024*1024), cfg.MaxFileSizeBytes())
}
