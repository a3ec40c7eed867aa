// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "call.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3fake"), 0o644))
	return path
}

func TestWhisperClientTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "ru", r.FormValue("language"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		_, _, err := r.FormFile("file")
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"text": " Добрый день ",
			"language": "ru",
			"words": [
				{"word": "Добрый", "start": 0.1, "end": 0.5},
				{"word": "день", "start": 0.6, "end": 0.9}
			]
		}`))
	}))
	defer srv.Close()

	c := &WhisperClient{
		Endpoint: srv.URL,
		APIKey:   "sk-test",
		Model:    "whisper-1",
		Language: "ru",
	}

	res, err := c.Transcribe(context.Background(), writeTempAudio(t))
	require.NoError(t, err)
	assert.Equal(t, "Добрый день", res.FullText)
	assert.Equal(t, "ru", res.Language)
	require.Len(t, res.Words, 2)
	assert.Equal(t, "день", res.Words[1].Word)
	assert.InDelta(t, 0.6, res.Words[1].Start, 0.001)
}

func TestWhisperClientSegmentFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"text": "hello there",
			"segments": [{"words": [{"word": "hello", "start": 0, "end": 0.4}]}]
		}`))
	}))
	defer srv.Close()

	c := &WhisperClient{Endpoint: srv.URL, Model: "whisper-1", Language: "en"}
	res, err := c.Transcribe(context.Background(), writeTempAudio(t))
	require.NoError(t, err)
	require.Len(t, res.Words, 1)
	assert.Equal(t, "hello", res.Words[0].Word)
	assert.Equal(t, "en", res.Language, "configured language fills a silent response")
}

func TestWhisperClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := &WhisperClient{Endpoint: srv.URL, Model: "whisper-1"}
	_, err := c.Transcribe(context.Background(), writeTempAudio(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}
