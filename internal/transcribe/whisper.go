// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/callaudit/internal/store"
)

// WhisperClient talks to an OpenAI-compatible transcription endpoint
// (a local faster-whisper server or the hosted API).
type WhisperClient struct {
	Endpoint string // e.g. http://localhost:9000/v1/audio/transcriptions
	APIKey   string
	Model    string
	Language string // empty means autodetect

	HTTPClient *http.Client
}

func (c *WhisperClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	// Long calls transcribe slowly; the per-request timeout reflects that.
	return &http.Client{Timeout: 30 * time.Minute}
}

type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
	Segments []struct {
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
}

// Transcribe uploads the file and decodes the verbose JSON response.
func (c *WhisperClient) Transcribe(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return Result{}, fmt.Errorf("build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return Result{}, fmt.Errorf("copy audio: %w", err)
	}
	_ = mw.WriteField("model", c.Model)
	_ = mw.WriteField("response_format", "verbose_json")
	_ = mw.WriteField("timestamp_granularities[]", "word")
	if c.Language != "" {
		_ = mw.WriteField("language", c.Language)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, &body)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcription request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("transcription endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode transcription: %w", err)
	}

	res := Result{
		FullText: strings.TrimSpace(parsed.Text),
		Language: parsed.Language,
	}
	for _, w := range parsed.Words {
		res.Words = append(res.Words, store.WordTiming{Word: w.Word, Start: w.Start, End: w.End})
	}
	// Some servers only nest word timings under segments.
	if len(res.Words) == 0 {
		for _, seg := range parsed.Segments {
			for _, w := range seg.Words {
				res.Words = append(res.Words, store.WordTiming{Word: w.Word, Start: w.Start, End: w.End})
			}
		}
	}
	if res.Language == "" && c.Language != "" {
		res.Language = c.Language
	}
	return res, nil
}
