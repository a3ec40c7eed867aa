// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package audio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	info Info
	err  error
}

func (s *stubProber) Probe(context.Context, string) (Info, error) {
	return s.info, s.err
}

func newValidator() *Validator {
	return &Validator{
		MaxBytes:       1 << 20,
		MinDurationSec: 3,
		MaxDurationSec: 14400,
		Prober:         &stubProber{info: Info{DurationSec: 120, Channels: 2}},
	}
}

func mp3Payload() []byte {
	return append([]byte("ID3"), make([]byte, 64)...)
}

func TestValidateAccepts(t *testing.T) {
	v := newValidator()

	cases := []struct {
		name string
		data []byte
	}{
		{"call.mp3", mp3Payload()},
		{"call.MP3", append([]byte{0xFF, 0xFB}, make([]byte, 16)...)},
		{"call.wav", append([]byte("RIFF"), make([]byte, 16)...)},
		{"call.ogg", append([]byte("OggS"), make([]byte, 16)...)},
		{"call.flac", append([]byte("fLaC"), make([]byte, 16)...)},
		{"call.webm", append([]byte{0x1A, 0x45, 0xDF, 0xA3}, make([]byte, 16)...)},
		{"call.m4a", append([]byte{0, 0, 0, 0x20, 'f', 't', 'y', 'p'}, make([]byte, 16)...)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta, err := v.Validate(context.Background(), tc.name, tc.data, nil)
			require.NoError(t, err)
			assert.Equal(t, Ext(tc.name), meta.Ext)
			assert.NotEmpty(t, meta.Hash)
			assert.Equal(t, int64(len(tc.data)), meta.Size)
			assert.InDelta(t, 120, meta.DurationSec, 0.001)
			assert.Equal(t, 2, meta.Channels)
		})
	}
}

func TestValidateRejectsExtension(t *testing.T) {
	v := newValidator()
	_, err := v.Validate(context.Background(), "notes.txt", []byte("hello"), nil)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "extension", verr.Field)
}

func TestValidateRejectsEmptyAndOversized(t *testing.T) {
	v := newValidator()
	v.MaxBytes = 10

	_, err := v.Validate(context.Background(), "a.mp3", nil, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "size", verr.Field)

	_, err = v.Validate(context.Background(), "a.mp3", mp3Payload(), nil)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "size", verr.Field)
}

func TestValidateRejectsWrongMagic(t *testing.T) {
	v := newValidator()
	// RIFF header named as mp3.
	_, err := v.Validate(context.Background(), "a.mp3", append([]byte("RIFF"), make([]byte, 16)...), nil)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)
}

func TestValidateRejectsUndecodable(t *testing.T) {
	v := newValidator()
	v.Prober = &stubProber{err: errors.New("ffprobe: invalid data")}

	_, err := v.Validate(context.Background(), "a.mp3", mp3Payload(), nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Field)
}

func TestValidateDurationBounds(t *testing.T) {
	v := newValidator()

	v.Prober = &stubProber{info: Info{DurationSec: 1.5}}
	_, err := v.Validate(context.Background(), "a.mp3", mp3Payload(), nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "duration", verr.Field)

	v.Prober = &stubProber{info: Info{DurationSec: 20000}}
	_, err = v.Validate(context.Background(), "a.mp3", mp3Payload(), nil)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "duration", verr.Field)
}

func TestValidateDetectsDuplicate(t *testing.T) {
	v := newValidator()
	data := mp3Payload()
	hash := HashContent(data)

	_, err := v.Validate(context.Background(), "a.mp3", data, map[string]bool{hash: true})
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, hash, dup.Hash)
	assert.Equal(t, "duplicate:"+hash, err.Error())
}

func TestDuplicateCheckRunsAfterDuration(t *testing.T) {
	v := newValidator()
	v.Prober = &stubProber{info: Info{DurationSec: 1}}
	data := mp3Payload()

	// Even a known hash is reported as a duration problem when the content
	// is too short: the dedup check is last.
	_, err := v.Validate(context.Background(), "a.mp3", data, map[string]bool{HashContent(data): true})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "duration", verr.Field)
}
