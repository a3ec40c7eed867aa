// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"time"
)

// SampleRate is the fixed rate the pipeline decodes to.
const SampleRate = 16000

const decodeTimeout = 5 * time.Minute

// PCMDecoder extracts the raw stereo signal of a recording. The stereo
// diarizer assigns each word by comparing per-channel energy in its window.
type PCMDecoder interface {
	DecodeStereo(ctx context.Context, path string) (left, right []float32, err error)
}

// FFmpegDecoder decodes via ffmpeg to raw little-endian float32 frames.
type FFmpegDecoder struct {
	Binary string
}

func (d *FFmpegDecoder) binary() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "ffmpeg"
}

// DecodeStereo streams the decoded signal and de-interleaves it into the two
// channels at SampleRate.
func (d *FFmpegDecoder) DecodeStereo(ctx context.Context, path string) ([]float32, []float32, error) {
	ctx, cancel := context.WithTimeout(ctx, decodeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.binary(),
		"-v", "error",
		"-i", path,
		"-ar", fmt.Sprint(SampleRate),
		"-ac", "2",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	var left, right []float32
	buf := make([]byte, 32768)
	carry := 0
	for {
		n, rerr := stdout.Read(buf[carry:])
		n += carry
		// 8 bytes per stereo frame (two float32 samples, L then R).
		usable := n - n%8
		for i := 0; i < usable; i += 8 {
			left = append(left, math.Float32frombits(binary.LittleEndian.Uint32(buf[i:i+4])))
			right = append(right, math.Float32frombits(binary.LittleEndian.Uint32(buf[i+4:i+8])))
		}
		carry = copy(buf, buf[usable:n])
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = cmd.Wait()
			return nil, nil, fmt.Errorf("read ffmpeg output: %w", rerr)
		}
	}
	if err := cmd.Wait(); err != nil {
		return nil, nil, fmt.Errorf("ffmpeg: %w", err)
	}
	if len(left) == 0 {
		return nil, nil, fmt.Errorf("ffmpeg produced no samples for %s", path)
	}
	return left, right, nil
}

// RMS is the root mean square energy of a sample window.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
