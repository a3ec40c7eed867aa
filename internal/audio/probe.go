// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

const probeTimeout = 30 * time.Second

// Info describes a probed audio file.
type Info struct {
	DurationSec float64
	Channels    int
	SampleRate  int
	Codec       string
}

// Prober inspects an audio file on disk.
type Prober interface {
	Probe(ctx context.Context, path string) (Info, error)
}

// FFProbe shells out to ffprobe. Binary defaults to "ffprobe" on PATH.
type FFProbe struct {
	Binary string
}

func (p *FFProbe) binary() string {
	if p.Binary != "" {
		return p.Binary
	}
	return "ffprobe"
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Channels   int    `json:"channels"`
		SampleRate string `json:"sample_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

// Probe runs ffprobe with a hard timeout and parses its JSON output.
func (p *FFProbe) Probe(ctx context.Context, path string) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary(),
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return Info{}, fmt.Errorf("ffprobe: %s", ee.Stderr)
		}
		return Info{}, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := Info{}
	if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		info.DurationSec = d
	}
	for _, s := range parsed.Streams {
		if s.CodecType != "audio" {
			continue
		}
		info.Channels = s.Channels
		info.Codec = s.CodecName
		if sr, err := strconv.Atoi(s.SampleRate); err == nil {
			info.SampleRate = sr
		}
		// Some containers only carry duration on the stream.
		if info.DurationSec == 0 {
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
				info.DurationSec = d
			}
		}
		break
	}
	if info.DurationSec <= 0 {
		return Info{}, fmt.Errorf("ffprobe reported no duration for %s", path)
	}
	return info, nil
}
