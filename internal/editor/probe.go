package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrNoVideoStream = errors.New("no video stream found")

// ProbeResult describes a media file.
type ProbeResult struct {
	Duration    float64 `json:"duration"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Codec       string  `json:"codec"`
	Bitrate     int64   `json:"bitrate"`
	FrameRate   float64 `json:"fps"`
	HasAudio    bool    `json:"has_audio"`
	AudioCodec  string  `json:"audio_codec,omitempty"`
	AudioSample int     `json:"audio_sample_rate,omitempty"`
	SizeBytes   int64   `json:"size_bytes"`
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		Duration     string `json:"duration"`
		AvgFrameRate string `json:"avg_frame_rate"`
		SampleRate   string `json:"sample_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Probe runs ffprobe on path.
func (e *Editor) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()

	var stdout bytes.Buffer
	res := e.runner.Run(ctx, e.cfg.FFprobePath, []string{
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	}, &stdout)
	if !res.IsSuccess() {
		return nil, fmt.Errorf("ffprobe: %w", res.Err())
	}
	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var (
		pr        ProbeResult
		haveVideo bool
	)
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if haveVideo {
				continue
			}
			haveVideo = true
			pr.Width = s.Width
			pr.Height = s.Height
			pr.Codec = s.CodecName
			pr.FrameRate = parseRate(s.AvgFrameRate)
			pr.Duration = parseNumber(s.Duration)
		case "audio":
			if pr.HasAudio {
				continue
			}
			pr.HasAudio = true
			pr.AudioCodec = s.CodecName
			pr.AudioSample = int(parseNumber(s.SampleRate))
		}
	}
	if !haveVideo {
		return nil, ErrNoVideoStream
	}
	if pr.Duration == 0 {
		pr.Duration = parseNumber(out.Format.Duration)
	}
	pr.Bitrate = int64(parseNumber(out.Format.BitRate))
	pr.SizeBytes = int64(parseNumber(out.Format.Size))
	return &pr, nil
}

func parseNumber(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// parseRate handles ffprobe's "30000/1001" notation.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseNumber(s)
	}
	d := parseNumber(den)
	if d == 0 {
		return 0
	}
	return parseNumber(num) / d
}
