package editor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// renderArgs compiles st into an ffmpeg command line writing to out.
func renderArgs(st State, out string, enc Encoding) []string {
	inputKw := ffmpeg.KwArgs{}
	if st.Trimmed {
		inputKw["ss"] = fmtSeconds(st.Start)
		inputKw["t"] = fmtSeconds(st.Span)
	}
	in := ffmpeg.Input(st.Source, inputKw)

	video := in.Video()
	for _, f := range st.VideoFilters {
		video = applyFilter(video, f)
	}
	for _, l := range st.Layers {
		img := ffmpeg.Input(l.Image, ffmpeg.KwArgs{"loop": "1", "t": fmtSeconds(l.End - l.Start)}).
			Filter("setpts", ffmpeg.Args{"PTS+" + fmtSeconds(l.Start) + "/TB"})
		video = ffmpeg.Filter([]*ffmpeg.Stream{video, img}, "overlay", ffmpeg.Args{}, ffmpeg.KwArgs{
			"x":          l.X,
			"y":          l.Y,
			"eof_action": "pass",
		})
	}

	streams := []*ffmpeg.Stream{video}
	outKw := ffmpeg.KwArgs{
		"c:v":      "libx264",
		"preset":   enc.Preset,
		"crf":      enc.CRF,
		"pix_fmt":  "yuv420p",
		"movflags": "+faststart",
	}
	if enc.VideoBitrate != "" {
		outKw["b:v"] = enc.VideoBitrate
	}

	if st.HasAudio {
		var audio *ffmpeg.Stream
		if st.AudioPath != "" {
			audio = ffmpeg.Input(st.AudioPath).Audio()
		} else {
			audio = in.Audio()
		}
		for _, f := range st.AudioFilters {
			audio = applyFilter(audio, f)
		}
		streams = append(streams, audio)
		outKw["c:a"] = "aac"
		if enc.AudioBitrate != "" {
			outKw["b:a"] = enc.AudioBitrate
		}
	}

	return ffmpeg.Output(streams, out, outKw).OverWriteOutput().GetArgs()
}

func applyFilter(s *ffmpeg.Stream, f Filter) *ffmpeg.Stream {
	args := f.Args
	if args == nil {
		args = ffmpeg.Args{}
	}
	if len(f.KwArgs) == 0 {
		return s.Filter(f.Name, args)
	}
	return s.Filter(f.Name, args, f.KwArgs)
}

// render encodes st to out under the encode timeout. A partial output file
// is removed on failure.
func (e *Editor) render(ctx context.Context, st State, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.EncodeTimeout)
	defer cancel()

	res := e.runner.Run(ctx, e.cfg.FFmpegPath, renderArgs(st, out, e.cfg.Encoding), nil)
	if !res.IsSuccess() {
		_ = os.Remove(out)
		return fmt.Errorf("encode failed: %w", res.Err())
	}

	e.logger.Info("render complete",
		"output", filepath.Base(out),
		"duration_ms", res.Duration.Milliseconds(),
	)
	return nil
}
