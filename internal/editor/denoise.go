package editor

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// afftdn settings: noise reduction in dB and the estimated noise floor.
const (
	denoiseReduction  = 12
	denoiseNoiseFloor = -25
)

// denoise extracts the audio of the input window in fixed-length chunks,
// runs the afftdn stationary noise reducer on each and joins the result
// into one WAV file inside the workspace.
func (env *stepEnv) denoise(ctx context.Context, st State) (string, error) {
	chunk := env.cfg.DenoiseChunk.Seconds()
	if chunk <= 0 || chunk > st.Span {
		chunk = st.Span
	}
	if chunk <= 0 {
		return "", fmt.Errorf("empty audio window")
	}
	n := int(math.Ceil(st.Span/chunk - 1e-9))
	if n < 1 {
		n = 1
	}

	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		offset := float64(i) * chunk
		length := math.Min(chunk, st.Span-offset)
		if length <= 0 {
			break
		}
		part := env.ws.path(fmt.Sprintf("denoise_%03d.wav", i))
		args := denoiseChunkArgs(st.Source, st.Start+offset, length, part)
		if res := env.ffmpeg(ctx, args); !res.IsSuccess() {
			return "", fmt.Errorf("chunk %d: %w", i, res.Err())
		}
		parts = append(parts, part)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	list := env.ws.path("denoise_parts.txt")
	var b strings.Builder
	for _, p := range parts {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	if err := os.WriteFile(list, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("write chunk list: %w", err)
	}

	joined := env.ws.path("denoised.wav")
	args := ffmpeg.Input(list, ffmpeg.KwArgs{"f": "concat", "safe": "0"}).
		Output(joined, ffmpeg.KwArgs{"c": "copy"}).
		OverWriteOutput().
		GetArgs()
	if res := env.ffmpeg(ctx, args); !res.IsSuccess() {
		return "", fmt.Errorf("join chunks: %w", res.Err())
	}
	return joined, nil
}

func denoiseChunkArgs(src string, offset, length float64, out string) []string {
	return ffmpeg.Input(src, ffmpeg.KwArgs{"ss": fmtSeconds(offset), "t": fmtSeconds(length)}).
		Audio().
		Filter("afftdn", ffmpeg.Args{}, ffmpeg.KwArgs{"nr": denoiseReduction, "nf": denoiseNoiseFloor}).
		Output(out, ffmpeg.KwArgs{"acodec": "pcm_s16le"}).
		OverWriteOutput().
		GetArgs()
}
