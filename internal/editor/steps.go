package editor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/filmyai/filmy/internal/instruction"
	"github.com/filmyai/filmy/internal/metrics"
)

// stepFunc turns one State into the next. A returned error means the step
// was skipped and the input State stands.
type stepFunc func(ctx context.Context, env *stepEnv, st State, cmd instruction.Command) (State, error)

type step struct {
	name  string
	apply stepFunc
}

// pipeline is the fixed step order. Each step sees the result of the ones
// before it.
var pipeline = []step{
	{"trim", trimStep},
	{"denoise", denoiseStep},
	{"volume", volumeStep},
	{"adjust", adjustStep},
	{"grayscale", grayscaleStep},
	{"speed", speedStep},
	{"overlay", overlayStep},
}

// reduce folds cmd over st. Only cancellation aborts; other step errors are
// logged and the step is skipped.
func (e *Editor) reduce(ctx context.Context, env *stepEnv, st State, cmd instruction.Command) (State, error) {
	for _, s := range pipeline {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		next, err := s.apply(ctx, env, st, cmd)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return st, ctxErr
			}
			e.logger.Warn("edit step skipped", "step", s.name, "reason", err.Error())
			metrics.RecordStepSkipped(s.name)
			continue
		}
		st = next
	}
	return st, nil
}

func trimStep(_ context.Context, _ *stepEnv, st State, cmd instruction.Command) (State, error) {
	if cmd.TrimStart == nil && cmd.TrimEnd == nil {
		return st, nil
	}
	var head, tail float64
	if cmd.TrimStart != nil {
		head = *cmd.TrimStart
	}
	if cmd.TrimEnd != nil {
		tail = *cmd.TrimEnd
	}
	if math.IsNaN(head) || math.IsNaN(tail) {
		return st, errors.New("trim values are not numbers")
	}

	start := clamp(head, 0, st.Duration)
	end := clamp(st.Duration-tail, 0, st.Duration)
	if end <= start {
		return st, fmt.Errorf("empty trim window [%s, %s] on %ss clip", fmtSeconds(start), fmtSeconds(end), fmtSeconds(st.Duration))
	}

	out := st.clone()
	out.Start = st.Start + start
	out.Span = end - start
	out.Duration = end - start
	out.Trimmed = true
	return out.withApplied("trim"), nil
}

func denoiseStep(ctx context.Context, env *stepEnv, st State, cmd instruction.Command) (State, error) {
	if !cmd.RemoveNoise {
		return st, nil
	}
	if !st.HasAudio {
		return st, errors.New("no audio track")
	}
	path, err := env.denoise(ctx, st)
	if err != nil {
		return st, fmt.Errorf("noise reduction failed, keeping original audio: %w", err)
	}
	out := st.clone()
	out.AudioPath = path
	return out.withApplied("denoise"), nil
}

func volumeStep(_ context.Context, _ *stepEnv, st State, cmd instruction.Command) (State, error) {
	if cmd.VolumeBoost == nil || *cmd.VolumeBoost == 1.0 {
		return st, nil
	}
	factor := *cmd.VolumeBoost
	if !(factor > 0) || math.IsInf(factor, 0) {
		return st, fmt.Errorf("volume factor %v out of range", factor)
	}
	if !st.HasAudio {
		return st, errors.New("no audio track")
	}
	return st.withAudioFilter(Filter{
		Name: "volume",
		Args: ffmpeg.Args{formatFloat(factor)},
	}).withApplied("volume"), nil
}

const (
	resizeMaxWidth   = 1280
	upscaleMinHeight = 1080
)

// adjustStep applies the frame-level adjustments: stabilization, brightness,
// aspect crop, resize and upscale.
func adjustStep(_ context.Context, _ *stepEnv, st State, cmd instruction.Command) (State, error) {
	out := st
	if cmd.Stabilize {
		out = out.withVideoFilter(Filter{Name: "deshake"}).withApplied("stabilize")
	}
	if cmd.Brightness != nil && *cmd.Brightness != 0 {
		b := clamp(*cmd.Brightness, -1, 1)
		out = out.withVideoFilter(Filter{
			Name:   "eq",
			KwArgs: ffmpeg.KwArgs{"brightness": formatFloat(b)},
		}).withApplied("brightness")
	}
	if cmd.Aspect != "" {
		cropped, err := cropToAspect(out, cmd.Aspect)
		if err != nil {
			return st, err
		}
		out = cropped
	}
	if cmd.Resize && out.Width > resizeMaxWidth {
		h := evenFloor(float64(out.Height) * resizeMaxWidth / float64(out.Width))
		out = out.withVideoFilter(Filter{
			Name:   "scale",
			KwArgs: ffmpeg.KwArgs{"w": resizeMaxWidth, "h": h},
		}).withApplied("resize")
		out.Width, out.Height = resizeMaxWidth, h
	}
	if cmd.Upscale && out.Height > 0 && out.Height < upscaleMinHeight {
		w := evenFloor(float64(out.Width) * upscaleMinHeight / float64(out.Height))
		out = out.withVideoFilter(Filter{
			Name:   "scale",
			KwArgs: ffmpeg.KwArgs{"w": w, "h": upscaleMinHeight, "flags": "lanczos"},
		}).withApplied("upscale")
		out.Width, out.Height = w, upscaleMinHeight
	}
	return out, nil
}

func cropToAspect(st State, aspect string) (State, error) {
	num, den, ok := parseAspect(aspect)
	if !ok {
		return st, fmt.Errorf("unsupported aspect %q", aspect)
	}
	if st.Width <= 0 || st.Height <= 0 {
		return st, errors.New("unknown frame size")
	}
	target := num / den
	w, h := st.Width, st.Height
	if float64(w)/float64(h) > target {
		w = evenFloor(float64(h) * target)
	} else {
		h = evenFloor(float64(w) / target)
	}
	if w == st.Width && h == st.Height {
		return st, nil
	}
	x := (st.Width - w) / 2
	y := (st.Height - h) / 2
	out := st.withVideoFilter(Filter{
		Name:   "crop",
		KwArgs: ffmpeg.KwArgs{"w": w, "h": h, "x": x, "y": y},
	}).withApplied("crop " + aspect)
	out.Width, out.Height = w, h
	return out, nil
}

func parseAspect(a string) (float64, float64, bool) {
	var num, den float64
	if _, err := fmt.Sscanf(a, "%g:%g", &num, &den); err != nil || num <= 0 || den <= 0 {
		return 0, 0, false
	}
	return num, den, true
}

// lumaWeights are the Rec. 601 luma coefficients for R, G and B.
var lumaWeights = [3]float64{0.299, 0.587, 0.114}

// grayscaleMatrix maps RGB to luma replicated on every output channel.
func grayscaleMatrix() [3][3]float64 {
	return [3][3]float64{lumaWeights, lumaWeights, lumaWeights}
}

func grayscaleFilter() Filter {
	m := grayscaleMatrix()
	kw := ffmpeg.KwArgs{}
	channels := [3]string{"r", "g", "b"}
	for i, out := range channels {
		for j, in := range channels {
			kw[out+in] = formatFloat(m[i][j])
		}
	}
	return Filter{Name: "colorchannelmixer", KwArgs: kw}
}

func grayscaleStep(_ context.Context, _ *stepEnv, st State, cmd instruction.Command) (State, error) {
	if !cmd.Grayscale {
		return st, nil
	}
	if st.hasVideoFilter("colorchannelmixer") {
		return st, nil
	}
	return st.withVideoFilter(grayscaleFilter()).withApplied("grayscale"), nil
}

func speedStep(_ context.Context, _ *stepEnv, st State, cmd instruction.Command) (State, error) {
	if cmd.Speed == nil || *cmd.Speed == 1.0 {
		return st, nil
	}
	factor := *cmd.Speed
	if !(factor > 0) || math.IsInf(factor, 0) {
		return st, fmt.Errorf("speed factor %v out of range", factor)
	}

	out := st.withVideoFilter(Filter{
		Name: "setpts",
		Args: ffmpeg.Args{"PTS/" + formatFloat(factor)},
	})
	if out.HasAudio {
		for _, t := range atempoChain(factor) {
			out = out.withAudioFilter(Filter{Name: "atempo", Args: ffmpeg.Args{formatFloat(t)}})
		}
	}
	out.Duration = st.Duration / factor
	return out.withApplied("speed"), nil
}

// atempoChain splits factor into atempo stages, each within [0.5, 2].
func atempoChain(factor float64) []float64 {
	var chain []float64
	for factor > 2.0 {
		chain = append(chain, 2.0)
		factor /= 2.0
	}
	for factor < 0.5 {
		chain = append(chain, 0.5)
		factor /= 0.5
	}
	return append(chain, factor)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func evenFloor(v float64) int {
	n := int(math.Floor(v))
	return n - n%2
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func fmtSeconds(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}
