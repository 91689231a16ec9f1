package editor

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/filmyai/filmy/internal/instruction"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(f float64) *float64 { return &f }

const probeJSON = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "duration": "10.000000", "avg_frame_rate": "30000/1001"},
    {"codec_type": "audio", "codec_name": "aac", "sample_rate": "44100", "duration": "10.000000"}
  ],
  "format": {"duration": "10.000000", "bit_rate": "1500000", "size": "1875000"}
}`

// fakeRunner stands in for ffmpeg and ffprobe. Successful ffmpeg runs
// create their output file.
type fakeRunner struct {
	mu    sync.Mutex
	probe string
	fail  func(args []string) bool
	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, bin string, args []string, stdout io.Writer) RunResult {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{bin}, args...))
	f.mu.Unlock()

	if strings.Contains(bin, "ffprobe") {
		if f.probe == "" {
			return RunResult{ExitCode: 1, StderrTail: "no such file"}
		}
		_, _ = io.WriteString(stdout, f.probe)
		return RunResult{}
	}
	if f.fail != nil && f.fail(args) {
		return RunResult{ExitCode: 1, StderrTail: "encoder exploded"}
	}
	if out := outputArg(args); out != "" {
		_ = os.WriteFile(out, []byte("video"), 0644)
	}
	return RunResult{}
}

func (f *fakeRunner) ffmpegCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if !strings.Contains(c[0], "ffprobe") {
			out = append(out, c[1:])
		}
	}
	return out
}

// outputArg returns the last absolute path in args that is not an input.
func outputArg(args []string) string {
	var out string
	for i := 0; i < len(args); i++ {
		if args[i] == "-i" {
			i++
			continue
		}
		if filepath.IsAbs(args[i]) {
			out = args[i]
		}
	}
	return out
}

func baseState() State {
	return newState("/videos/in.mp4", &ProbeResult{Duration: 10, Width: 1280, Height: 720, HasAudio: true})
}

func TestTrimStep_Arithmetic(t *testing.T) {
	st, err := trimStep(context.Background(), nil, baseState(), instruction.Command{
		TrimStart: ptr(2),
		TrimEnd:   ptr(1),
	})
	if err != nil {
		t.Fatalf("trimStep: %v", err)
	}
	if st.Duration != 7 || st.Start != 2 || st.Span != 7 || !st.Trimmed {
		t.Errorf("unexpected window: start=%v span=%v duration=%v", st.Start, st.Span, st.Duration)
	}

	args := strings.Join(renderArgs(st, "/out/o.mp4", DefaultConfig().Encoding), " ")
	if !strings.Contains(args, "-ss 2.000") || !strings.Contains(args, "-t 7.000") {
		t.Errorf("render args missing trim window: %s", args)
	}
}

func TestTrimStep_ClampsAndSkips(t *testing.T) {
	st, err := trimStep(context.Background(), nil, baseState(), instruction.Command{TrimStart: ptr(-5), TrimEnd: ptr(3)})
	if err != nil {
		t.Fatalf("negative start should clamp: %v", err)
	}
	if st.Start != 0 || st.Duration != 7 {
		t.Errorf("expected [0, 7], got start=%v duration=%v", st.Start, st.Duration)
	}

	for _, cmd := range []instruction.Command{
		{TrimStart: ptr(20)},
		{TrimStart: ptr(6), TrimEnd: ptr(5)},
		{TrimEnd: ptr(10)},
		{TrimStart: ptr(math.NaN())},
	} {
		before := baseState()
		after, err := trimStep(context.Background(), nil, before, cmd)
		if err == nil {
			t.Errorf("expected skip for %+v", cmd)
		}
		if diff := cmp.Diff(before, after); diff != "" {
			t.Errorf("skipped trim changed state:\n%s", diff)
		}
	}
}

func TestVolumeStep_UnitFactorIsNoop(t *testing.T) {
	before := baseState()
	after, err := volumeStep(context.Background(), nil, before, instruction.Command{VolumeBoost: ptr(1.0)})
	if err != nil {
		t.Fatalf("volumeStep: %v", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("volume 1.0 changed state:\n%s", diff)
	}
	args := strings.Join(renderArgs(after, "/out/o.mp4", DefaultConfig().Encoding), " ")
	if strings.Contains(args, "volume") {
		t.Errorf("volume 1.0 must not add a filter: %s", args)
	}
}

func TestVolumeStep_Boost(t *testing.T) {
	st, err := volumeStep(context.Background(), nil, baseState(), instruction.Command{VolumeBoost: ptr(1.5)})
	if err != nil {
		t.Fatalf("volumeStep: %v", err)
	}
	if len(st.AudioFilters) != 1 || st.AudioFilters[0].Name != "volume" {
		t.Fatalf("expected volume filter, got %+v", st.AudioFilters)
	}

	silent := baseState()
	silent.HasAudio = false
	if _, err := volumeStep(context.Background(), nil, silent, instruction.Command{VolumeBoost: ptr(2)}); err == nil {
		t.Error("expected skip without audio")
	}
}

func TestGrayscale_IsProjection(t *testing.T) {
	m := grayscaleMatrix()

	var mm [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				mm[i][j] += m[i][k] * m[k][j]
			}
		}
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(mm[i][j]-m[i][j]) > 1e-12 {
				t.Fatalf("M*M != M at [%d][%d]: %v vs %v", i, j, mm[i][j], m[i][j])
			}
		}
	}

	apply := func(px [3]float64) [3]float64 {
		var out [3]float64
		for i := 0; i < 3; i++ {
			out[i] = m[i][0]*px[0] + m[i][1]*px[1] + m[i][2]*px[2]
		}
		return out
	}
	for _, px := range [][3]float64{{255, 0, 0}, {12, 200, 99}, {255, 255, 255}, {0, 0, 0}} {
		once := apply(px)
		twice := apply(once)
		for c := 0; c < 3; c++ {
			if math.Abs(once[c]-twice[c]) > 1e-9 {
				t.Errorf("grayscale not idempotent for %v: %v vs %v", px, once, twice)
			}
			if math.Abs(once[c]-(0.299*px[0]+0.587*px[1]+0.114*px[2])) > 1e-9 {
				t.Errorf("luma mismatch for %v", px)
			}
		}
	}
}

func TestGrayscaleStep_Twice(t *testing.T) {
	cmd := instruction.Command{Grayscale: true}
	once, _ := grayscaleStep(context.Background(), nil, baseState(), cmd)
	twice, _ := grayscaleStep(context.Background(), nil, once, cmd)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second grayscale pass changed state:\n%s", diff)
	}
	f := once.VideoFilters[0]
	if f.Name != "colorchannelmixer" || f.KwArgs["gr"] != "0.299" || f.KwArgs["bb"] != "0.114" {
		t.Errorf("unexpected grayscale filter: %+v", f)
	}
}

func TestSpeedStep(t *testing.T) {
	st, err := speedStep(context.Background(), nil, baseState(), instruction.Command{Speed: ptr(4)})
	if err != nil {
		t.Fatalf("speedStep: %v", err)
	}
	if st.Duration != 2.5 {
		t.Errorf("expected duration 2.5, got %v", st.Duration)
	}
	if len(st.AudioFilters) != 2 {
		t.Errorf("expected two atempo stages for 4x, got %d", len(st.AudioFilters))
	}

	same, _ := speedStep(context.Background(), nil, baseState(), instruction.Command{Speed: ptr(1)})
	if diff := cmp.Diff(baseState(), same); diff != "" {
		t.Errorf("speed 1.0 changed state:\n%s", diff)
	}
}

func TestAtempoChain(t *testing.T) {
	for _, f := range []float64{0.1, 0.25, 0.5, 0.75, 1.5, 2, 3, 10, 100} {
		chain := atempoChain(f)
		product := 1.0
		for _, s := range chain {
			if s < 0.5 || s > 2.0 {
				t.Errorf("factor %v: stage %v out of range", f, s)
			}
			product *= s
		}
		if math.Abs(product-f) > 1e-9 {
			t.Errorf("factor %v: chain %v multiplies to %v", f, chain, product)
		}
	}
}

func TestAdjustStep(t *testing.T) {
	src := baseState()
	src.Width, src.Height = 1440, 1080

	st, err := adjustStep(context.Background(), nil, src, instruction.Command{
		Stabilize:  true,
		Brightness: ptr(0.1),
		Aspect:     "16:9",
		Upscale:    true,
	})
	if err != nil {
		t.Fatalf("adjustStep: %v", err)
	}
	want := []string{"stabilize", "brightness", "crop 16:9", "upscale"}
	if diff := cmp.Diff(want, st.Applied); diff != "" {
		t.Errorf("applied steps (-want +got):\n%s", diff)
	}

	crop := st.VideoFilters[2]
	if crop.Name != "crop" || crop.KwArgs["w"] != 1440 || crop.KwArgs["h"] != 810 || crop.KwArgs["y"] != 135 {
		t.Errorf("unexpected crop filter: %+v", crop)
	}
	if st.Width != 1920 || st.Height != upscaleMinHeight {
		t.Errorf("expected 1920x%d after upscale, got %dx%d", upscaleMinHeight, st.Width, st.Height)
	}
}

func TestOverlayStep_SkipsEmptyWindows(t *testing.T) {
	env := &stepEnv{ws: &workspace{dir: t.TempDir()}, cfg: DefaultConfig(), logger: testLogger()}
	cmd := instruction.Command{TextOverlays: []instruction.TextOverlay{
		{Content: "inverted", Start: 3, End: ptr(2)},
		{Content: "equal", Start: 4, End: ptr(4)},
		{Content: "explicit zero end", Start: 3, End: ptr(0)},
		{Content: "past the end", Start: 12, End: ptr(15)},
		{Content: "open past the end", Start: 12},
		{Content: "bad color", Start: 0, End: ptr(1), Color: "not-a-color"},
		{Content: "kept", Start: 1, End: ptr(30), Position: instruction.AnchorBottomRight},
	}}

	st, err := overlayStep(context.Background(), env, baseState(), cmd)
	if err != nil {
		t.Fatalf("overlayStep: %v", err)
	}
	if len(st.Layers) != 1 {
		t.Fatalf("expected one layer, got %d", len(st.Layers))
	}
	l := st.Layers[0]
	if l.Start != 1 || l.End != 10 {
		t.Errorf("expected window clamped to [1, 10], got [%v, %v]", l.Start, l.End)
	}
	if l.X+l.Width > 1280 || l.Y+l.Height > 720 || l.X < 640 || l.Y < 360 {
		t.Errorf("bottom-right layer misplaced: %+v", l)
	}
	if _, err := os.Stat(l.Image); err != nil {
		t.Errorf("overlay image not written: %v", err)
	}
}

func TestOverlayStep_AllSkippedLeavesState(t *testing.T) {
	env := &stepEnv{ws: &workspace{dir: t.TempDir()}, cfg: DefaultConfig(), logger: testLogger()}
	before := baseState()
	after, err := overlayStep(context.Background(), env, before, instruction.Command{
		TextOverlays: []instruction.TextOverlay{{Content: "x", Start: 5, End: ptr(5)}},
	})
	if err != nil {
		t.Fatalf("overlayStep: %v", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("state changed:\n%s", diff)
	}
}

func TestRasterizeText_FitsFrame(t *testing.T) {
	img, err := rasterizeText(instruction.TextOverlay{Content: strings.Repeat("W", 200), Size: 96}, 640, 360)
	if err != nil {
		t.Fatalf("rasterizeText: %v", err)
	}
	b := img.Bounds()
	if b.Dx() > 640 || b.Dy() > 360 {
		t.Errorf("overlay larger than frame: %v", b)
	}
	if _, err := rasterizeText(instruction.TextOverlay{Content: "   "}, 640, 360); err == nil {
		t.Error("expected error for blank text")
	}
}

func TestAnchorPosition(t *testing.T) {
	cases := []struct {
		anchor string
		x, y   int
	}{
		{instruction.AnchorCenter, 540, 335},
		{"", 540, 335},
		{instruction.AnchorTopLeft, 24, 24},
		{instruction.AnchorTopRight, 1280 - 200 - 24, 24},
		{instruction.AnchorBottomLeft, 24, 720 - 50 - 24},
		{instruction.AnchorBottomRight, 1280 - 200 - 24, 720 - 50 - 24},
	}
	for _, tc := range cases {
		x, y := anchorPosition(tc.anchor, 1280, 720, 200, 50)
		if x != tc.x || y != tc.y {
			t.Errorf("%q: got (%d,%d), want (%d,%d)", tc.anchor, x, y, tc.x, tc.y)
		}
	}
}

func TestParseProbe(t *testing.T) {
	pr, err := parseProbe([]byte(probeJSON))
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if pr.Width != 1280 || pr.Height != 720 || !pr.HasAudio || pr.Duration != 10 {
		t.Errorf("unexpected probe: %+v", pr)
	}
	if math.Abs(pr.FrameRate-29.97) > 0.01 {
		t.Errorf("unexpected frame rate %v", pr.FrameRate)
	}

	if _, err := parseProbe([]byte(`{"streams":[{"codec_type":"audio"}]}`)); err != ErrNoVideoStream {
		t.Errorf("expected ErrNoVideoStream, got %v", err)
	}
}

func TestEdit_Success(t *testing.T) {
	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	runner := &fakeRunner{probe: probeJSON}
	e := newWithRunner(Config{WorkDir: work}, runner, testLogger())

	out := filepath.Join(dir, "output_videos", "edited.mp4")
	res := e.Edit(context.Background(), filepath.Join(dir, "in.mp4"), out, instruction.Command{
		Grayscale:   true,
		RemoveNoise: true,
		TextOverlays: []instruction.TextOverlay{
			{Content: "Hello", Start: 0, End: ptr(2)},
		},
	})
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.OutputPath != out {
		t.Errorf("unexpected output path %q", res.OutputPath)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output not written: %v", err)
	}
	want := []string{"denoise", "grayscale", "text_overlay x1"}
	if diff := cmp.Diff(want, res.Applied); diff != "" {
		t.Errorf("applied (-want +got):\n%s", diff)
	}

	entries, _ := os.ReadDir(work)
	if len(entries) != 0 {
		t.Errorf("workspace not released: %d entries left", len(entries))
	}

	calls := runner.ffmpegCalls()
	final := strings.Join(calls[len(calls)-1], " ")
	for _, want := range []string{"colorchannelmixer", "overlay", "libx264", "-crf 23", "-preset veryfast"} {
		if !strings.Contains(final, want) {
			t.Errorf("render args missing %q: %s", want, final)
		}
	}
}

func TestEdit_DenoiseFailureKeepsAudio(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{
		probe: probeJSON,
		fail: func(args []string) bool {
			return strings.Contains(strings.Join(args, " "), "afftdn")
		},
	}
	e := newWithRunner(Config{WorkDir: dir}, runner, testLogger())

	res := e.Edit(context.Background(), filepath.Join(dir, "in.mp4"), filepath.Join(dir, "out.mp4"),
		instruction.Command{RemoveNoise: true, Grayscale: true})
	if !res.OK() {
		t.Fatalf("denoise failure must not fail the edit: %+v", res)
	}
	for _, a := range res.Applied {
		if a == "denoise" {
			t.Error("denoise reported as applied")
		}
	}
	calls := runner.ffmpegCalls()
	final := strings.Join(calls[len(calls)-1], " ")
	if strings.Contains(final, ".wav") {
		t.Errorf("render should use the original audio: %s", final)
	}
}

func TestEdit_ChunkedDenoise(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{probe: probeJSON}
	e := newWithRunner(Config{WorkDir: dir, DenoiseChunk: 3 * 1e9}, runner, testLogger())

	res := e.Edit(context.Background(), filepath.Join(dir, "in.mp4"), filepath.Join(dir, "out.mp4"),
		instruction.Command{RemoveNoise: true})
	if !res.OK() {
		t.Fatalf("edit failed: %+v", res)
	}

	var chunks, joins int
	for _, c := range runner.ffmpegCalls() {
		joined := strings.Join(c, " ")
		switch {
		case strings.Contains(joined, "afftdn"):
			chunks++
		case strings.Contains(joined, "concat"):
			joins++
		}
	}
	if chunks != 4 || joins != 1 {
		t.Errorf("expected 4 chunks and 1 join for 10s at 3s chunks, got %d and %d", chunks, joins)
	}
}

func TestEdit_Errors(t *testing.T) {
	dir := t.TempDir()

	missing := newWithRunner(Config{WorkDir: dir}, &fakeRunner{}, testLogger())
	res := missing.Edit(context.Background(), "/nope.mp4", filepath.Join(dir, "o.mp4"), instruction.Command{})
	if res.OK() || res.Message == "" {
		t.Errorf("expected probe failure, got %+v", res)
	}

	out := filepath.Join(dir, "broken.mp4")
	broken := newWithRunner(Config{WorkDir: dir}, &fakeRunner{
		probe: probeJSON,
		fail:  func(args []string) bool { return strings.Contains(strings.Join(args, " "), "libx264") },
	}, testLogger())
	res = broken.Edit(context.Background(), filepath.Join(dir, "in.mp4"), out, instruction.Command{Grayscale: true})
	if res.OK() {
		t.Fatal("expected render failure")
	}
	if !strings.Contains(res.Message, "encoder exploded") {
		t.Errorf("message should carry stderr tail: %q", res.Message)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("partial output must be removed")
	}
}

func TestEdit_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	e := newWithRunner(Config{WorkDir: dir}, &fakeRunner{probe: probeJSON}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Edit(ctx, filepath.Join(dir, "in.mp4"), filepath.Join(dir, "o.mp4"), instruction.Command{Grayscale: true})
	if res.OK() {
		t.Fatal("expected cancelled edit to fail")
	}
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 8}
	_, _ = lw.Write([]byte("0123456789"))
	_, _ = lw.Write([]byte("abc"))
	if got := buf.String(); got != "56789abc" {
		t.Errorf("expected tail 56789abc, got %q", got)
	}
}

func TestPipelineOrder(t *testing.T) {
	var got []string
	for _, s := range pipeline {
		got = append(got, s.name)
	}
	want := []string{"trim", "denoise", "volume", "adjust", "grayscale", "speed", "overlay"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pipeline order (-want +got):\n%s", diff)
	}
}

func TestOverlayWindow_OpenEndRunsToClipEnd(t *testing.T) {
	start, end, ok := overlayWindow(instruction.TextOverlay{Content: "x", Start: 3}, 10)
	if !ok || start != 3 || end != 10 {
		t.Errorf("overlayWindow = (%v, %v, %v), want (3, 10, true)", start, end, ok)
	}
}
