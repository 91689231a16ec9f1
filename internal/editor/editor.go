// Package editor applies an instruction.Command to a video file. A command
// is folded through a fixed sequence of steps into an immutable State, which
// is then compiled into a single ffmpeg invocation. Intermediate files live
// in a per-edit workspace that is removed before Edit returns.
package editor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/filmyai/filmy/internal/instruction"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Encoding is the preset / bitrate / quality triple used for the render.
type Encoding struct {
	Preset       string
	CRF          int
	VideoBitrate string
	AudioBitrate string
}

// Config holds the editor's configuration.
type Config struct {
	FFmpegPath    string
	FFprobePath   string
	Encoding      Encoding
	EncodeTimeout time.Duration
	ProbeTimeout  time.Duration
	DenoiseChunk  time.Duration
	WorkDir       string // parent of per-edit workspaces; empty = os temp dir
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		Encoding: Encoding{
			Preset:       "veryfast",
			CRF:          23,
			AudioBitrate: "128k",
		},
		EncodeTimeout: 30 * time.Minute,
		ProbeTimeout:  30 * time.Second,
		DenoiseChunk:  30 * time.Second,
	}
}

// Result is the structured outcome of an edit. Edit never returns an error;
// failures are reported with Status == StatusError.
type Result struct {
	Status     string        `json:"status"`
	OutputPath string        `json:"output_path,omitempty"`
	Message    string        `json:"message,omitempty"`
	Applied    []string      `json:"applied"`
	Duration   float64       `json:"duration"`
	Elapsed    time.Duration `json:"-"`
}

func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

type Editor struct {
	cfg    Config
	runner commandRunner
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Editor {
	return newWithRunner(cfg, execRunner{logger: logger}, logger)
}

func newWithRunner(cfg Config, runner commandRunner, logger *slog.Logger) *Editor {
	def := DefaultConfig()
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = def.FFprobePath
	}
	if cfg.Encoding.Preset == "" {
		cfg.Encoding.Preset = def.Encoding.Preset
	}
	if cfg.Encoding.CRF <= 0 {
		cfg.Encoding.CRF = def.Encoding.CRF
	}
	if cfg.EncodeTimeout <= 0 {
		cfg.EncodeTimeout = def.EncodeTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}
	if cfg.DenoiseChunk <= 0 {
		cfg.DenoiseChunk = def.DenoiseChunk
	}
	return &Editor{cfg: cfg, runner: runner, logger: logger}
}

// stepEnv is what steps may touch besides the State: the workspace and the
// encoder.
type stepEnv struct {
	ws     *workspace
	runner commandRunner
	cfg    Config
	logger *slog.Logger
}

func (env *stepEnv) ffmpeg(ctx context.Context, args []string) RunResult {
	return env.runner.Run(ctx, env.cfg.FFmpegPath, args, nil)
}

// Edit applies cmd to src and writes the result to out.
func (e *Editor) Edit(ctx context.Context, src, out string, cmd instruction.Command) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during edit", "panic", r)
			res = Result{Status: StatusError, Message: fmt.Sprintf("internal error: %v", r)}
		}
		res.Elapsed = time.Since(start)
	}()

	st, err := e.edit(ctx, src, out, cmd)
	if err != nil {
		e.logger.Warn("edit failed", "source", src, "error", err)
		return Result{Status: StatusError, Message: err.Error(), Applied: []string{}}
	}

	applied := st.Applied
	if applied == nil {
		applied = []string{}
	}
	return Result{
		Status:     StatusSuccess,
		OutputPath: out,
		Message:    "edit completed",
		Applied:    applied,
		Duration:   st.Duration,
	}
}

func (e *Editor) edit(ctx context.Context, src, out string, cmd instruction.Command) (State, error) {
	probe, err := e.Probe(ctx, src)
	if err != nil {
		return State{}, fmt.Errorf("cannot read source video: %w", err)
	}

	ws, err := newWorkspace(e.cfg.WorkDir)
	if err != nil {
		return State{}, err
	}
	defer func() {
		if err := ws.release(); err != nil {
			e.logger.Warn("cannot remove workspace", "dir", ws.dir, "error", err)
		}
	}()

	env := &stepEnv{ws: ws, runner: e.runner, cfg: e.cfg, logger: e.logger}
	st, err := e.reduce(ctx, env, newState(src, probe), cmd)
	if err != nil {
		return State{}, err
	}

	if err := e.render(ctx, st, out); err != nil {
		return State{}, err
	}
	return st, nil
}
