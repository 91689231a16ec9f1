package editor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // tail of encoder stderr kept for diagnostics
)

// RunResult is the outcome of one encoder or probe invocation.
type RunResult struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

func (r RunResult) IsSuccess() bool {
	return r.ExitCode == 0
}

func (r RunResult) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return fmt.Errorf("exit %d: %s", r.ExitCode, truncate(r.StderrTail, 512))
}

// commandRunner runs an external binary. Tests substitute a fake.
type commandRunner interface {
	Run(ctx context.Context, bin string, args []string, stdout io.Writer) RunResult
}

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, bin string, args []string, stdout io.Writer) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = io.Discard
	}

	r.logger.Debug("executing media command", "bin", bin, "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	stderrTail := stderrBuf.String()
	if exitCode != 0 && stderrTail == "" && err != nil {
		stderrTail = err.Error()
	}
	if ctx.Err() != nil && exitCode != 0 {
		stderrTail = ctx.Err().Error() + ": " + stderrTail
	}

	if exitCode != 0 {
		r.logger.Warn("media command failed",
			"bin", bin,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	}

	return RunResult{ExitCode: exitCode, StderrTail: stderrTail, Duration: elapsed}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
