// Package studio runs edit requests end to end: resolve the upload, turn the
// instruction into a plan, render it, and record the outcome in the status
// store and the job history.
package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/filmyai/filmy/internal/editor"
	"github.com/filmyai/filmy/internal/instruction"
	"github.com/filmyai/filmy/internal/logging"
	"github.com/filmyai/filmy/internal/metrics"
	"github.com/filmyai/filmy/internal/status"
	"github.com/filmyai/filmy/internal/storage"
)

var (
	ErrVideoNotFound      = errors.New("video not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrEmptyInstruction   = errors.New("instruction is empty")
	ErrUnknownEnhancement = errors.New("unknown enhancement type")
	ErrInvalidSettings    = errors.New("invalid enhancement settings")
	ErrEditFailed         = errors.New("edit failed")
)

// Parser turns an instruction into a plan. It never fails.
type Parser interface {
	Parse(ctx context.Context, instruction string) instruction.Result
}

// Editor renders a Command and probes media files.
type Editor interface {
	Edit(ctx context.Context, src, out string, cmd instruction.Command) editor.Result
	Probe(ctx context.Context, path string) (*editor.ProbeResult, error)
}

// Outcome is the result of a synchronous edit.
type Outcome struct {
	Job  *Job
	Plan instruction.Result
	Edit editor.Result
}

type Service struct {
	repo     Repository
	parser   Parser
	editor   Editor
	files    *storage.Store
	statuses status.Store
	locks    *status.Locker
	slots    *semaphore.Weighted
	probes   singleflight.Group
	pending  chan struct{}
	logger   *slog.Logger
}

func NewService(repo Repository, parser Parser, ed Editor, files *storage.Store, statuses status.Store, maxConcurrent int, logger *slog.Logger) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Service{
		repo:     repo,
		parser:   parser,
		editor:   ed,
		files:    files,
		statuses: statuses,
		locks:    status.NewLocker(),
		slots:    semaphore.NewWeighted(int64(maxConcurrent)),
		pending:  make(chan struct{}, 1),
		logger:   logging.WithComponent(logger, "studio"),
	}
}

// Upload stores a new video. The returned id is the stored file name.
func (s *Service) Upload(r io.Reader, filename string) (storage.Upload, error) {
	up, err := s.files.SaveUpload(r, filename)
	if err != nil {
		return storage.Upload{}, err
	}
	metrics.UploadBytesTotal.Add(float64(up.Size))
	return up, nil
}

// Instruct parses text and applies the plan to videoID, blocking until the
// render finishes.
func (s *Service) Instruct(ctx context.Context, videoID, text string) (*Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInstruction
	}
	src, err := s.source(videoID)
	if err != nil {
		return nil, err
	}

	job := newJob(videoID, KindInstruct, JobStatusRunning)
	job.Instruction = text
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return s.runInstruct(ctx, job, src)
}

// Submit queues an instruction for the Runner and returns immediately.
func (s *Service) Submit(ctx context.Context, videoID, text string) (*Job, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInstruction
	}
	if _, err := s.source(videoID); err != nil {
		return nil, err
	}

	job := newJob(videoID, KindInstruct, JobStatusPending)
	job.Instruction = text
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.setStatus(ctx, videoID, status.Processing)

	select {
	case s.pending <- struct{}{}:
	default:
	}
	s.logger.Info("edit job queued", "job_id", job.ID, "video_id", videoID)
	return job, nil
}

// Edit applies a direct command. Invalid commands are rejected before any
// job is recorded.
func (s *Service) Edit(ctx context.Context, videoID string, cmd instruction.Command) (*Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	src, err := s.source(videoID)
	if err != nil {
		return nil, err
	}

	job := newJob(videoID, KindEdit, JobStatusRunning)
	job.Command = &cmd
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	plan := instruction.Result{Operations: instruction.OperationsFromCommand(cmd), Command: cmd}
	res, err := s.apply(ctx, job, src, cmd, "edited")
	return &Outcome{Job: job, Plan: plan, Edit: res}, err
}

// Execute runs a claimed job. Failures are recorded on the job.
func (s *Service) Execute(ctx context.Context, job *Job) error {
	log := logging.WithJobID(s.logger, job.ID)
	src, err := s.source(job.VideoID)
	if err != nil {
		s.fail(ctx, job, err.Error())
		return err
	}

	switch job.Kind {
	case KindInstruct:
		_, err = s.runInstruct(ctx, job, src)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
		s.fail(ctx, job, err.Error())
	}
	if err != nil {
		log.Warn("job failed", "error", err)
	}
	return err
}

func (s *Service) runInstruct(ctx context.Context, job *Job, src string) (*Outcome, error) {
	plan := s.parser.Parse(ctx, job.Instruction)
	job.Command = &plan.Command
	job.Source = string(plan.Source)
	if err := s.repo.UpdateJobPlan(ctx, job.ID, plan.Command, job.Source); err != nil {
		s.logger.Warn("cannot record plan", "job_id", job.ID, "error", err)
	}

	res, err := s.apply(ctx, job, src, plan.Command, "edited")
	return &Outcome{Job: job, Plan: plan, Edit: res}, err
}

// apply renders cmd under the per-video lock and a global slot.
func (s *Service) apply(ctx context.Context, job *Job, src string, cmd instruction.Command, prefix string) (editor.Result, error) {
	release, err := s.acquire(ctx, job.VideoID)
	if err != nil {
		s.fail(ctx, job, err.Error())
		return editor.Result{Status: editor.StatusError, Message: err.Error()}, err
	}
	defer release()

	s.setStatus(ctx, job.VideoID, status.Processing)
	out := s.files.OutputPath(src, prefix)
	res := s.editor.Edit(ctx, src, out, cmd)
	metrics.RecordEdit(job.Kind, res.OK(), res.Elapsed)

	if !res.OK() {
		s.fail(ctx, job, res.Message)
		return res, fmt.Errorf("%w: %s", ErrEditFailed, res.Message)
	}
	s.complete(ctx, job, out)
	return res, nil
}

// acquire takes the video's lock and then a global slot. The returned func
// releases both.
func (s *Service) acquire(ctx context.Context, videoID string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("wait for video lock: %w", err)
	}
	if err := s.slots.Acquire(ctx, 1); err != nil {
		unlock()
		return nil, fmt.Errorf("wait for edit slot: %w", err)
	}
	metrics.ActiveEdits.Inc()
	return func() {
		metrics.ActiveEdits.Dec()
		s.slots.Release(1)
		unlock()
	}, nil
}

func (s *Service) complete(ctx context.Context, job *Job, out string) {
	job.Status = JobStatusCompleted
	job.OutputPath = out
	job.Error = ""
	if err := s.repo.CompleteJob(ctx, job.ID, out); err != nil {
		s.logger.Warn("cannot record job completion", "job_id", job.ID, "error", err)
	}
	s.setStatus(ctx, job.VideoID, status.Completed)
	s.setStatus(ctx, filepath.Base(out), status.Completed)
	s.logger.Info("edit completed", "job_id", job.ID, "video_id", job.VideoID, "output", filepath.Base(out))
}

func (s *Service) fail(ctx context.Context, job *Job, msg string) {
	job.Status = JobStatusFailed
	job.Error = msg
	// Record the failure even when the request context is gone.
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, msg); err != nil {
		s.logger.Warn("cannot record job failure", "job_id", job.ID, "error", err)
	}
	s.setStatus(ctx, job.VideoID, status.Failed)
}

func (s *Service) setStatus(ctx context.Context, id string, st status.Status) {
	if err := s.statuses.Set(ctx, id, st); err != nil {
		s.logger.Warn("cannot update status", "video_id", id, "status", st, "error", err)
	}
}

// Status returns the lifecycle status of an input or output identifier.
func (s *Service) Status(ctx context.Context, id string) (status.Status, error) {
	return s.statuses.Get(ctx, id)
}

func (s *Service) Job(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

func (s *Service) Jobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

// Metadata describes a stored upload or rendered output.
type Metadata struct {
	VideoID    string  `json:"video_id"`
	Filename   string  `json:"filename"`
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FileSizeMB float64 `json:"file_size_mb"`
	Codec      string  `json:"codec"`
	HasAudio   bool    `json:"has_audio"`
	Status     string  `json:"status"`
}

// Metadata probes a video. Concurrent requests for the same file share one
// ffprobe run.
func (s *Service) Metadata(ctx context.Context, videoID string) (*Metadata, error) {
	path, err := s.source(videoID)
	if errors.Is(err, ErrVideoNotFound) {
		if out, ferr := s.files.FindOutput(videoID); ferr == nil {
			path, err = out, nil
		}
	}
	if err != nil {
		return nil, err
	}

	// The shared lookup outlives any one caller; Probe bounds it with its own timeout.
	flight := s.probes.DoChan(path, func() (any, error) {
		return s.editor.Probe(context.WithoutCancel(ctx), path)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-flight:
	}
	if res.Err != nil {
		return nil, fmt.Errorf("probe %s: %w", videoID, res.Err)
	}
	probe := res.Val.(*editor.ProbeResult)

	st, err := s.statuses.Get(ctx, videoID)
	if err != nil {
		st = status.Unknown
	}
	return &Metadata{
		VideoID:    videoID,
		Filename:   filepath.Base(path),
		Duration:   probe.Duration,
		Width:      probe.Width,
		Height:     probe.Height,
		FPS:        probe.FrameRate,
		FileSizeMB: float64(probe.SizeBytes) / (1024 * 1024),
		Codec:      probe.Codec,
		HasAudio:   probe.HasAudio,
		Status:     string(st),
	}, nil
}

// OutputFile resolves a download name to a rendered file.
func (s *Service) OutputFile(name string) (string, error) {
	path, err := s.files.FindOutput(name)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrVideoNotFound, name)
	}
	return path, err
}

// source resolves an upload id. Unknown ids map to ErrVideoNotFound; ids
// that could escape storage keep storage.ErrInvalidID.
func (s *Service) source(videoID string) (string, error) {
	path, err := s.files.SourcePath(videoID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
	}
	return path, err
}

func elapsedSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}
