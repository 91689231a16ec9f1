package studio

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/filmyai/filmy/internal/instruction"
	"github.com/filmyai/filmy/internal/metrics"
	"github.com/filmyai/filmy/internal/status"
)

const (
	EnhanceUpscale           = "upscale"
	EnhanceDenoise           = "denoise"
	EnhanceColorCorrection   = "color_correction"
	EnhanceStabilization     = "stabilization"
	EnhanceSuperResolution   = "super_resolution"
	EnhanceMotionBlurRemoval = "motion_blur_removal"

	DefaultIntensity = 0.7
)

// EnhancementTypes lists the accepted enhancement names in display order.
var EnhancementTypes = []string{
	EnhanceUpscale,
	EnhanceDenoise,
	EnhanceColorCorrection,
	EnhanceStabilization,
	EnhanceSuperResolution,
	EnhanceMotionBlurRemoval,
}

type EnhanceSettings struct {
	Intensity       *float64       `json:"intensity,omitempty"`
	PreserveQuality *bool          `json:"preserve_quality,omitempty"`
	CustomParams    map[string]any `json:"custom_params,omitempty"`
}

func (s EnhanceSettings) intensity() float64 {
	if s.Intensity == nil {
		return DefaultIntensity
	}
	return *s.Intensity
}

func (s EnhanceSettings) validate() error {
	v := s.intensity()
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: intensity must be within [0, 1]", ErrInvalidSettings)
	}
	return nil
}

// EnhancementCommand maps an enhancement name to the editor command that
// implements it.
func EnhancementCommand(kind string, settings EnhanceSettings) (instruction.Command, error) {
	if err := settings.validate(); err != nil {
		return instruction.Command{}, err
	}
	switch kind {
	case EnhanceUpscale, EnhanceSuperResolution:
		return instruction.Command{Upscale: true}, nil
	case EnhanceDenoise:
		return instruction.Command{RemoveNoise: true}, nil
	case EnhanceColorCorrection:
		b := math.Round(settings.intensity()*0.1*1000) / 1000
		return instruction.Command{Brightness: &b}, nil
	case EnhanceStabilization, EnhanceMotionBlurRemoval:
		return instruction.Command{Stabilize: true}, nil
	}
	return instruction.Command{}, fmt.Errorf("%w: %q", ErrUnknownEnhancement, kind)
}

type EnhanceOutcome struct {
	Job             *Job
	OutputPath      string
	ProcessingTime  float64
	EnhancementType string
	Fallback        bool
}

// Enhance renders the enhancement. When the encoder fails the source is
// copied unchanged and Fallback is set.
func (s *Service) Enhance(ctx context.Context, videoID, kind string, settings EnhanceSettings) (*EnhanceOutcome, error) {
	start := time.Now()
	cmd, err := EnhancementCommand(kind, settings)
	if err != nil {
		return nil, err
	}
	src, err := s.source(videoID)
	if err != nil {
		return nil, err
	}

	job := newJob(videoID, KindEnhance, JobStatusRunning)
	job.Instruction = kind
	job.Command = &cmd
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	release, err := s.acquire(ctx, videoID)
	if err != nil {
		s.fail(ctx, job, err.Error())
		return nil, err
	}
	defer release()

	s.setStatus(ctx, videoID, status.Processing)
	out := s.files.OutputPath(src, kind)
	res := s.editor.Edit(ctx, src, out, cmd)

	fallback := false
	if !res.OK() && ctx.Err() != nil {
		s.fail(ctx, job, res.Message)
		return nil, fmt.Errorf("%w: %v", ErrEditFailed, ctx.Err())
	}
	if !res.OK() {
		s.logger.Warn("enhancement failed, copying source", "video_id", videoID, "enhancement", kind, "error", res.Message)
		if err := s.files.CopyFile(src, out); err != nil {
			s.fail(ctx, job, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrEditFailed, err)
		}
		fallback = true
	}
	metrics.RecordEdit(job.Kind, res.OK(), res.Elapsed)
	s.complete(ctx, job, out)

	return &EnhanceOutcome{
		Job:             job,
		OutputPath:      out,
		ProcessingTime:  elapsedSeconds(start),
		EnhancementType: kind,
		Fallback:        fallback,
	}, nil
}
