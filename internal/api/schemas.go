package api

import (
	"time"

	"github.com/filmyai/filmy/internal/instruction"
	"github.com/filmyai/filmy/internal/studio"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type RootResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Docs    string `json:"docs"`
}

type FeaturesResponse struct {
	VideoEnhancements  []string `json:"video_enhancements"`
	EditingOperations  []string `json:"editing_operations"`
	SupportedFormats   []string `json:"supported_formats"`
	InstructionParsers []string `json:"instruction_parsers"`
}

type UploadResponse struct {
	Status   string `json:"status"`
	VideoID  string `json:"video_id"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type InstructRequest struct {
	VideoID     string `json:"video_id"`
	Instruction string `json:"instruction"`
}

type EditRequest struct {
	VideoID string               `json:"video_id"`
	Command *instruction.Command `json:"command"`
}

// EditResponse is returned by the synchronous instruct and edit endpoints.
type EditResponse struct {
	Status     string                  `json:"status"`
	OutputPath string                  `json:"output_path"`
	OutputFile string                  `json:"output_file"`
	Operations []instruction.Operation `json:"operations"`
	Command    instruction.Command     `json:"command"`
	Source     string                  `json:"source,omitempty"`
	Applied    []string                `json:"applied"`
	Duration   float64                 `json:"duration"`
	JobID      string                  `json:"job_id"`
}

type AsyncResponse struct {
	Status  string `json:"status"`
	JobID   string `json:"job_id"`
	VideoID string `json:"video_id"`
}

type EnhanceRequest struct {
	VideoID         string                 `json:"video_id"`
	EnhancementType string                 `json:"enhancement_type"`
	Settings        studio.EnhanceSettings `json:"settings"`
}

type EnhanceResponse struct {
	OutputPath      string  `json:"output_path"`
	OutputFile      string  `json:"output_file"`
	ProcessingTime  float64 `json:"processing_time"`
	EnhancementType string  `json:"enhancement_type"`
	Fallback        bool    `json:"fallback"`
	JobID           string  `json:"job_id"`
}

type VideoStatusResponse struct {
	VideoID string `json:"video_id"`
	Status  string `json:"status"`
}

type JobResponse struct {
	ID          string               `json:"id"`
	VideoID     string               `json:"video_id"`
	Kind        string               `json:"kind"`
	Status      string               `json:"status"`
	Instruction string               `json:"instruction,omitempty"`
	Command     *instruction.Command `json:"command,omitempty"`
	Source      string               `json:"source,omitempty"`
	OutputFile  string               `json:"output_file,omitempty"`
	Error       string               `json:"error,omitempty"`
	CreatedAt   string               `json:"created_at"`
	UpdatedAt   string               `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse keeps the {status, message} shape clients of the edit
// endpoints rely on.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func JobToResponse(j *studio.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		VideoID:     j.VideoID,
		Kind:        j.Kind,
		Status:      j.Status,
		Instruction: j.Instruction,
		Command:     j.Command,
		Source:      j.Source,
		OutputFile:  j.OutputFile(),
		Error:       j.Error,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
}

func OutcomeToResponse(o *studio.Outcome) EditResponse {
	ops := o.Plan.Operations
	if ops == nil {
		ops = []instruction.Operation{}
	}
	applied := o.Edit.Applied
	if applied == nil {
		applied = []string{}
	}
	return EditResponse{
		Status:     "success",
		OutputPath: o.Job.OutputPath,
		OutputFile: o.Job.OutputFile(),
		Operations: ops,
		Command:    o.Plan.Command,
		Source:     string(o.Plan.Source),
		Applied:    applied,
		Duration:   o.Edit.Duration,
		JobID:      o.Job.ID,
	}
}
