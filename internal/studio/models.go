package studio

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/filmyai/filmy/internal/instruction"
)

const (
	KindInstruct = "instruct"
	KindEdit     = "edit"
	KindEnhance  = "enhance"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is the durable record of one edit request.
type Job struct {
	ID          string               `json:"id"`
	VideoID     string               `json:"video_id"`
	Kind        string               `json:"kind"`
	Instruction string               `json:"instruction,omitempty"`
	Command     *instruction.Command `json:"command,omitempty"`
	Source      string               `json:"source,omitempty"`
	Status      string               `json:"status"`
	OutputPath  string               `json:"output_path,omitempty"`
	Error       string               `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// OutputFile is the download name of the job's result.
func (j *Job) OutputFile() string {
	if j.OutputPath == "" {
		return ""
	}
	return filepath.Base(j.OutputPath)
}

func (j *Job) Done() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

func NewID() string {
	return uuid.NewString()
}

func newJob(videoID, kind, status string) *Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Job{
		ID:        NewID(),
		VideoID:   videoID,
		Kind:      kind,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
