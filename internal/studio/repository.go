package studio

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/filmyai/filmy/internal/instruction"
)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	ClaimJob(ctx context.Context, id string) (bool, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobPlan(ctx context.Context, id string, cmd instruction.Command, source string) error
	CompleteJob(ctx context.Context, id, outputPath string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, video_id, kind, instruction, command, parser_source, status, output_path, error, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	cmd, err := encodeCommand(j.Command)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO edit_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.VideoID, j.Kind, nullString(j.Instruction), cmd, nullString(j.Source), j.Status,
		nullString(j.OutputPath), nullString(j.Error), formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM edit_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM edit_jobs ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM edit_jobs WHERE status = ? ORDER BY created_at ASC, id
	`, JobStatusPending)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// ClaimJob moves a pending job to running. It reports false when another
// worker got there first.
func (r *SQLiteRepository) ClaimJob(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE edit_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		JobStatusRunning, formatTime(time.Now()), id, JobStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE edit_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?",
		status, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) UpdateJobPlan(ctx context.Context, id string, cmd instruction.Command, source string) error {
	encoded, err := encodeCommand(&cmd)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		"UPDATE edit_jobs SET command = ?, parser_source = ?, updated_at = ? WHERE id = ?",
		encoded, nullString(source), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) CompleteJob(ctx context.Context, id, outputPath string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE edit_jobs SET status = ?, output_path = ?, error = NULL, updated_at = ? WHERE id = ?",
		JobStatusCompleted, outputPath, formatTime(time.Now()), id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var inst, cmd, source, output, errMsg sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&j.ID, &j.VideoID, &j.Kind, &inst, &cmd, &source, &j.Status, &output, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.Instruction = inst.String
	j.Source = source.String
	j.OutputPath = output.String
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	if cmd.Valid && cmd.String != "" {
		var c instruction.Command
		if err := json.Unmarshal([]byte(cmd.String), &c); err != nil {
			return nil, fmt.Errorf("decode command of job %s: %w", j.ID, err)
		}
		j.Command = &c
	}
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func encodeCommand(cmd *instruction.Command) (sql.NullString, error) {
	if cmd == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode command: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime also accepts sqlite's datetime('now') form.
func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
