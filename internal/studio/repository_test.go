package studio

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filmyai/filmy/internal/db"
	"github.com/filmyai/filmy/internal/instruction"
)

func setupRepo(t *testing.T) (string, Repository) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.New(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return dbPath, NewRepository(database.Conn())
}

func TestRepository_CreateGet(t *testing.T) {
	_, repo := setupRepo(t)
	ctx := context.Background()

	missing, err := repo.GetJob(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	speed, end := 1.5, 2.0
	job := newJob("20250101_000000_a.mp4", KindEdit, JobStatusRunning)
	job.Command = &instruction.Command{Speed: &speed, TextOverlays: []instruction.TextOverlay{{Content: "Hi", End: &end}}}
	require.NoError(t, repo.CreateJob(ctx, job))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(job, got); diff != "" {
		t.Errorf("job mismatch (-want +got):\n%s", diff)
	}
}

func TestRepository_ListOrderAndClaim(t *testing.T) {
	_, repo := setupRepo(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		j := newJob("v.mp4", KindInstruct, JobStatusPending)
		j.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		j.UpdatedAt = j.CreatedAt
		require.NoError(t, repo.CreateJob(ctx, j))
		ids = append(ids, j.ID)
	}

	pending, err := repo.ListPendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, ids[0], pending[0].ID, "oldest first")

	recent, err := repo.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID, "newest first")

	ok, err := repo.ClaimJob(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.ClaimJob(ctx, ids[0])
	require.NoError(t, err)
	assert.False(t, ok, "a job is claimed once")

	pending, err = repo.ListPendingJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestRepository_PlanAndCompletion(t *testing.T) {
	_, repo := setupRepo(t)
	ctx := context.Background()

	job := newJob("v.mp4", KindInstruct, JobStatusRunning)
	job.Instruction = "black and white"
	require.NoError(t, repo.CreateJob(ctx, job))

	require.NoError(t, repo.UpdateJobPlan(ctx, job.ID, instruction.Command{Grayscale: true}, "llm"))
	require.NoError(t, repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "boom"))
	require.NoError(t, repo.CompleteJob(ctx, job.ID, "/out/edited_v.mp4"))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.Empty(t, got.Error, "completion clears an earlier error")
	assert.Equal(t, "llm", got.Source)
	assert.Equal(t, "edited_v.mp4", got.OutputFile())
	require.NotNil(t, got.Command)
	assert.True(t, got.Command.Grayscale)
}

func TestRepository_RestartFailsInterruptedJobs(t *testing.T) {
	dbPath, repo := setupRepo(t)
	ctx := context.Background()

	job := newJob("v.mp4", KindInstruct, JobStatusRunning)
	require.NoError(t, repo.CreateJob(ctx, job))

	reopened, err := db.New(dbPath, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := NewRepository(reopened.Conn()).GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)
	assert.False(t, got.UpdatedAt.IsZero())
}
