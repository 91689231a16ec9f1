package studio

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/filmyai/filmy/internal/status"
)

func startRunner(t *testing.T, env *testEnv) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	runner := NewRunner(env.svc, env.repo, testLogger())
	runner.pollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Start(ctx)
	}()
	return cancel, done
}

func waitJob(t *testing.T, env *testEnv, id string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		j, err := env.svc.Job(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Done()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestRunner_ProcessesSubmittedJob(t *testing.T) {
	env := setupService(t, 2)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	id := env.upload(t, "clip.mp4")

	job, err := env.svc.Submit(ctx, id, "make it black and white")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, status.Processing, env.status(t, id))

	cancel, done := startRunner(t, env)
	defer func() {
		cancel()
		<-done
	}()

	finished := waitJob(t, env, job.ID)
	assert.Equal(t, JobStatusCompleted, finished.Status)
	assert.Equal(t, "rule-based", finished.Source)
	require.NotNil(t, finished.Command)
	assert.True(t, finished.Command.Grayscale)
	assert.Equal(t, status.Completed, env.status(t, id))
	assert.Equal(t, status.Completed, env.status(t, finished.OutputFile()))

	second, err := env.svc.Submit(ctx, id, "speed it up")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, waitJob(t, env, second.ID).Status, "wakes without waiting for the poll interval")
}

func TestRunner_FailsJobWhoseVideoVanished(t *testing.T) {
	env := setupService(t, 1)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	id := env.upload(t, "clip.mp4")

	job, err := env.svc.Submit(ctx, id, "denoise")
	require.NoError(t, err)
	path, err := env.files.SourcePath(id)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	cancel, done := startRunner(t, env)
	defer func() {
		cancel()
		<-done
	}()

	finished := waitJob(t, env, job.ID)
	assert.Equal(t, JobStatusFailed, finished.Status)
	assert.Contains(t, finished.Error, "video not found")
	assert.Equal(t, status.Failed, env.status(t, id))
}

func TestRunner_StopWaitsForInflightJobs(t *testing.T) {
	env := setupService(t, 1)
	env.editor.hold = make(chan struct{})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	id := env.upload(t, "clip.mp4")

	job, err := env.svc.Submit(ctx, id, "grayscale")
	require.NoError(t, err)

	cancel, done := startRunner(t, env)
	require.Eventually(t, func() bool {
		env.editor.mu.Lock()
		defer env.editor.mu.Unlock()
		return len(env.editor.commands) == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}

	stored, err := env.svc.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
}
