package studio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Runner executes queued jobs in the background. Each claimed job runs in
// its own goroutine; the service's edit slots bound how many render at once.
type Runner struct {
	service      *Service
	repo         Repository
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	inflight     sync.WaitGroup
}

func NewRunner(service *Service, repo Repository, logger *slog.Logger) *Runner {
	return &Runner{
		service:      service,
		repo:         repo,
		logger:       logger,
		pollInterval: 5 * time.Second,
	}
}

// Start blocks until ctx is done and every started job has returned.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer r.running.Store(false)

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.inflight.Wait()
			return
		case <-ticker.C:
			r.dispatch(ctx)
		case <-r.service.pending:
			r.dispatch(ctx)
		}
	}
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) dispatch(ctx context.Context) {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("failed to list pending jobs", "error", err)
		}
		return
	}

	for _, job := range jobs {
		ok, err := r.repo.ClaimJob(ctx, job.ID)
		if err != nil {
			r.logger.Error("failed to claim job", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		job.Status = JobStatusRunning

		r.logger.Info("processing job", "job_id", job.ID, "kind", job.Kind)
		r.inflight.Add(1)
		go func(job *Job) {
			defer r.inflight.Done()
			if err := r.service.Execute(ctx, job); err == nil {
				r.logger.Info("job completed", "job_id", job.ID, "output", job.OutputFile())
			}
		}(job)
	}
}
