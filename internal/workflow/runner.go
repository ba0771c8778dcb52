package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

// Runner schedules in-process job runs on a bounded pool. A media item runs
// at most once at a time within the process.
type Runner struct {
	orch   *Orchestrator
	store  jobs.Store
	logger *slog.Logger
	slots  chan struct{}

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	active  map[string]struct{}
	lastErr error
	wg      sync.WaitGroup
}

// NewRunner builds a runner allowing maxConcurrent simultaneous jobs.
func NewRunner(orch *Orchestrator, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		orch:   orch,
		store:  orch.deps.Store,
		logger: orch.deps.logger("workflow-runner"),
		slots:  make(chan struct{}, maxConcurrent),
		active: make(map[string]struct{}),
	}
}

// Start begins accepting runs and resumes jobs left pending or running by a
// previous process.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("runner already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.mu.Unlock()

	unfinished, err := r.store.ListJobs(ctx, jobs.StatusPending, jobs.StatusRunning)
	if err != nil {
		return services.Wrap(services.ErrPersistence, "", "resume jobs", "", err)
	}
	for _, job := range unfinished {
		if r.submit(JobRequest{MediaID: job.MediaID, SourceURL: job.SourceURL}) {
			r.logger.Info("resuming job",
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldMediaID, job.MediaID),
				logging.String("status", string(job.Status)),
				logging.String(logging.FieldEventType, "job_resume"),
			)
		}
	}
	return nil
}

// Stop cancels in-flight runs and waits for them to return. Interrupted
// tasks stay running and are re-executed on the next start.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// Wait blocks until every submitted run has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Ensure creates the job if needed and schedules a run unless it is already
// completed or active. It returns the job as persisted before the run.
func (r *Runner) Ensure(ctx context.Context, req JobRequest) (*jobs.Job, error) {
	job, _, err := r.orch.EnsureJob(ctx, req)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusCompleted {
		r.submit(JobRequest{MediaID: job.MediaID, SourceURL: job.SourceURL})
	}
	return job, nil
}

// Retry resets a failed job's failed tasks and schedules a run. Jobs that
// are not failed are returned unchanged.
func (r *Runner) Retry(ctx context.Context, mediaID string) (*jobs.Job, error) {
	job, err := r.store.FindJobByMediaID(ctx, mediaID)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "", "find job", "", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "retry job", "no job for media "+mediaID, nil)
	}
	if job.Status != jobs.StatusFailed {
		return job, nil
	}
	if r.isActive(job.MediaID) {
		return job, nil
	}
	if _, err := r.store.ResetFailedTasks(ctx, job.ID); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "", "reset failed tasks", "", err)
	}
	r.submit(JobRequest{MediaID: job.MediaID, SourceURL: job.SourceURL})
	return r.store.GetJob(ctx, job.ID)
}

// Active lists media ids with a run in progress.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LastError returns the most recent run failure.
func (r *Runner) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Runner) isActive(mediaID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[mediaID]
	return ok
}

// submit schedules a run and reports whether it was accepted.
func (r *Runner) submit(req JobRequest) bool {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		r.logger.Warn("runner not started; run not scheduled", logging.String(logging.FieldMediaID, req.MediaID))
		return false
	}
	if _, ok := r.active[req.MediaID]; ok {
		r.mu.Unlock()
		r.logger.Debug("job already active", logging.String(logging.FieldMediaID, req.MediaID))
		return false
	}
	r.active[req.MediaID] = struct{}{}
	ctx := r.ctx
	r.wg.Add(1)
	r.mu.Unlock()

	go r.runJob(ctx, req)
	return true
}

func (r *Runner) runJob(ctx context.Context, req JobRequest) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.active, req.MediaID)
		r.mu.Unlock()
	}()

	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-r.slots }()

	job, err := r.orch.Run(ctx, req)
	if err == nil || ctx.Err() != nil {
		return
	}
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()

	attrs := []logging.Attr{logging.String(logging.FieldMediaID, req.MediaID)}
	if job != nil {
		attrs = append(attrs, logging.String(logging.FieldJobID, job.ID), logging.String("status", string(job.Status)))
	}
	attrs = append(attrs, logging.ErrorDetails(err)...)
	logging.WarnWithContext(r.logger, "job run ended with failure", "job_failed", attrs...)
}
