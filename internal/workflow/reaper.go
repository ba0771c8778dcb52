package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/services"
)

// ClaimReleaser returns stale dispatch claims to the queue. The distributed
// Dispatcher implements it.
type ClaimReleaser interface {
	ReleaseStaleClaims(ctx context.Context, claimedBefore func(jobs.Stage) time.Time) (int, error)
}

// Reaper fails tasks that have been running longer than their stage timeout
// plus a grace period, and fails their jobs. It covers workers that crashed
// or hung without reporting back. With a ClaimReleaser it also re-dispatches
// tasks whose dispatch was claimed but never picked up.
type Reaper struct {
	claims   ClaimReleaser
	cfg      *config.Config
	store    jobs.Store
	metrics  *metrics.Recorder
	writer   *writer
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

// NewReaper creates a reaper using the configured timeouts and interval.
func NewReaper(deps Deps) *Reaper {
	logger := deps.logger("workflow-reaper")
	return &Reaper{
		cfg:      deps.Config,
		store:    deps.Store,
		metrics:  deps.Metrics,
		writer:   newWriter(deps.Store, deps.Metrics, logger),
		logger:   logger,
		interval: deps.Config.ReaperInterval(),
		now:      time.Now,
	}
}

// ReapOnce releases stale dispatch claims, then fails every overdue running
// task and returns how many it failed.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	grace := r.cfg.TimeoutGrace()
	shortest := time.Duration(0)
	for _, s := range jobs.AllStages() {
		if t := r.cfg.StageTimeout(string(s)); t > 0 && (shortest == 0 || t < shortest) {
			shortest = t
		}
	}
	if shortest == 0 {
		return 0, nil
	}

	now := r.now()
	var errs []error
	if r.claims != nil {
		released, err := r.claims.ReleaseStaleClaims(ctx, func(s jobs.Stage) time.Time {
			if timeout := r.cfg.StageTimeout(string(s)); timeout > 0 {
				return now.Add(-(timeout + grace))
			}
			return time.Time{}
		})
		if err != nil {
			errs = append(errs, err)
		}
		if released > 0 {
			r.logger.Info("re-dispatched unconsumed tasks", logging.Int("count", released))
		}
	}

	candidates, err := r.store.StaleRunningTasks(ctx, now.Add(-(shortest + grace)))
	if err != nil {
		return 0, errors.Join(append(errs, err)...)
	}

	reaped := 0
	for _, task := range candidates {
		timeout := r.cfg.StageTimeout(string(task.Stage))
		if timeout <= 0 || task.StartTime == nil || !task.StartTime.Before(now.Add(-(timeout + grace))) {
			continue
		}
		timeoutErr := services.Wrap(services.ErrTimeout, string(task.Stage), "reap",
			fmt.Sprintf("no result after %s", timeout), nil)
		message := services.Message(timeoutErr)
		applied, err := r.writer.applyTask(ctx, task.JobID, task.TaskID, task.Stage, jobs.Fail(message))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !applied {
			continue
		}
		if err := r.writer.failJob(ctx, task.JobID, jobFailureMessage(task.TaskID, message)); err != nil {
			errs = append(errs, err)
		}
		reaped++
		r.metrics.TaskReaped(string(task.Stage))
		r.metrics.TaskFinished(string(task.Stage), string(jobs.StatusFailed), services.Kind(timeoutErr), now.Sub(*task.StartTime))
		logging.WarnWithContext(r.logger, "running task exceeded its timeout", "task_reaped",
			logging.String(logging.FieldJobID, task.JobID),
			logging.String(logging.FieldTaskID, task.TaskID),
			logging.String(logging.FieldStage, string(task.Stage)),
			logging.Duration("timeout", timeout),
		)
	}
	return reaped, errors.Join(errs...)
}

// Run reaps on every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := r.ReapOnce(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					r.logger.Info("daemon shutting down, reaper scan cancelled")
					return
				}
				r.logger.Warn("reaper scan failed; overdue tasks may remain running",
					logging.Error(err),
					logging.String(logging.FieldEventType, "reaper_failed"),
					logging.String(logging.FieldErrorHint, "check store connectivity"),
				)
				continue
			}
			if reaped > 0 {
				r.logger.Info("reaped overdue tasks", logging.Int("count", reaped))
			}
		}
	}
}

// SetClaimReleaser enables re-dispatch of stale claims.
func (r *Reaper) SetClaimReleaser(claims ClaimReleaser) {
	r.claims = claims
}

// SetClock overrides the reaper's clock.
func (r *Reaper) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}
