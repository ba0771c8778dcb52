package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mediaflow/internal/jobs"
)

// ApplyTask applies one command to a single task row. Guarded no-ops (for
// example progress on a completed task) return applied=false without error.
func (s *Store) ApplyTask(ctx context.Context, jobID, taskID string, cmd jobs.TaskCommand) (bool, error) {
	if err := cmd.Validate(); err != nil {
		return false, fmt.Errorf("task %s: %w", taskID, err)
	}
	now := formatTime(time.Now())

	var (
		query string
		args  []any
	)
	switch cmd.Kind {
	case jobs.CommandSetStatus:
		switch cmd.Status {
		case jobs.StatusRunning:
			query = `UPDATE tasks SET status = ?, progress = 0, error_message = NULL,
                     start_time = ?, end_time = NULL, updated_at = ?
                     WHERE job_id = ? AND task_id = ?
                       AND (status = ? OR (status = ? AND ? AND (start_time IS NULL OR start_time <= ?)))`
			args = []any{jobs.StatusRunning, now, now, jobID, taskID, jobs.StatusPending,
				jobs.StatusRunning, !cmd.StaleBefore.IsZero(), formatTime(cmd.StaleBefore)}
		case jobs.StatusCompleted:
			query = `UPDATE tasks SET status = ?, progress = 100, error_message = NULL,
                     end_time = COALESCE(end_time, ?), updated_at = ?
                     WHERE job_id = ? AND task_id = ? AND status = ?`
			args = []any{jobs.StatusCompleted, now, now, jobID, taskID, jobs.StatusRunning}
		case jobs.StatusPending:
			query = `UPDATE tasks SET status = ?, progress = 0, error_message = NULL,
                     start_time = NULL, end_time = NULL, dispatched_at = NULL, output_json = NULL, updated_at = ?
                     WHERE job_id = ? AND task_id = ? AND status <> ?`
			args = []any{jobs.StatusPending, now, jobID, taskID, jobs.StatusCompleted}
		}
	case jobs.CommandSetProgress:
		percent := min(cmd.Progress, 99)
		query = `UPDATE tasks SET progress = MAX(progress, ?), updated_at = ?
                 WHERE job_id = ? AND task_id = ? AND status = ? AND progress < ?`
		args = []any{percent, now, jobID, taskID, jobs.StatusRunning, percent}
	case jobs.CommandSetOutput:
		encoded, err := jobs.MarshalOutput(cmd.Output)
		if err != nil {
			return false, err
		}
		query = `UPDATE tasks SET output_json = ?, updated_at = ?
                 WHERE job_id = ? AND task_id = ? AND status = ?`
		args = []any{encoded, now, jobID, taskID, jobs.StatusRunning}
	case jobs.CommandReleaseDispatch:
		query = `UPDATE tasks SET dispatched_at = NULL, updated_at = ?
                 WHERE job_id = ? AND task_id = ? AND status = ? AND dispatched_at IS NOT NULL`
		args = []any{now, jobID, taskID, jobs.StatusPending}
	case jobs.CommandFail:
		query = `UPDATE tasks SET status = ?, error_message = ?, end_time = COALESCE(end_time, ?), updated_at = ?
                 WHERE job_id = ? AND task_id = ? AND status IN (?, ?)`
		args = []any{jobs.StatusFailed, cmd.Message, now, now, jobID, taskID, jobs.StatusPending, jobs.StatusRunning}
	}

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("apply %s to task %s: %w", cmd.Kind, taskID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	return false, s.taskExists(ctx, jobID, taskID)
}

func (s *Store) taskExists(ctx context.Context, jobID, taskID string) error {
	var count int
	if err := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT COUNT(1) FROM tasks WHERE job_id = ? AND task_id = ?", jobID, taskID,
	).Scan(&count); err != nil {
		return fmt.Errorf("check task: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s/%s", jobs.ErrTaskNotFound, jobID, taskID)
	}
	return nil
}

// ResetFailedTasks returns failed tasks to pending and a failed job to
// pending in one transaction. Completed tasks are untouched.
func (s *Store) ResetFailedTasks(ctx context.Context, jobID string) (int, error) {
	ctx = ensureContext(ctx)
	var reset int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now())
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, progress = 0, error_message = NULL,
             start_time = NULL, end_time = NULL, dispatched_at = NULL, output_json = NULL, updated_at = ?
             WHERE job_id = ? AND status = ?`,
			jobs.StatusPending, now, jobID, jobs.StatusFailed,
		)
		if err != nil {
			return fmt.Errorf("reset failed tasks: %w", err)
		}
		if reset, err = res.RowsAffected(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error_message = NULL, updated_at = ?
             WHERE id = ? AND status = ?`,
			jobs.StatusPending, now, jobID, jobs.StatusFailed,
		); err != nil {
			return fmt.Errorf("reset failed job: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(reset), nil
}

// ClaimDispatch marks a pending task as dispatched. It succeeds for exactly
// one caller per task until a retry clears the mark.
func (s *Store) ClaimDispatch(ctx context.Context, jobID, taskID string) (bool, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`UPDATE tasks SET dispatched_at = ?, updated_at = ?
         WHERE job_id = ? AND task_id = ? AND status = ? AND dispatched_at IS NULL`,
		now, now, jobID, taskID, jobs.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim dispatch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// StaleRunningTasks lists running tasks whose start time is before the cutoff.
func (s *Store) StaleRunningTasks(ctx context.Context, startedBefore time.Time) ([]jobs.Task, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE status = ? AND start_time IS NOT NULL AND start_time < ? ORDER BY start_time",
		jobs.StatusRunning, formatTime(startedBefore),
	)
	if err != nil {
		return nil, fmt.Errorf("query stale tasks: %w", err)
	}
	defer rows.Close()

	var tasks []jobs.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ClaimedPendingTasks lists pending tasks of unfinished jobs whose dispatch
// claim is older than the cutoff.
func (s *Store) ClaimedPendingTasks(ctx context.Context, claimedBefore time.Time) ([]jobs.Task, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+` FROM tasks
         WHERE status = ? AND dispatched_at IS NOT NULL AND dispatched_at < ?
           AND job_id IN (SELECT id FROM jobs WHERE status IN (?, ?))
         ORDER BY dispatched_at`,
		jobs.StatusPending, formatTime(claimedBefore), jobs.StatusPending, jobs.StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("query claimed tasks: %w", err)
	}
	defer rows.Close()

	var tasks []jobs.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
