package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"mediaflow/internal/jobs"
)

// touchJob wraps a single-row task UPDATE so the owning job's updated_at
// follows the task. The UPDATE must end with RETURNING job_id, updated_at.
func touchJob(update string) string {
	return `WITH t AS (` + update + `)
UPDATE jobs SET updated_at = t.updated_at FROM t WHERE jobs.id = t.job_id`
}

// ApplyTask applies one command to a single task row. Guarded no-ops return
// applied=false without error.
func (s *Store) ApplyTask(ctx context.Context, jobID, taskID string, cmd jobs.TaskCommand) (bool, error) {
	if err := cmd.Validate(); err != nil {
		return false, fmt.Errorf("task %s: %w", taskID, err)
	}
	now := time.Now().UTC()
	pending, running, completed := string(jobs.StatusPending), string(jobs.StatusRunning), string(jobs.StatusCompleted)

	var (
		update string
		args   []any
	)
	switch cmd.Kind {
	case jobs.CommandSetStatus:
		switch cmd.Status {
		case jobs.StatusRunning:
			update = `UPDATE tasks SET status = $1, progress = 0, error_message = NULL,
                      start_time = $2, end_time = NULL, updated_at = $2
                      WHERE job_id = $3 AND task_id = $4
                        AND (status = $5 OR (status = $1 AND $6 AND (start_time IS NULL OR start_time <= $7)))
                      RETURNING job_id, updated_at`
			args = []any{running, now, jobID, taskID, pending, !cmd.StaleBefore.IsZero(), cmd.StaleBefore.UTC()}
		case jobs.StatusCompleted:
			update = `UPDATE tasks SET status = $1, progress = 100, error_message = NULL,
                      end_time = COALESCE(end_time, $2), updated_at = $2
                      WHERE job_id = $3 AND task_id = $4 AND status = $5
                      RETURNING job_id, updated_at`
			args = []any{completed, now, jobID, taskID, running}
		case jobs.StatusPending:
			update = `UPDATE tasks SET status = $1, progress = 0, error_message = NULL,
                      start_time = NULL, end_time = NULL, dispatched_at = NULL, output_json = NULL, updated_at = $2
                      WHERE job_id = $3 AND task_id = $4 AND status <> $5
                      RETURNING job_id, updated_at`
			args = []any{pending, now, jobID, taskID, completed}
		}
	case jobs.CommandSetProgress:
		percent := min(cmd.Progress, 99)
		update = `UPDATE tasks SET progress = GREATEST(progress, $1), updated_at = $2
                  WHERE job_id = $3 AND task_id = $4 AND status = $5 AND progress < $1
                  RETURNING job_id, updated_at`
		args = []any{percent, now, jobID, taskID, running}
	case jobs.CommandSetOutput:
		encoded, err := jobs.MarshalOutput(cmd.Output)
		if err != nil {
			return false, err
		}
		update = `UPDATE tasks SET output_json = $1, updated_at = $2
                  WHERE job_id = $3 AND task_id = $4 AND status = $5
                  RETURNING job_id, updated_at`
		args = []any{encoded, now, jobID, taskID, running}
	case jobs.CommandReleaseDispatch:
		update = `UPDATE tasks SET dispatched_at = NULL, updated_at = $1
                  WHERE job_id = $2 AND task_id = $3 AND status = $4 AND dispatched_at IS NOT NULL
                  RETURNING job_id, updated_at`
		args = []any{now, jobID, taskID, pending}
	case jobs.CommandFail:
		update = `UPDATE tasks SET status = $1, error_message = $2, end_time = COALESCE(end_time, $3), updated_at = $3
                  WHERE job_id = $4 AND task_id = $5 AND status IN ($6, $7)
                  RETURNING job_id, updated_at`
		args = []any{string(jobs.StatusFailed), cmd.Message, now, jobID, taskID, pending, running}
	}

	tag, err := s.pool.Exec(ctx, touchJob(update), args...)
	if err != nil {
		return false, fmt.Errorf("apply %s to task %s: %w", cmd.Kind, taskID, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM tasks WHERE job_id = $1 AND task_id = $2)", jobID, taskID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check task: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("%w: %s/%s", jobs.ErrTaskNotFound, jobID, taskID)
	}
	return false, nil
}

// ResetFailedTasks returns failed tasks to pending and a failed job to
// pending in one transaction.
func (s *Store) ResetFailedTasks(ctx context.Context, jobID string) (int, error) {
	var reset int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx,
			`UPDATE tasks SET status = $1, progress = 0, error_message = NULL,
             start_time = NULL, end_time = NULL, dispatched_at = NULL, output_json = NULL, updated_at = $2
             WHERE job_id = $3 AND status = $4`,
			string(jobs.StatusPending), now, jobID, string(jobs.StatusFailed),
		)
		if err != nil {
			return fmt.Errorf("reset failed tasks: %w", err)
		}
		reset = tag.RowsAffected()
		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET status = $1, error_message = NULL, updated_at = $2
             WHERE id = $3 AND status = $4`,
			string(jobs.StatusPending), now, jobID, string(jobs.StatusFailed),
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

// ClaimDispatch marks a pending task as dispatched for exactly one caller.
func (s *Store) ClaimDispatch(ctx context.Context, jobID, taskID string) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET dispatched_at = $1, updated_at = $1
         WHERE job_id = $2 AND task_id = $3 AND status = $4 AND dispatched_at IS NULL`,
		now, jobID, taskID, string(jobs.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("claim dispatch: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// StaleRunningTasks lists running tasks whose start time is before the cutoff.
func (s *Store) StaleRunningTasks(ctx context.Context, startedBefore time.Time) ([]jobs.Task, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE status = $1 AND start_time < $2 ORDER BY start_time",
		string(jobs.StatusRunning), startedBefore.UTC(),
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
	rows, err := s.pool.Query(ctx,
		"SELECT "+taskColumns+` FROM tasks
         WHERE status = $1 AND dispatched_at < $2
           AND job_id IN (SELECT id FROM jobs WHERE status IN ($1, $3))
         ORDER BY dispatched_at`,
		string(jobs.StatusPending), claimedBefore.UTC(), string(jobs.StatusRunning),
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
