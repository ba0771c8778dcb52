package workflow

import (
	"context"

	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Mode        string
	ActiveJobs  []string
	LastError   string
	JobStats    map[jobs.Status]int
	StageHealth []stage.Health
}

// Status reports job counts by status and the health of every registered
// stage worker. runner may be nil in distributed mode.
func Status(ctx context.Context, deps Deps, runner *Runner) StatusSummary {
	summary := StatusSummary{
		Mode:        deps.Config.Pipeline.Mode,
		JobStats:    make(map[jobs.Status]int),
	}

	all, err := deps.Store.ListJobs(ctx)
	if err != nil {
		deps.logger("workflow-status").Warn("failed to read job stats", logging.Error(err))
	}
	for _, job := range all {
		summary.JobStats[job.Status]++
	}

	for _, s := range deps.Registry.Stages() {
		worker, ok := deps.Registry.Worker(s)
		if !ok {
			continue
		}
		summary.StageHealth = append(summary.StageHealth, worker.HealthCheck(ctx))
	}

	if runner != nil {
		summary.ActiveJobs = runner.Active()
		if lastErr := runner.LastError(); lastErr != nil {
			summary.LastError = lastErr.Error()
		}
	}
	return summary
}
