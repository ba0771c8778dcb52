package workflow

import (
	"fmt"

	"mediaflow/internal/jobs"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
)

// resolveInputs collects the outputs a stage declared it consumes. Each is
// taken from this run's memory cache first and otherwise from the persisted
// output of the completed upstream task. A missing required input is a
// dependency error; a missing optional input is left out.
func resolveInputs(registry *stage.Registry, job *jobs.Job, target jobs.Stage, cache map[jobs.Stage]*jobs.Output) (stage.Inputs, error) {
	deps := registry.Dependencies(target)
	if len(deps) == 0 {
		return nil, nil
	}
	inputs := make(stage.Inputs, len(deps))
	for _, dep := range deps {
		if output, ok := cache[dep.Stage]; ok && output != nil {
			inputs[dep.Stage] = output
			continue
		}
		if output := persistedOutput(job, dep.Stage); output != nil {
			inputs[dep.Stage] = output
			continue
		}
		if dep.Required {
			return nil, services.Wrap(services.ErrDependencyUnavailable, string(target), "resolve inputs",
				fmt.Sprintf("required %s output is not available", dep.Stage), nil)
		}
	}
	return inputs, nil
}

func persistedOutput(job *jobs.Job, upstream jobs.Stage) *jobs.Output {
	if job == nil {
		return nil
	}
	task, ok := job.TaskByStage(upstream)
	if !ok || task.Status != jobs.StatusCompleted || task.Output == nil {
		return nil
	}
	if task.Output.Validate() != nil {
		return nil
	}
	return task.Output
}
