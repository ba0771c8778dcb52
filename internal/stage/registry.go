package stage

import (
	"sort"

	"mediaflow/internal/jobs"
	"mediaflow/internal/resolver"
	"mediaflow/internal/services"
)

// Dependency declares that a stage consumes another stage's output.
type Dependency struct {
	Stage    jobs.Stage
	Required bool
}

// Requires declares a mandatory upstream output.
func Requires(stage jobs.Stage) Dependency {
	return Dependency{Stage: stage, Required: true}
}

// Uses declares an optional upstream output.
func Uses(stage jobs.Stage) Dependency {
	return Dependency{Stage: stage}
}

type entry struct {
	worker Worker
	deps   []Dependency
}

// Registry maps each stage to its worker and declared dependencies.
type Registry struct {
	entries map[jobs.Stage]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[jobs.Stage]entry)}
}

// Register binds a worker to a stage. Registering a stage twice replaces it.
func (r *Registry) Register(stage jobs.Stage, worker Worker, deps ...Dependency) {
	r.entries[stage] = entry{worker: worker, deps: append([]Dependency(nil), deps...)}
}

// Worker returns the worker registered for stage.
func (r *Registry) Worker(stage jobs.Stage) (Worker, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.entries[stage]
	if !ok || e.worker == nil {
		return nil, false
	}
	return e.worker, true
}

// Dependencies returns the declared dependencies of stage.
func (r *Registry) Dependencies(stage jobs.Stage) []Dependency {
	if r == nil {
		return nil
	}
	return r.entries[stage].deps
}

// Stages lists registered stages in canonical order.
func (r *Registry) Stages() []jobs.Stage {
	var stages []jobs.Stage
	for _, stage := range jobs.AllStages() {
		if _, ok := r.entries[stage]; ok {
			stages = append(stages, stage)
		}
	}
	return stages
}

// Constraints merges the fixed pipeline constraints with those implied by
// declared dependencies.
func (r *Registry) Constraints() []resolver.Constraint {
	constraints := resolver.DefaultConstraints()
	seen := make(map[resolver.Constraint]struct{}, len(constraints))
	for _, c := range constraints {
		seen[c] = struct{}{}
	}
	stages := make([]jobs.Stage, 0, len(r.entries))
	for stage := range r.entries {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })
	for _, stage := range stages {
		for _, dep := range r.entries[stage].deps {
			c := resolver.Constraint{Before: dep.Stage, After: stage}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			constraints = append(constraints, c)
		}
	}
	return constraints
}

// Plan checks that every stage has a worker and returns the execution order.
// A required dependency missing from stages is not an error here; the task
// fails with a dependency error when it runs.
func (r *Registry) Plan(stages []jobs.Stage) ([]jobs.Stage, error) {
	for _, stage := range stages {
		if _, ok := r.Worker(stage); !ok {
			return nil, services.Wrap(services.ErrConfiguration, string(stage), "plan stages",
				"no worker registered", nil)
		}
	}
	return resolver.Resolve(stages, r.Constraints())
}
