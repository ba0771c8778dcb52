package preflight

import (
	"context"
	"slices"

	"mediaflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Probe is a named reachability check against a backend such as the store,
// bus or dispatch guard.
type Probe struct {
	Name string
	Ping func(ctx context.Context) error
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, probes ...Probe) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Optional: status.Optional, Detail: status.Command}
		if !status.Available {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}
	if NeedsLLM(cfg) {
		results = append(results, CheckLLM(ctx, "LLM", cfg.GetLLM()))
	}
	for _, probe := range probes {
		results = append(results, CheckReachable(ctx, probe))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

// NeedsLLM reports whether an enabled stage calls the LLM: enrichment always,
// subtitle only when translating.
func NeedsLLM(cfg *config.Config) bool {
	if stageEnabled(cfg, "enrichment") {
		return true
	}
	return stageEnabled(cfg, "subtitle") && len(cfg.Subtitle.Languages) > 0
}

func stageEnabled(cfg *config.Config, stage string) bool {
	return slices.Contains(cfg.Pipeline.Stages, stage)
}
