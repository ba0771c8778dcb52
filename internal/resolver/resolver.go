// Package resolver orders configured stages so every precedence constraint
// holds while unconstrained stages keep their configured relative order.
package resolver

import (
	"fmt"

	"mediaflow/internal/jobs"
	"mediaflow/internal/services"
)

// Constraint requires Before to run earlier than After.
type Constraint struct {
	Before jobs.Stage
	After  jobs.Stage
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s before %s", c.Before, c.After)
}

// DefaultConstraints returns the fixed precedence rules of the pipeline.
func DefaultConstraints() []Constraint {
	return []Constraint{
		{Before: jobs.StageSubtitle, After: jobs.StageEnrichment},
		{Before: jobs.StageEnrichment, After: jobs.StageTranscode},
	}
}

// Resolve repairs the stage order. Each pass looks for a violated constraint
// and moves After to just behind Before; it stops on a clean pass. Constraints
// naming stages absent from the list are ignored. A cyclic constraint set is
// detected by capping passes at len(stages)^2 and reported as a configuration
// error.
func Resolve(stages []jobs.Stage, constraints []Constraint) ([]jobs.Stage, error) {
	order := make([]jobs.Stage, len(stages))
	copy(order, stages)

	seen := make(map[jobs.Stage]struct{}, len(order))
	for _, stage := range order {
		if _, dup := seen[stage]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "resolver", "resolve stages",
				fmt.Sprintf("stage %q listed more than once", stage), nil)
		}
		seen[stage] = struct{}{}
	}

	limit := len(order) * len(order)
	for pass := 0; ; pass++ {
		violated, ok := firstViolation(order, constraints)
		if !ok {
			return order, nil
		}
		if pass >= limit {
			return nil, services.WithHint(
				services.Wrap(services.ErrConfiguration, "resolver", "resolve stages",
					fmt.Sprintf("stage constraints do not converge (%s)", violated), nil),
				"remove the cyclic stage dependency",
			)
		}
		order = moveAfter(order, violated.After, violated.Before)
	}
}

// Validate reports whether order satisfies every applicable constraint.
func Validate(order []jobs.Stage, constraints []Constraint) error {
	if c, violated := firstViolation(order, constraints); violated {
		return fmt.Errorf("stage order violates %s", c)
	}
	return nil
}

func firstViolation(order []jobs.Stage, constraints []Constraint) (Constraint, bool) {
	for _, c := range constraints {
		before := indexOf(order, c.Before)
		after := indexOf(order, c.After)
		if before < 0 || after < 0 {
			continue
		}
		if after <= before {
			return c, true
		}
	}
	return Constraint{}, false
}

// moveAfter removes stage and reinserts it immediately after anchor.
func moveAfter(order []jobs.Stage, stage, anchor jobs.Stage) []jobs.Stage {
	from := indexOf(order, stage)
	out := make([]jobs.Stage, 0, len(order))
	out = append(out, order[:from]...)
	out = append(out, order[from+1:]...)
	to := indexOf(out, anchor) + 1
	out = append(out[:to], append([]jobs.Stage{stage}, out[to:]...)...)
	return out
}

func indexOf(order []jobs.Stage, stage jobs.Stage) int {
	for i, s := range order {
		if s == stage {
			return i
		}
	}
	return -1
}
