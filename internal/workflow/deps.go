package workflow

import (
	"errors"
	"log/slog"

	"mediaflow/internal/bus"
	"mediaflow/internal/config"
	"mediaflow/internal/guard"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/metrics"
	"mediaflow/internal/stage"
)

// Deps is the collaborator bundle shared by the orchestrator, dispatcher,
// worker pools, and reaper. Bus and Locker are only needed in distributed
// mode; Metrics may be nil.
type Deps struct {
	Config   *config.Config
	Store    jobs.Store
	Registry *stage.Registry
	Bus      bus.Bus
	Locker   guard.Locker
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

func (d Deps) validate(distributed bool) error {
	switch {
	case d.Config == nil:
		return errors.New("workflow: config is required")
	case d.Store == nil:
		return errors.New("workflow: store is required")
	case d.Registry == nil:
		return errors.New("workflow: stage registry is required")
	}
	if distributed {
		if d.Bus == nil {
			return errors.New("workflow: message bus is required in distributed mode")
		}
		if d.Locker == nil {
			return errors.New("workflow: dispatch locker is required in distributed mode")
		}
	}
	return nil
}

func (d Deps) logger(component string) *slog.Logger {
	base := d.Logger
	if base == nil {
		base = logging.NewNop()
	}
	return logging.NewComponentLogger(base, component)
}
