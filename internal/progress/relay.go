package progress

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"mediaflow/internal/logging"
)

// Sink receives the aggregated task progress.
type Sink func(ctx context.Context, percent int) error

// Relay maps per-phase progress onto a task's single 0-100 value. It never
// forwards a value lower than or equal to one already forwarded.
type Relay struct {
	ctx     context.Context
	phases  Phases
	offsets map[string]float64
	sink    Sink
	logger  *slog.Logger
	sampler *logging.ProgressSampler

	mu   sync.Mutex
	last int
}

// NewRelay builds a relay over phases. An empty layout becomes a single
// implicit phase.
func NewRelay(ctx context.Context, phases Phases, sink Sink, logger *slog.Logger) (*Relay, error) {
	if len(phases) == 0 {
		phases = Single("")
	}
	if err := phases.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	offsets := make(map[string]float64, len(phases))
	acc := 0.0
	for _, phase := range phases {
		offsets[phase.Name] = acc
		acc += phase.Weight * 100
	}
	return &Relay{
		ctx:     ctx,
		phases:  phases,
		offsets: offsets,
		sink:    sink,
		logger:  logger,
		sampler: logging.NewProgressSampler(10),
		last:    -1,
	}, nil
}

// Report records percent (0-100) for the named phase. With a single phase
// the name may be empty.
func (r *Relay) Report(phase string, percent float64) {
	if r == nil {
		return
	}
	weight, offset, ok := r.lookup(phase)
	if !ok {
		r.logger.Debug("ignoring progress for unknown phase", logging.String(logging.FieldPhase, phase))
		return
	}
	if math.IsNaN(percent) {
		return
	}
	value := Compute(offset, weight, percent)

	r.mu.Lock()
	defer r.mu.Unlock()
	if value <= r.last {
		return
	}
	r.last = value

	if r.sampler.ShouldLog(float64(value), phase) {
		r.logger.Debug("task progress",
			logging.String(logging.FieldPhase, phase),
			logging.Int(logging.FieldProgress, value),
		)
	}
	if r.sink == nil {
		return
	}
	if err := r.sink(r.ctx, value); err != nil {
		logging.WarnWithContext(r.logger, "progress write failed", "progress_write_failed",
			logging.Int(logging.FieldProgress, value),
			logging.Error(err),
			logging.String(logging.FieldImpact, "task progress display lags until the next update"),
		)
	}
}

// Last returns the highest value forwarded so far, or -1.
func (r *Relay) Last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Relay) lookup(phase string) (float64, float64, bool) {
	if phase == "" && len(r.phases) == 1 {
		return r.phases[0].Weight, 0, true
	}
	for _, p := range r.phases {
		if p.Name == phase {
			return p.Weight, r.offsets[phase], true
		}
	}
	return 0, 0, false
}

// Compute returns offset + weight*percent rounded and clamped to [0,100].
// offset is the sum of earlier phase weights scaled to 100.
func Compute(offset, weight, percent float64) int {
	percent = math.Max(0, math.Min(100, percent))
	value := int(math.Round(offset + weight*percent))
	return max(0, min(100, value))
}
