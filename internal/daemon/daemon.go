package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/preflight"
	"mediaflow/internal/stage"
	"mediaflow/internal/workflow"
)

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	backends *Backends
	deps     workflow.Deps

	lockPath string
	lock     *flock.Flock

	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	runner  *workflow.Runner
	api     *apiServer
	workers sync.WaitGroup
}

// New constructs a daemon over opened backends and a stage registry. The
// daemon takes ownership of backends and closes them in Close.
func New(cfg *config.Config, backends *Backends, registry *stage.Registry, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || backends == nil || backends.Store == nil || registry == nil {
		return nil, errors.New("daemon requires config, store, and stage registry")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		backends: backends,
		deps: workflow.Deps{
			Config:   cfg,
			Store:    backends.Store,
			Registry: registry,
			Bus:      backends.Bus,
			Locker:   backends.Locker,
			Metrics:  backends.Metrics,
			Logger:   logger,
		},
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, starts the workflow engine for the
// configured mode, the timeout reaper, and the trigger API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediaflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	trigger, runner, err := d.startWorkflow(runCtx)
	if err != nil {
		cancel()
		d.workers.Wait()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}

	reaper := workflow.NewReaper(d.deps)
	if dispatcher, ok := trigger.(*workflow.Dispatcher); ok {
		reaper.SetClaimReleaser(dispatcher)
	}
	d.goWorker(func() { reaper.Run(runCtx) })

	server := newAPIServer(d.cfg.Paths.APIBind, d.router(trigger), d.logger)
	if err := server.start(runCtx); err != nil {
		cancel()
		if runner != nil {
			runner.Stop()
		}
		d.workers.Wait()
		_ = d.lock.Unlock()
		return err
	}

	d.mu.Lock()
	d.cancel = cancel
	d.runner = runner
	d.api = server
	d.mu.Unlock()

	d.running.Store(true)
	d.logger.Info("mediaflow daemon started",
		logging.String("lock", d.lockPath),
		logging.String("mode", d.cfg.Pipeline.Mode),
		logging.String("store", d.cfg.Store.Driver),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// startWorkflow returns the trigger the API drives: the runner in
// in-process mode, the dispatcher in distributed mode.
func (d *Daemon) startWorkflow(ctx context.Context) (api.Trigger, *workflow.Runner, error) {
	if !d.cfg.Distributed() {
		orch, err := workflow.NewOrchestrator(d.deps)
		if err != nil {
			return nil, nil, err
		}
		runner := workflow.NewRunner(orch, d.cfg.Pipeline.MaxConcurrentJobs)
		if err := runner.Start(ctx); err != nil {
			runner.Stop()
			return nil, nil, err
		}
		return runner, runner, nil
	}

	dispatcher, err := workflow.NewDispatcher(d.deps)
	if err != nil {
		return nil, nil, err
	}
	if d.cfg.Bus.Driver == config.BusMemory {
		for _, s := range d.deps.Registry.Stages() {
			pool, err := workflow.NewWorkerPool(d.deps, s, d.cfg.Bus.Consumers)
			if err != nil {
				return nil, nil, err
			}
			d.goWorker(func() { d.logExit("worker pool", pool.Run(ctx)) })
		}
	}
	advancer := workflow.NewAdvancer(dispatcher)
	d.goWorker(func() { d.logExit("advancer", advancer.Run(ctx)) })

	d.resumeDistributed(ctx, dispatcher)
	return dispatcher, nil, nil
}

// resumeDistributed re-advances unfinished jobs so tasks created but never
// published by a previous process get dispatched. Messages on a memory bus
// die with the process, so every claim older than startup is released first.
// Broker-held claims are left to the reaper.
func (d *Daemon) resumeDistributed(ctx context.Context, dispatcher *workflow.Dispatcher) {
	if d.cfg.Bus.Driver == config.BusMemory {
		started := time.Now()
		released, err := dispatcher.ReleaseStaleClaims(ctx, func(jobs.Stage) time.Time { return started })
		if err != nil {
			logging.WarnWithContext(d.logger, "failed to release dispatch claims from a previous run", "resume_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check store connectivity"),
			)
		}
		if released > 0 {
			d.logger.Info("released dispatch claims lost with the memory bus", logging.Int("count", released))
		}
	}
	unfinished, err := d.deps.Store.ListJobs(ctx, jobs.StatusPending, jobs.StatusRunning)
	if err != nil {
		logging.WarnWithContext(d.logger, "failed to list unfinished jobs; they resume on the next completion event", "resume_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check store connectivity"),
		)
		return
	}
	for _, job := range unfinished {
		if err := dispatcher.Advance(ctx, job.ID); err != nil {
			logging.WarnWithContext(d.logger, "failed to resume job", "resume_failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldMediaID, job.MediaID),
				logging.Error(err),
			)
		}
	}
}

func (d *Daemon) goWorker(fn func()) {
	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		fn()
	}()
}

func (d *Daemon) logExit(name string, err error) {
	if err == nil {
		return
	}
	logging.ErrorWithContext(d.logger, name+" stopped", "daemon_worker_failed",
		logging.Error(err),
		logging.String(logging.FieldImpact, "distributed jobs stop advancing until restart"),
		logging.String(logging.FieldErrorHint, "check bus connectivity"),
	)
}

func (d *Daemon) router(trigger api.Trigger) http.Handler {
	opts := api.RouterOptions{
		Jobs:   api.NewJobService(d.backends.Store, trigger),
		Health: d.Status,
		Token:  d.cfg.Paths.APIToken,
		Logger: d.deps.Logger,
	}
	if d.backends.Metrics != nil {
		opts.Metrics = d.backends.Metrics.Handler()
	}
	return api.NewRouter(opts)
}

// Stop stops background processing and releases the daemon lock. In-flight
// in-process runs are cancelled; their tasks resume on the next start.
func (d *Daemon) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}

	d.mu.Lock()
	cancel, runner, server := d.cancel, d.runner, d.api
	d.cancel, d.runner, d.api = nil, nil, nil
	d.mu.Unlock()

	server.stop()
	if cancel != nil {
		cancel()
	}
	if runner != nil {
		runner.Stop()
	}
	d.workers.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("mediaflow daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.backends.Close()
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddr returns the address the trigger API is listening on, or "" when
// the API is disabled or the daemon is stopped.
func (d *Daemon) APIAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.api.addr()
}

// Status returns the current daemon status in the shape served by
// GET /api/health.
func (d *Daemon) Status(ctx context.Context) api.Health {
	d.mu.Lock()
	runner := d.runner
	d.mu.Unlock()

	health := api.Health{
		Ready:        d.running.Load(),
		PID:          os.Getpid(),
		Store:        d.cfg.Store.Driver,
		LockFilePath: d.lockPath,
		Workflow:     api.FromStatusSummary(workflow.Status(ctx, d.deps, runner)),
	}
	if d.cfg.Distributed() {
		health.Bus = d.cfg.Bus.Driver
	}
	if err := d.backends.Store.Ping(ctx); err != nil {
		health.Ready = false
		health.Workflow.LastError = err.Error()
	}
	for _, dep := range preflight.CheckSystemDeps(d.cfg) {
		health.Dependencies = append(health.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return health
}
