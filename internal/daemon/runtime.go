package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/preflight"
	"mediaflow/internal/services"
	"mediaflow/internal/workers"
	"mediaflow/internal/workflow"
)

// Options configures daemon and worker process runtime behavior.
type Options struct {
	LogLevel string
	Workers  workers.Options
}

// Run starts the mediaflow daemon and blocks until SIGINT/SIGTERM or ctx is
// cancelled.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := processLogger(cfg, opts, "daemon")
	if err != nil {
		return err
	}
	logging.CleanupOldLogs(logger, cfg.Paths.LogDir, "*.log", cfg.Logging.RetentionDays)

	pidPath := filepath.Join(cfg.Paths.LogDir, "mediaflow.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	backends, err := OpenBackends(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open backends", logging.Args(logging.ErrorDetails(err)...)...)
		return err
	}
	logPreflight(signalCtx, logger, cfg, backends)

	registry, err := workers.NewRegistry(cfg, logger, opts.Workers)
	if err != nil {
		_ = backends.Close()
		return fmt.Errorf("build stage registry: %w", err)
	}

	d, err := New(cfg, backends, registry, logger)
	if err != nil {
		_ = backends.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running daemon and the configured backends"),
			logging.String(logging.FieldImpact, "no jobs will be processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("mediaflow daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// RunWorker consumes one stage's dispatch channel from the broker until
// SIGINT/SIGTERM or ctx is cancelled. It requires distributed mode with a
// broker the daemon also reaches; the memory bus only works inside the
// daemon process.
func RunWorker(cmdCtx context.Context, cfg *config.Config, s jobs.Stage, consumers int, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if !cfg.Distributed() || cfg.Bus.Driver != config.BusAMQP {
		return services.Wrap(services.ErrConfiguration, string(s), "start worker",
			"standalone workers need pipeline.mode = \"distributed\" and bus.driver = \"amqp\"", nil)
	}
	if consumers <= 0 {
		consumers = cfg.Bus.Consumers
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := processLogger(cfg, opts, "worker-"+string(s))
	if err != nil {
		return err
	}

	backends, err := OpenBackends(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open backends", logging.Args(logging.ErrorDetails(err)...)...)
		return err
	}
	defer backends.Close()

	registry, err := workers.NewRegistry(cfg, logger, opts.Workers)
	if err != nil {
		return fmt.Errorf("build stage registry: %w", err)
	}
	pool, err := workflow.NewWorkerPool(workflow.Deps{
		Config:   cfg,
		Store:    backends.Store,
		Registry: registry,
		Bus:      backends.Bus,
		Locker:   backends.Locker,
		Metrics:  backends.Metrics,
		Logger:   logger,
	}, s, consumers)
	if err != nil {
		return err
	}
	if worker, ok := registry.Worker(s); ok {
		if health := worker.HealthCheck(signalCtx); !health.Ready {
			logging.WarnWithContext(logger, "stage worker not ready; tasks will likely fail", "stage_unhealthy",
				logging.String(logging.FieldStage, string(s)),
				logging.String("detail", health.Detail),
			)
		}
	}
	return pool.Run(signalCtx)
}

func processLogger(cfg *config.Config, opts Options, role string) (*slog.Logger, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	instanceID := role + "-" + uuid.NewString()[:8]
	logger, err := logging.NewFromConfig(cfg, instanceID)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config, backends *Backends) {
	results := preflight.RunAll(ctx, cfg, backends.Probes()...)
	for _, result := range results {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		impact := "stages relying on this check will fail"
		if result.Optional {
			impact = "optional capability unavailable"
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, impact),
		)
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Int("checks", len(results)),
		logging.Int("failed", len(preflight.Failed(results))),
		logging.Bool("llm_key_present", cfg.GetLLM().APIKey != ""),
		logging.String("mode", cfg.Pipeline.Mode),
	)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
