package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/daemon"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/workers"
	"mediaflow/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var stages string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run <media-id> <source-url>",
		Short: "Run a job to completion in this process without a daemon",
		Long: "Run creates (or resumes) the job for a media item and executes its stages\n" +
			"sequentially in this process. A failed job is reset and resumed; a completed\n" +
			"job is printed unchanged.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg := *loaded
			cfg.Pipeline.Mode = config.ModeInProcess

			logger, err := logging.New(logging.Options{
				Level:       cfg.Logging.Level,
				Format:      cfg.Logging.Format,
				OutputPaths: []string{"stderr"},
				FilePath:    logFilePath(&cfg),
				InstanceID:  "run-" + uuid.NewString()[:8],
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			backends, err := daemon.OpenBackends(cmd.Context(), &cfg, logger)
			if err != nil {
				return err
			}
			defer backends.Close()

			registry, err := workers.NewRegistry(&cfg, logger, workers.Options{})
			if err != nil {
				return err
			}
			orch, err := workflow.NewOrchestrator(workflow.Deps{
				Config:   &cfg,
				Store:    backends.Store,
				Registry: registry,
				Metrics:  backends.Metrics,
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			req := workflow.JobRequest{MediaID: args[0], SourceURL: args[1]}
			if names := parseStages(stages); len(names) > 0 {
				req.Stages, err = jobs.ParseStages(names)
				if err != nil {
					return err
				}
			}
			job, runErr := orch.Run(cmd.Context(), req)
			if job == nil {
				return runErr
			}
			view := api.FromJob(job)
			if jsonOutput {
				if err := writeJSON(cmd, view); err != nil {
					return err
				}
			} else {
				renderJob(cmd.OutOrStdout(), view)
			}
			if runErr != nil {
				return fmt.Errorf("job %s failed: %w", job.MediaID, runErr)
			}
			if job.Status != jobs.StatusCompleted {
				return errors.New("job did not complete: " + string(job.Status))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stages, "stages", "", "Comma-separated stages (defaults to pipeline.stages)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func logFilePath(cfg *config.Config) string {
	if strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
}
