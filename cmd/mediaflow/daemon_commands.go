package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediaflow/internal/daemon"
	"mediaflow/internal/jobs"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the mediaflow daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemon.Run(cmd.Context(), cfg, daemon.Options{LogLevel: logLevel})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	return cmd
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var stageName string
	var consumers int
	var logLevel string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume one stage's dispatch queue (distributed mode with amqp)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			s, err := jobs.ParseStage(stageName)
			if err != nil {
				return err
			}
			return daemon.RunWorker(cmd.Context(), cfg, s, consumers, daemon.Options{LogLevel: logLevel})
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "", "Stage to consume (thumbnail, subtitle, enrichment, transcode)")
	cmd.Flags().IntVar(&consumers, "consumers", 0, "Concurrent consumers (defaults to bus.consumers)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}
