package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediaflow/internal/api"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Create, inspect, and retry jobs through the daemon API",
	}
	jobCmd.AddCommand(newJobEnsureCommand(ctx))
	jobCmd.AddCommand(newJobRetryCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobListCommand(ctx))
	return jobCmd
}

func newJobEnsureCommand(ctx *commandContext) *cobra.Command {
	var stages string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ensure <media-id> <source-url>",
		Short: "Create the job for a media item (or return the existing one) and schedule it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			job, err := client.EnsureJob(cmd.Context(), api.EnsureJobRequest{
				MediaID:   args[0],
				SourceURL: args[1],
				Stages:    parseStages(stages),
			})
			if err != nil {
				return ctx.wrapAPIError(err)
			}
			if jsonOutput {
				return writeJSON(cmd, job)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %s for %s is %s\n", job.ID, job.MediaID, job.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&stages, "stages", "", "Comma-separated stages (defaults to pipeline.stages)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newJobRetryCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "retry <media-id>",
		Short: "Reset a failed job's failed tasks and resume it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			job, err := client.RetryJob(cmd.Context(), args[0])
			if err != nil {
				return ctx.wrapAPIError(err)
			}
			if jsonOutput {
				return writeJSON(cmd, job)
			}
			out := cmd.OutOrStdout()
			if job.Status == "failed" {
				fmt.Fprintf(out, "Job for %s is still failed\n", job.MediaID)
				return nil
			}
			fmt.Fprintf(out, "Job for %s is %s\n", job.MediaID, job.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <media-id>",
		Short: "Show a job and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			job, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("no job for media %s", args[0])
				}
				return ctx.wrapAPIError(err)
			}
			if jsonOutput {
				return writeJSON(cmd, job)
			}
			renderJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			list, err := client.ListJobs(cmd.Context(), statuses...)
			if err != nil {
				return ctx.wrapAPIError(err)
			}
			if jsonOutput {
				return writeJSON(cmd, list)
			}
			renderJobList(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, running, completed, failed)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
