package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"mediaflow/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health, job counts, and stage readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return ctx.wrapAPIError(err)
			}
			if jsonOutput {
				return writeJSON(cmd, health)
			}
			renderHealth(cmd.OutOrStdout(), health)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderHealth(out io.Writer, health api.Health) {
	fmt.Fprintf(out, "Ready:    %s\n", yesNo(health.Ready))
	fmt.Fprintf(out, "PID:      %d\n", health.PID)
	fmt.Fprintf(out, "Mode:     %s\n", health.Workflow.Mode)
	fmt.Fprintf(out, "Store:    %s\n", health.Store)
	if health.Bus != "" {
		fmt.Fprintf(out, "Bus:      %s\n", health.Bus)
	}
	if len(health.Workflow.ActiveJobs) > 0 {
		fmt.Fprintf(out, "Active:   %v\n", health.Workflow.ActiveJobs)
	}
	if health.Workflow.LastError != "" {
		fmt.Fprintf(out, "Last error: %s\n", health.Workflow.LastError)
	}

	colorize := shouldColorize(out)
	statsRows := make([][]string, 0, len(health.Workflow.JobStats))
	for _, status := range []string{"pending", "running", "completed", "failed"} {
		statsRows = append(statsRows, []string{colorStatus(status, colorize), strconv.Itoa(health.Workflow.JobStats[status])})
	}
	fmt.Fprintln(out, renderTable([]string{"Jobs", "Count"}, statsRows, []columnAlignment{alignLeft, alignRight}))

	if len(health.Workflow.StageHealth) > 0 {
		rows := make([][]string, 0, len(health.Workflow.StageHealth))
		for _, stage := range health.Workflow.StageHealth {
			rows = append(rows, []string{stage.Name, yesNo(stage.Ready), stage.Detail})
		}
		fmt.Fprintln(out, renderTable([]string{"Stage", "Ready", "Detail"}, rows, nil))
	}
	if len(health.Dependencies) > 0 {
		rows := make([][]string, 0, len(health.Dependencies))
		for _, dep := range health.Dependencies {
			detail := dep.Detail
			if detail == "" {
				detail = dep.Description
			}
			rows = append(rows, []string{dep.Name, dep.Command, yesNo(dep.Available), yesNo(dep.Optional), detail})
		}
		fmt.Fprintln(out, renderTable([]string{"Dependency", "Command", "Available", "Optional", "Detail"}, rows, nil))
	}
}
