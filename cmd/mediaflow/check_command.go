package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediaflow/internal/daemon"
	"mediaflow/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run preflight checks against directories, binaries, the LLM, and backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			var probes []preflight.Probe
			var extra []preflight.Result
			backends, err := daemon.OpenBackends(cmd.Context(), cfg, nil)
			if err != nil {
				extra = append(extra, preflight.Result{Name: "Backends", Detail: err.Error()})
			} else {
				defer backends.Close()
				probes = backends.Probes()
			}

			results := append(preflight.RunAll(cmd.Context(), cfg, probes...), extra...)
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(results))
			for _, result := range results {
				status := "completed"
				label := "ok"
				switch {
				case !result.Passed && result.Optional:
					status, label = "pending", "warn"
				case !result.Passed:
					status, label = "failed", "fail"
				}
				if colorize {
					label = statusColors[status].Sprint(label)
				}
				rows = append(rows, []string{result.Name, label, result.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, rows, nil))

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight check(s) failed", len(failed))
			}
			fmt.Fprintln(out, "All required checks passed")
			return nil
		},
	}
}
