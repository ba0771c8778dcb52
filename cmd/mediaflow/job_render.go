package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"mediaflow/internal/api"
)

func renderJobList(out io.Writer, list []api.Job) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No jobs")
		return
	}
	colorize := shouldColorize(out)
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		rows = append(rows, []string{
			job.MediaID,
			colorStatus(job.Status, colorize),
			strconv.Itoa(job.Progress) + "%",
			currentStage(job),
			job.UpdatedAt,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Media", "Status", "Progress", "Stage", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
}

func renderJob(out io.Writer, job api.Job) {
	colorize := shouldColorize(out)
	fmt.Fprintf(out, "Media:    %s\n", job.MediaID)
	fmt.Fprintf(out, "Job:      %s\n", job.ID)
	fmt.Fprintf(out, "Source:   %s\n", job.SourceURL)
	fmt.Fprintf(out, "Status:   %s (%d%%)\n", colorStatus(job.Status, colorize), job.Progress)
	if job.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", job.Error)
	}
	if job.CreatedAt != "" {
		fmt.Fprintf(out, "Created:  %s\n", job.CreatedAt)
	}

	rows := make([][]string, 0, len(job.Tasks))
	for _, task := range job.Tasks {
		rows = append(rows, []string{
			task.Label,
			colorStatus(task.Status, colorize),
			strconv.Itoa(task.Progress) + "%",
			task.StartTime,
			task.EndTime,
			task.ErrorMessage,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "Status", "Progress", "Started", "Finished", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight},
	))
}

// currentStage names the task a job is on: the running task, else the first
// failed or pending one.
func currentStage(job api.Job) string {
	for _, want := range []string{"running", "failed", "pending"} {
		for _, task := range job.Tasks {
			if task.Status == want {
				return task.Label
			}
		}
	}
	return "-"
}

func parseStages(raw string) []string {
	var stages []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			stages = append(stages, trimmed)
		}
	}
	return stages
}
