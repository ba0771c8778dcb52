package workflow

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mediaflow/internal/jobs"
)

// StageLabel renders a stage for humans, e.g. "Enrichment".
func StageLabel(s jobs.Stage) string {
	if s == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}
