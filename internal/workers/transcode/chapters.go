package transcode

import (
	"fmt"
	"os"
	"strings"

	"mediaflow/internal/jobs"
)

// FormatChapters renders enrichment metadata as an FFMETADATA1 document.
// Each chapter ends where the next begins; the last one is left open-ended
// by ending at its own start.
func FormatChapters(meta *jobs.EnrichmentOutput) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	if meta.Title != "" {
		fmt.Fprintf(&b, "title=%s\n", escapeMetadata(meta.Title))
	}
	if meta.Summary != "" {
		fmt.Fprintf(&b, "description=%s\n", escapeMetadata(meta.Summary))
	}
	for i, ch := range meta.Chapters {
		start := int64(ch.StartSeconds * 1000)
		end := start
		if i+1 < len(meta.Chapters) {
			end = int64(meta.Chapters[i+1].StartSeconds * 1000)
		}
		fmt.Fprintf(&b, "\n[CHAPTER]\nTIMEBASE=1/1000\nSTART=%d\nEND=%d\ntitle=%s\n", start, end, escapeMetadata(ch.Title))
	}
	return b.String()
}

// WriteChapters writes the sidecar beside the encoded file and returns its path.
func WriteChapters(encodedPath string, meta *jobs.EnrichmentOutput) (string, error) {
	path := strings.TrimSuffix(encodedPath, ".mkv") + ".chapters.txt"
	return path, os.WriteFile(path, []byte(FormatChapters(meta)), 0o644)
}

func escapeMetadata(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "=", `\=`, ";", `\;`, "#", `\#`, "\n", "\\\n")
	return replacer.Replace(value)
}
