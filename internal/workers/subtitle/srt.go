package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Cue is one timed subtitle entry.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// ParseSRT reads SubRip cues. Blocks without a valid timing line are skipped.
func ParseSRT(r io.Reader) ([]Cue, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var (
		cues    []Cue
		current *Cue
		text    []string
	)
	flush := func() {
		if current != nil && len(text) > 0 {
			current.Text = strings.Join(text, "\n")
			cues = append(cues, *current)
		}
		current = nil
		text = nil
	}
	for scanner.Scan() {
		line := strings.TrimRight(strings.TrimPrefix(scanner.Text(), "\ufeff"), " \r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if current == nil {
			if start, end, ok := parseTiming(line); ok {
				current = &Cue{Start: start, End: end}
			}
			// Index lines and stray text before a timing line are ignored.
			continue
		}
		text = append(text, strings.TrimSpace(line))
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read srt: %w", err)
	}
	return cues, nil
}

func parseTiming(line string) (time.Duration, time.Duration, bool) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, ok1 := parseTimestamp(strings.TrimSpace(parts[0]))
	endField := strings.Fields(parts[1])
	if len(endField) == 0 {
		return 0, 0, false
	}
	end, ok2 := parseTimestamp(endField[0])
	return start, end, ok1 && ok2
}

func parseTimestamp(value string) (time.Duration, bool) {
	value = strings.Replace(value, ",", ".", 1)
	clock := strings.Split(value, ":")
	if len(clock) != 3 {
		return 0, false
	}
	hours, err1 := strconv.Atoi(clock[0])
	minutes, err2 := strconv.Atoi(clock[1])
	seconds, err3 := strconv.ParseFloat(clock[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	return total + time.Duration(seconds*float64(time.Second)).Round(time.Millisecond), true
}

// FormatSRT renders cues as SubRip, renumbering from 1.
func FormatSRT(cues []Cue) string {
	var b strings.Builder
	for i, cue := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, formatTimestamp(cue.Start), formatTimestamp(cue.End), cue.Text)
	}
	return b.String()
}

func formatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d,%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}

// Transcript flattens cues into "[hh:mm:ss] text" lines, the form the
// enrichment stage reads to place chapters.
func Transcript(cues []Cue) string {
	var b strings.Builder
	for _, cue := range cues {
		secs := int(cue.Start / time.Second)
		fmt.Fprintf(&b, "[%02d:%02d:%02d] %s\n", secs/3600, secs/60%60, secs%60, strings.ReplaceAll(cue.Text, "\n", " "))
	}
	return b.String()
}
