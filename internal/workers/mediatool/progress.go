package mediatool

import (
	"regexp"
	"strconv"
)

var (
	durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	timePattern     = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	percentPattern  = regexp.MustCompile(`(\d{1,3})%\|`)
)

// FFmpegProgress turns ffmpeg stderr into a completion percentage using the
// input duration banner and the periodic time= field.
type FFmpegProgress struct {
	duration float64
}

// Parse consumes one stderr line and returns the percent complete when the
// line carries a position and the duration is known.
func (p *FFmpegProgress) Parse(line string) (float64, bool) {
	if m := durationPattern.FindStringSubmatch(line); m != nil {
		p.duration = clockSeconds(m[1], m[2], m[3])
		return 0, false
	}
	m := timePattern.FindStringSubmatch(line)
	if m == nil || p.duration <= 0 {
		return 0, false
	}
	percent := clockSeconds(m[1], m[2], m[3]) / p.duration * 100
	if percent > 100 {
		percent = 100
	}
	return percent, true
}

// Duration returns the parsed input duration in seconds, or 0.
func (p *FFmpegProgress) Duration() float64 {
	return p.duration
}

// ParseBarPercent extracts the percentage from a tqdm style progress bar such
// as whisper prints (" 45%|####      |").
func ParseBarPercent(line string) (float64, bool) {
	m := percentPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	value, err := strconv.Atoi(m[1])
	if err != nil || value > 100 {
		return 0, false
	}
	return float64(value), true
}

func clockSeconds(hours, minutes, seconds string) float64 {
	h, _ := strconv.ParseFloat(hours, 64)
	m, _ := strconv.ParseFloat(minutes, 64)
	s, _ := strconv.ParseFloat(seconds, 64)
	return h*3600 + m*60 + s
}
