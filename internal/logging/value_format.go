package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// plainValue renders a value for the console subject line, never quoted.
func plainValue(v slog.Value) string {
	return renderValue(v, false)
}

// fieldValue renders a trailing key=value field, quoting text that would
// split the line when read back.
func fieldValue(v slog.Value) string {
	return renderValue(v, true)
}

func renderValue(v slog.Value, quote bool) string {
	var s string
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		// Progress percentages and scores; one decimal is enough on a terminal.
		return strconv.FormatFloat(v.Float64(), 'f', 1, 64)
	case slog.KindDuration:
		return v.Duration().Round(time.Millisecond).String()
	case slog.KindTime:
		return v.Time().In(time.Local).Format(consoleTimestampLayout)
	case slog.KindAny:
		switch val := v.Any().(type) {
		case error:
			s = val.Error()
		case []string:
			s = strings.Join(val, ",")
		default:
			s = fmt.Sprint(val)
		}
	default:
		s = v.String()
	}
	if quote && needsQuoting(s) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuoting(s string) bool {
	return s == "" || strings.ContainsFunc(s, func(r rune) bool {
		return r <= ' ' || r == '=' || r == '"' || r == 0x7f
	})
}
