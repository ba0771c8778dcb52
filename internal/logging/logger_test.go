package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

func TestNewFromConfigWritesJSONLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Level = "debug"

	logger, err := logging.NewFromConfig(&cfg, "inst-1")
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("job created", logging.String(logging.FieldMediaID, "media-1"))

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("log file should hold JSON lines: %v (%s)", err, content)
	}
	if record["msg"] != "job created" || record["media_id"] != "media-1" || record["instance_id"] != "inst-1" {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("task completed",
		logging.String(logging.FieldComponent, "orchestrator"),
		logging.String(logging.FieldMediaID, "media-9"),
		logging.String(logging.FieldStage, "subtitle"),
		logging.String(logging.FieldJobID, "hidden-at-info"),
		logging.Int(logging.FieldProgress, 100),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
	for _, want := range []string{"INFO [orchestrator] media-9 (subtitle) - task completed", "progress=100"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "hidden-at-info") {
		t.Fatalf("expected job_id hidden at info level, got %q", line)
	}
}

func TestConsoleLoggerRendersFieldValues(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-values.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Warn("translation slow",
		logging.String(logging.FieldStage, "subtitle"),
		logging.Float64("percent", 42.26),
		logging.Duration("elapsed", 1234567*time.Microsecond),
		slog.Any("languages", []string{"fr", "de"}),
		logging.String("detail", `whisper said "no"`),
		logging.String("empty", ""),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, want := range []string{
		"WARN subtitle - translation slow",
		"percent=42.3",
		"elapsed=1.235s",
		"languages=fr,de",
		`detail="whisper said \"no\""`,
		`empty=""`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJob(ctx, "job-1", "media-7")
	ctx = services.WithTask(ctx, "transcode-3", "transcode")
	ctx = services.WithRequestID(ctx, "req-xyz")

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	logging.WithContext(ctx, base).Info("contextual log")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	want := map[string]string{
		logging.FieldJobID:         "job-1",
		logging.FieldMediaID:       "media-7",
		logging.FieldTaskID:        "transcode-3",
		logging.FieldStage:         "transcode",
		logging.FieldCorrelationID: "req-xyz",
	}
	for key, value := range want {
		if record[key] != value {
			t.Fatalf("field %s = %v, want %q", key, record[key], value)
		}
	}
}

func TestErrorDetailsAttrs(t *testing.T) {
	err := services.WithHint(
		services.Wrap(services.ErrTimeout, "transcode", "encode", "exceeded stage timeout", nil),
		"raise pipeline.timeouts.transcode",
	)
	attrs := logging.ErrorDetails(err)
	found := map[string]string{}
	for _, attr := range attrs {
		found[attr.Key] = attr.Value.String()
	}
	if found[logging.FieldErrorKind] != services.ErrTimeout.Error() {
		t.Fatalf("unexpected kind %q", found[logging.FieldErrorKind])
	}
	if found[logging.FieldErrorOperation] != "encode" || found[logging.FieldErrorHint] == "" {
		t.Fatalf("unexpected attrs %v", found)
	}
	if logging.ErrorDetails(nil) != nil {
		t.Fatal("expected nil attrs for nil error")
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "mediaflow-20240101.log")
	fresh := filepath.Join(dir, "mediaflow-20990101.log")
	active := filepath.Join(dir, logging.LogFileName)
	for _, path := range []string{old, fresh, active} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -40)
	for _, path := range []string{old, active} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.CleanupOldLogs(logging.NewNop(), dir, "mediaflow*.log", 30)
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected old log removed")
	}
	for _, path := range []string{fresh, active} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}
