package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediaflow/internal/metrics"
)

func TestRecorderExposesCounters(t *testing.T) {
	rec := metrics.New("mediaflow")
	rec.JobFinished("completed")
	rec.TaskFinished("subtitle", "failed", "timeout", 2*time.Second)
	rec.Dispatch("thumbnail", "published")
	rec.JobStarted()
	rec.TaskReaped("transcode")
	rec.WriteRetried("fail_task")

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`mediaflow_jobs_finished_total{status="completed"} 1`,
		`mediaflow_tasks_finished_total{error_kind="timeout",stage="subtitle",status="failed"} 1`,
		`mediaflow_dispatches_total{result="published",stage="thumbnail"} 1`,
		`mediaflow_active_jobs 1`,
		`mediaflow_reaped_tasks_total{stage="transcode"} 1`,
		`mediaflow_store_write_retries_total{operation="fail_task"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *metrics.Recorder
	rec.JobFinished("failed")
	rec.TaskFinished("x", "y", "", time.Second)
	rec.Dispatch("x", "failed")
	rec.JobStarted()
	rec.JobStopped()
	rec.TaskReaped("x")
	rec.WriteRetried("x")
	if rec.Registry() != nil {
		t.Fatal("expected nil registry")
	}
	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 404 {
		t.Fatalf("expected 404 from nil recorder, got %d", w.Code)
	}
}
