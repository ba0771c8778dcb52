package workflow_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"mediaflow/internal/jobs"
	"mediaflow/internal/testsupport"
	"mediaflow/internal/workflow"
)

func TestReaperFailsOverdueTasks(t *testing.T) {
	h := newHarness(t, testsupport.WithStageTimeout(60))
	h.cfg.Pipeline.TimeoutGrace = 30
	ctx := context.Background()

	overdue := testsupport.MustCreateJob(t, h.store, "m-overdue")
	second := testsupport.MustCreateJob(t, h.store, "m-overdue-2")
	for _, id := range []string{overdue.ID, second.ID} {
		if _, err := h.store.ApplyTask(ctx, id, "thumbnail-0", jobs.SetStatus(jobs.StatusRunning)); err != nil {
			t.Fatalf("set running: %v", err)
		}
		if err := h.store.SetJobStatus(ctx, id, jobs.StatusRunning, ""); err != nil {
			t.Fatalf("set job running: %v", err)
		}
	}

	reaper := workflow.NewReaper(h.deps)
	reaper.SetClock(func() time.Time { return time.Now().Add(time.Minute) })
	reaped, err := reaper.ReapOnce(ctx)
	if err != nil || reaped != 0 {
		t.Fatalf("tasks within timeout+grace were reaped: %d (%v)", reaped, err)
	}

	reaper.SetClock(func() time.Time { return time.Now().Add(2 * time.Minute) })
	reaped, err = reaper.ReapOnce(ctx)
	if err != nil {
		t.Fatalf("ReapOnce: %v", err)
	}
	if reaped != 2 {
		t.Fatalf("reaped %d tasks, want 2", reaped)
	}
	job := testsupport.MustGetJob(t, h.store, overdue.ID)
	if job.Status != jobs.StatusFailed || !strings.Contains(job.ErrorMessage, "thumbnail-0: timeout") {
		t.Fatalf("unexpected job %+v", job)
	}
	task := taskByStage(t, job, jobs.StageThumbnail)
	if task.Status != jobs.StatusFailed || task.EndTime == nil {
		t.Fatalf("unexpected task %+v", task)
	}

	reaped, err = reaper.ReapOnce(ctx)
	if err != nil || reaped != 0 {
		t.Fatalf("second scan reaped %d (%v)", reaped, err)
	}
}

func TestReaperRepublishesUnconsumedDispatch(t *testing.T) {
	h := newHarness(t, testsupport.WithStageTimeout(60))
	h.cfg.Pipeline.TimeoutGrace = 30
	h.distributed(t)
	ctx := context.Background()

	job, err := newDispatcher(t, h).Ensure(ctx, request("m-unconsumed"))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	b := h.distributed(t)
	reaper := workflow.NewReaper(h.deps)
	reaper.SetClaimReleaser(newDispatcher(t, h))

	reaper.SetClock(func() time.Time { return time.Now().Add(time.Minute) })
	if reaped, err := reaper.ReapOnce(ctx); err != nil || reaped != 0 {
		t.Fatalf("ReapOnce: %d (%v)", reaped, err)
	}
	if sent := b.dispatched(); len(sent) != 0 {
		t.Fatalf("claim within timeout+grace was released: %+v", sent)
	}

	reaper.SetClock(func() time.Time { return time.Now().Add(2 * time.Minute) })
	if reaped, err := reaper.ReapOnce(ctx); err != nil || reaped != 0 {
		t.Fatalf("ReapOnce: %d (%v)", reaped, err)
	}
	sent := b.dispatched()
	if len(sent) != 1 || sent[0].TaskID != "thumbnail-0" {
		t.Fatalf("expected the unconsumed task to be dispatched again, got %+v", sent)
	}
	got := testsupport.MustGetJob(t, h.store, job.ID)
	if got.Status != jobs.StatusRunning || taskByStage(t, got, jobs.StageThumbnail).Status != jobs.StatusPending {
		t.Fatalf("unexpected job after re-dispatch %+v", got)
	}
}

func TestReaperIgnoresStagesWithoutTimeout(t *testing.T) {
	h := newHarness(t, testsupport.WithStageTimeout(0))
	ctx := context.Background()
	created := testsupport.MustCreateJob(t, h.store, "m-untimed")
	if _, err := h.store.ApplyTask(ctx, created.ID, "thumbnail-0", jobs.SetStatus(jobs.StatusRunning)); err != nil {
		t.Fatalf("set running: %v", err)
	}

	reaper := workflow.NewReaper(h.deps)
	reaper.SetClock(func() time.Time { return time.Now().Add(24 * time.Hour) })
	reaped, err := reaper.ReapOnce(ctx)
	if err != nil || reaped != 0 {
		t.Fatalf("reaped %d (%v) with timeouts disabled", reaped, err)
	}
}
