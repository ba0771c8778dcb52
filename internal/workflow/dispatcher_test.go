package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mediaflow/internal/bus"
	"mediaflow/internal/jobs"
	"mediaflow/internal/stage"
	"mediaflow/internal/testsupport"
	"mediaflow/internal/workflow"
)

func newDispatcher(t *testing.T, h *harness) *workflow.Dispatcher {
	t.Helper()
	d, err := workflow.NewDispatcher(h.deps)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func newPool(t *testing.T, h *harness, s jobs.Stage) *workflow.WorkerPool {
	t.Helper()
	pool, err := workflow.NewWorkerPool(h.deps, s, 1)
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	return pool
}

func TestNewDispatcherRequiresBusAndLocker(t *testing.T) {
	h := newHarness(t)
	if _, err := workflow.NewDispatcher(h.deps); err == nil {
		t.Fatal("expected error without a bus")
	}
}

func TestDispatcherEnsureDispatchesOnce(t *testing.T) {
	h := newHarness(t)
	b := h.distributed(t)
	d := newDispatcher(t, h)
	ctx := context.Background()

	first, err := d.Ensure(ctx, request("m-dist"))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	second, err := d.Ensure(ctx, request("m-dist"))
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("Ensure created a second job")
	}
	sent := b.dispatched()
	if len(sent) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(sent))
	}
	if sent[0].TaskID != "thumbnail-0" || sent[0].Stage != jobs.StageThumbnail || sent[0].CorrelationID == "" {
		t.Fatalf("unexpected dispatch %+v", sent[0])
	}
	if first.Status != jobs.StatusRunning {
		t.Fatalf("job status = %s, want running", first.Status)
	}
	if task := taskByStage(t, first, jobs.StageThumbnail); task.DispatchedAt == nil || task.Status != jobs.StatusPending {
		t.Fatalf("dispatched task not claimed: %+v", task)
	}
}

func TestDuplicateCompletionAdvancesOnce(t *testing.T) {
	h := newHarness(t)
	b := h.distributed(t)
	d := newDispatcher(t, h)
	advancer := workflow.NewAdvancer(d)
	ctx := context.Background()

	if _, err := d.Ensure(ctx, request("m-dup")); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := newPool(t, h, jobs.StageThumbnail).Handle(ctx, b.dispatched()[0]); err != nil {
		t.Fatalf("pool Handle: %v", err)
	}
	completions := b.completed()
	if len(completions) != 1 || completions[0].Failed() || completions[0].Output == nil {
		t.Fatalf("unexpected completions %+v", completions)
	}

	for i := 0; i < 2; i++ {
		if err := advancer.Handle(ctx, completions[0]); err != nil {
			t.Fatalf("advancer Handle #%d: %v", i, err)
		}
	}
	sent := b.dispatched()
	if len(sent) != 2 {
		t.Fatalf("expected exactly one follow-up dispatch, got %d total", len(sent))
	}
	if sent[1].Stage != jobs.StageSubtitle {
		t.Fatalf("next dispatch stage = %s", sent[1].Stage)
	}
}

func TestRedeliveredDispatchRepublishesCompletion(t *testing.T) {
	h := newHarness(t)
	b := h.distributed(t)
	d := newDispatcher(t, h)
	ctx := context.Background()

	if _, err := d.Ensure(ctx, request("m-redeliver")); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	pool := newPool(t, h, jobs.StageThumbnail)
	msg := b.dispatched()[0]
	for i := 0; i < 2; i++ {
		if err := pool.Handle(ctx, msg); err != nil {
			t.Fatalf("Handle #%d: %v", i, err)
		}
	}
	if h.workers[jobs.StageThumbnail].CallCount() != 1 {
		t.Fatalf("redelivered dispatch re-executed a completed task")
	}
	completions := b.completed()
	if len(completions) != 2 || completions[1].Output == nil {
		t.Fatalf("expected the recorded completion to be republished, got %+v", completions)
	}
}

func TestConcurrentRedeliveryRunsTaskOnce(t *testing.T) {
	h := newHarness(t)
	b := h.distributed(t)
	d := newDispatcher(t, h)
	advancer := workflow.NewAdvancer(d)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.workers[jobs.StageThumbnail].SetProcess(func(_ context.Context, req stage.Request, _ stage.Reporter) (*jobs.Output, error) {
		once.Do(func() { close(started) })
		<-release
		return testsupport.DefaultOutput(jobs.StageThumbnail, req.OutputDir), nil
	})

	if _, err := d.Ensure(ctx, request("m-concurrent")); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	pool := newPool(t, h, jobs.StageThumbnail)
	msg := b.dispatched()[0]

	firstErr := make(chan error, 1)
	go func() { firstErr <- pool.Handle(ctx, msg) }()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first delivery never reached the worker")
	}
	if err := pool.Handle(ctx, msg); err != nil {
		t.Fatalf("redelivered Handle: %v", err)
	}
	close(release)
	if err := <-firstErr; err != nil {
		t.Fatalf("first Handle: %v", err)
	}

	if calls := h.workers[jobs.StageThumbnail].CallCount(); calls != 1 {
		t.Fatalf("worker ran %d times for one task", calls)
	}
	completions := b.completed()
	if len(completions) != 1 || completions[0].Failed() {
		t.Fatalf("expected a single successful completion, got %+v", completions)
	}
	for _, event := range completions {
		if err := advancer.Handle(ctx, event); err != nil {
			t.Fatalf("advancer Handle: %v", err)
		}
	}
	job := testsupport.MustGetJob(t, h.store, msg.JobID)
	if job.Status != jobs.StatusRunning {
		t.Fatalf("job status = %s, want running", job.Status)
	}
	if task := taskByStage(t, job, jobs.StageThumbnail); task.Status != jobs.StatusCompleted {
		t.Fatalf("thumbnail task = %s, want completed", task.Status)
	}
	sent := b.dispatched()
	if len(sent) != 2 || sent[1].Stage != jobs.StageSubtitle {
		t.Fatalf("expected the subtitle dispatch to follow, got %+v", sent)
	}
}

func TestFailureForCompletedTaskAdvancesJob(t *testing.T) {
	h := newHarness(t)
	b := h.distributed(t)
	d := newDispatcher(t, h)
	advancer := workflow.NewAdvancer(d)
	ctx := context.Background()

	job, err := d.Ensure(ctx, request("m-late-failure"))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := newPool(t, h, jobs.StageThumbnail).Handle(ctx, b.dispatched()[0]); err != nil {
		t.Fatalf("pool Handle: %v", err)
	}
	late := bus.CompletionEvent{
		JobID:     job.ID,
		TaskID:    "thumbnail-0",
		Stage:     jobs.StageThumbnail,
		Error:     "record output: task left the running state before its output was recorded",
		ErrorKind: "persistence error",
	}
	if err := advancer.Handle(ctx, late); err != nil {
		t.Fatalf("advancer Handle: %v", err)
	}

	got := testsupport.MustGetJob(t, h.store, job.ID)
	if got.Status != jobs.StatusRunning || got.ErrorMessage != "" {
		t.Fatalf("late failure changed the job: %+v", got)
	}
	if task := taskByStage(t, got, jobs.StageThumbnail); task.Status != jobs.StatusCompleted {
		t.Fatalf("thumbnail task = %s, want completed", task.Status)
	}
	sent := b.dispatched()
	if len(sent) != 2 || sent[1].Stage != jobs.StageSubtitle {
		t.Fatalf("expected the job to advance to subtitle, got %+v", sent)
	}
}

func TestReleaseStaleClaimsRepublishesLostDispatch(t *testing.T) {
	h := newHarness(t)
	h.distributed(t)
	ctx := context.Background()

	job, err := newDispatcher(t, h).Ensure(ctx, request("m-lost"))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	// A restart drops the memory bus together with the queued dispatch.
	b := h.distributed(t)
	d := newDispatcher(t, h)
	if err := d.Advance(ctx, job.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if sent := b.dispatched(); len(sent) != 0 {
		t.Fatalf("claimed task dispatched without release: %+v", sent)
	}

	released, err := d.ReleaseStaleClaims(ctx, func(jobs.Stage) time.Time { return time.Now().Add(-time.Hour) })
	if err != nil || released != 0 {
		t.Fatalf("fresh claim released: %d (%v)", released, err)
	}
	released, err = d.ReleaseStaleClaims(ctx, func(jobs.Stage) time.Time { return time.Now() })
	if err != nil {
		t.Fatalf("ReleaseStaleClaims: %v", err)
	}
	if released != 1 {
		t.Fatalf("released %d claims, want 1", released)
	}
	sent := b.dispatched()
	if len(sent) != 1 || sent[0].TaskID != "thumbnail-0" {
		t.Fatalf("expected thumbnail-0 to be dispatched again, got %+v", sent)
	}
	task := taskByStage(t, testsupport.MustGetJob(t, h.store, job.ID), jobs.StageThumbnail)
	if task.Status != jobs.StatusPending || task.DispatchedAt == nil {
		t.Fatalf("re-dispatched task not claimed: %+v", task)
	}
}

func TestDispatchCarriesDependencyInputs(t *testing.T) {
	h := newHarness(t, testsupport.WithStages("subtitle", "enrichment"))
	b := h.distributed(t)
	d := newDispatcher(t, h)
	advancer := workflow.NewAdvancer(d)
	ctx := context.Background()

	if _, err := d.Ensure(ctx, request("m-inputs")); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := newPool(t, h, jobs.StageSubtitle).Handle(ctx, b.dispatched()[0]); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := advancer.Handle(ctx, b.completed()[0]); err != nil {
		t.Fatalf("advancer Handle: %v", err)
	}
	sent := b.dispatched()
	if len(sent) != 2 || sent[1].Stage != jobs.StageEnrichment {
		t.Fatalf("unexpected dispatches %+v", sent)
	}
	sub := sent[1].DependencyInputs[jobs.StageSubtitle]
	if sub == nil || sub.Subtitle == nil || sub.Subtitle.Transcript != "hello world" {
		t.Fatalf("enrichment dispatch missing subtitle input: %+v", sent[1].DependencyInputs)
	}

	if err := newPool(t, h, jobs.StageEnrichment).Handle(ctx, sent[1]); err != nil {
		t.Fatalf("enrichment Handle: %v", err)
	}
	calls := h.workers[jobs.StageEnrichment].Calls()
	if len(calls) != 1 || calls[0].Inputs.Subtitle() == nil {
		t.Fatalf("worker did not receive the dispatched input: %+v", calls)
	}
}

func TestFailedCompletionFailsJob(t *testing.T) {
	h := newHarness(t)
	b := h.distributed(t)
	d := newDispatcher(t, h)
	advancer := workflow.NewAdvancer(d)
	ctx := context.Background()
	h.workers[jobs.StageThumbnail].Fail(errors.New("ffmpeg exited 1"))

	if _, err := d.Ensure(ctx, request("m-dist-fail")); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := newPool(t, h, jobs.StageThumbnail).Handle(ctx, b.dispatched()[0]); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	event := b.completed()[0]
	if !event.Failed() || !strings.Contains(event.Error, "ffmpeg exited 1") || event.ErrorKind == "" {
		t.Fatalf("unexpected failure event %+v", event)
	}
	if err := advancer.Handle(ctx, event); err != nil {
		t.Fatalf("advancer Handle: %v", err)
	}

	job := testsupport.MustGetJob(t, h.store, event.JobID)
	if job.Status != jobs.StatusFailed || !strings.HasPrefix(job.ErrorMessage, "thumbnail-0: ") {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(b.dispatched()) != 1 {
		t.Fatal("a failed job dispatched further tasks")
	}
	if err := d.Advance(ctx, job.ID); err != nil {
		t.Fatalf("Advance on failed job: %v", err)
	}
	if len(b.dispatched()) != 1 {
		t.Fatal("Advance dispatched for a failed job")
	}
}

func TestDispatcherRetry(t *testing.T) {
	h := newHarness(t, testsupport.WithStages("thumbnail"))
	b := h.distributed(t)
	d := newDispatcher(t, h)
	advancer := workflow.NewAdvancer(d)
	ctx := context.Background()
	h.workers[jobs.StageThumbnail].Fail(errors.New("boom"))

	if _, err := d.Ensure(ctx, request("m-dist-retry")); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	pool := newPool(t, h, jobs.StageThumbnail)
	if err := pool.Handle(ctx, b.dispatched()[0]); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := advancer.Handle(ctx, b.completed()[0]); err != nil {
		t.Fatalf("advancer Handle: %v", err)
	}

	h.workers[jobs.StageThumbnail].SetProcess(nil)
	job, err := d.Retry(ctx, "m-dist-retry")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if job.Status != jobs.StatusRunning {
		t.Fatalf("job status after retry = %s", job.Status)
	}
	sent := b.dispatched()
	if len(sent) != 2 || sent[1].TaskID != "thumbnail-0" {
		t.Fatalf("retry did not redispatch the failed task: %+v", sent)
	}
	if err := pool.Handle(ctx, sent[1]); err != nil {
		t.Fatalf("Handle retry: %v", err)
	}
	if err := advancer.Handle(ctx, b.completed()[1]); err != nil {
		t.Fatalf("advancer Handle: %v", err)
	}
	if got := testsupport.MustGetJob(t, h.store, job.ID); got.Status != jobs.StatusCompleted {
		t.Fatalf("job status = %s, want completed", got.Status)
	}
}

func TestDistributedRunCompletes(t *testing.T) {
	h := newHarness(t)
	h.distributed(t)
	d := newDispatcher(t, h)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	for _, s := range jobs.AllStages() {
		pool := newPool(t, h, s)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Run(ctx)
		}()
	}
	advancer := workflow.NewAdvancer(d)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = advancer.Run(ctx)
	}()

	if _, err := d.Ensure(ctx, request("m-e2e")); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	job := waitForJobStatus(t, h.store, "m-e2e", jobs.StatusCompleted)
	for _, task := range job.Tasks {
		if task.Status != jobs.StatusCompleted || task.Output == nil {
			t.Fatalf("task not completed: %+v", task)
		}
	}
	for s, worker := range h.workers {
		if worker.CallCount() != 1 {
			t.Fatalf("%s ran %d times", s, worker.CallCount())
		}
	}
}

func TestAdvancerDropsUnknownJob(t *testing.T) {
	h := newHarness(t)
	h.distributed(t)
	advancer := workflow.NewAdvancer(newDispatcher(t, h))
	err := advancer.Handle(context.Background(), bus.CompletionEvent{
		JobID:  "nope",
		TaskID: "thumbnail-0",
		Stage:  jobs.StageThumbnail,
		Output: testsupport.DefaultOutput(jobs.StageThumbnail, "/w"),
	})
	if err != nil {
		t.Fatalf("expected unknown job to be dropped, got %v", err)
	}
}
