package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mediaflow/internal/bus"
	"mediaflow/internal/config"
	"mediaflow/internal/guard"
	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/testsupport"
	"mediaflow/internal/workflow"
)

type harness struct {
	cfg     *config.Config
	store   *recordingStore
	workers map[jobs.Stage]*testsupport.FakeWorker
	deps    workflow.Deps
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := &recordingStore{Store: testsupport.MustOpenStore(t, cfg)}
	registry, workers := testsupport.FakeRegistry()
	return &harness{
		cfg:     cfg,
		store:   store,
		workers: workers,
		deps: workflow.Deps{
			Config:   cfg,
			Store:    store,
			Registry: registry,
			Logger:   logging.NewNop(),
		},
	}
}

func (h *harness) orchestrator(t *testing.T) *workflow.Orchestrator {
	t.Helper()
	orch, err := workflow.NewOrchestrator(h.deps)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return orch
}

func (h *harness) distributed(t *testing.T) *recordingBus {
	t.Helper()
	b := &recordingBus{Bus: bus.NewMemory(64, logging.NewNop())}
	t.Cleanup(func() { _ = b.Close() })
	h.deps.Bus = b
	h.deps.Locker = guard.NewLocal()
	return b
}

// completeTask drives a task through running to completed, optionally
// recording output first.
func (h *harness) completeTask(t *testing.T, jobID, taskID string, output *jobs.Output) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.store.ApplyTask(ctx, jobID, taskID, jobs.SetStatus(jobs.StatusRunning)); err != nil {
		t.Fatalf("set running: %v", err)
	}
	if output != nil {
		if _, err := h.store.ApplyTask(ctx, jobID, taskID, jobs.SetOutput(output)); err != nil {
			t.Fatalf("set output: %v", err)
		}
	}
	if _, err := h.store.ApplyTask(ctx, jobID, taskID, jobs.SetStatus(jobs.StatusCompleted)); err != nil {
		t.Fatalf("set completed: %v", err)
	}
}

func taskByStage(t *testing.T, job *jobs.Job, s jobs.Stage) *jobs.Task {
	t.Helper()
	task, ok := job.TaskByStage(s)
	if !ok {
		t.Fatalf("job has no %s task", s)
	}
	return task
}

func waitForJobStatus(t *testing.T, store jobs.Store, mediaID string, want jobs.Status) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := store.FindJobByMediaID(context.Background(), mediaID)
		if err != nil {
			t.Fatalf("FindJobByMediaID: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s did not reach %s: %+v", mediaID, want, job)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// recordingStore records progress commands and can fail terminal writes.
type recordingStore struct {
	jobs.Store

	mu             sync.Mutex
	progress       map[string][]int
	failCompletes  int
	completeFailed int
}

func (s *recordingStore) ApplyTask(ctx context.Context, jobID, taskID string, cmd jobs.TaskCommand) (bool, error) {
	s.mu.Lock()
	if cmd.Kind == jobs.CommandSetStatus && cmd.Status == jobs.StatusCompleted && s.completeFailed < s.failCompletes {
		s.completeFailed++
		s.mu.Unlock()
		return false, errors.New("database is busy")
	}
	if cmd.Kind == jobs.CommandSetProgress {
		if s.progress == nil {
			s.progress = make(map[string][]int)
		}
		s.progress[taskID] = append(s.progress[taskID], cmd.Progress)
	}
	s.mu.Unlock()
	return s.Store.ApplyTask(ctx, jobID, taskID, cmd)
}

func (s *recordingStore) progressFor(taskID string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.progress[taskID]...)
}

// recordingBus records every dispatch and completion it publishes.
type recordingBus struct {
	bus.Bus

	mu          sync.Mutex
	dispatches  []bus.DispatchMessage
	completions []bus.CompletionEvent
}

func (b *recordingBus) PublishDispatch(ctx context.Context, msg bus.DispatchMessage) error {
	b.mu.Lock()
	b.dispatches = append(b.dispatches, msg)
	b.mu.Unlock()
	return b.Bus.PublishDispatch(ctx, msg)
}

func (b *recordingBus) PublishCompletion(ctx context.Context, event bus.CompletionEvent) error {
	b.mu.Lock()
	b.completions = append(b.completions, event)
	b.mu.Unlock()
	return b.Bus.PublishCompletion(ctx, event)
}

func (b *recordingBus) dispatched() []bus.DispatchMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bus.DispatchMessage(nil), b.dispatches...)
}

func (b *recordingBus) completed() []bus.CompletionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bus.CompletionEvent(nil), b.completions...)
}
