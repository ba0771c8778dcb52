package pgstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"mediaflow/internal/jobs"
	"mediaflow/internal/jobs/pgstore"
)

func openTestStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("MEDIAFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEDIAFLOW_TEST_POSTGRES_DSN not set")
	}
	store, err := pgstore.OpenDSN(context.Background(), dsn, 4)
	if err != nil {
		t.Fatalf("OpenDSN: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresJobLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	mediaID := "pg-" + uuid.NewString()

	job, created, err := store.CreateJob(ctx, jobs.NewJob{
		MediaID: mediaID,
		Stages:  []jobs.Stage{jobs.StageThumbnail, jobs.StageSubtitle},
	})
	if err != nil || !created {
		t.Fatalf("CreateJob: created=%v err=%v", created, err)
	}
	again, created, err := store.CreateJob(ctx, jobs.NewJob{MediaID: mediaID, Stages: []jobs.Stage{jobs.StageThumbnail}})
	if err != nil || created || again.ID != job.ID {
		t.Fatalf("expected idempotent create, got created=%v id=%s err=%v", created, again.ID, err)
	}

	ok, err := store.ClaimDispatch(ctx, job.ID, "thumbnail-0")
	if err != nil || !ok {
		t.Fatalf("ClaimDispatch: ok=%v err=%v", ok, err)
	}
	if ok, _ := store.ClaimDispatch(ctx, job.ID, "thumbnail-0"); ok {
		t.Fatal("second claim should fail")
	}

	claimed, err := store.ClaimedPendingTasks(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("ClaimedPendingTasks: %v", err)
	}
	found := false
	for _, task := range claimed {
		found = found || (task.JobID == job.ID && task.TaskID == "thumbnail-0")
	}
	if !found {
		t.Fatalf("claimed task not listed: %+v", claimed)
	}

	if err := jobs.UpdateTaskStatus(ctx, store, job.ID, "thumbnail-0", jobs.StatusRunning); err != nil {
		t.Fatalf("running: %v", err)
	}
	if applied, err := store.ApplyTask(ctx, job.ID, "thumbnail-0", jobs.SetStatus(jobs.StatusRunning)); err != nil || applied {
		t.Fatalf("second running transition applied: %v %v", applied, err)
	}
	if applied, err := store.ApplyTask(ctx, job.ID, "thumbnail-0", jobs.ReleaseDispatch()); err != nil || applied {
		t.Fatalf("release applied to a running task: %v %v", applied, err)
	}
	if err := jobs.UpdateTaskProgress(ctx, store, job.ID, "thumbnail-0", 70); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if err := jobs.UpdateTaskProgress(ctx, store, job.ID, "thumbnail-0", 30); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if err := jobs.UpdateTaskOutput(ctx, store, job.ID, "thumbnail-0", jobs.NewThumbnailOutput(jobs.ThumbnailOutput{Path: "t.jpg"})); err != nil {
		t.Fatalf("output: %v", err)
	}
	reloaded, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if reloaded.Tasks[0].Progress != 70 {
		t.Fatalf("progress = %d, want 70", reloaded.Tasks[0].Progress)
	}
	if err := jobs.UpdateTaskStatus(ctx, store, job.ID, "thumbnail-0", jobs.StatusCompleted); err != nil {
		t.Fatalf("completed: %v", err)
	}

	if err := jobs.UpdateTaskStatus(ctx, store, job.ID, "subtitle-1", jobs.StatusRunning); err != nil {
		t.Fatalf("running: %v", err)
	}
	if err := jobs.FailTask(ctx, store, job.ID, "subtitle-1", "timeout"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := store.SetJobStatus(ctx, job.ID, jobs.StatusFailed, "timeout"); err != nil {
		t.Fatalf("SetJobStatus: %v", err)
	}
	count, err := store.ResetFailedTasks(ctx, job.ID)
	if err != nil || count != 1 {
		t.Fatalf("ResetFailedTasks: count=%d err=%v", count, err)
	}
	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if final.Status != jobs.StatusPending {
		t.Fatalf("job status = %s, want pending", final.Status)
	}
	if final.Tasks[0].Status != jobs.StatusCompleted || final.Tasks[0].Output == nil {
		t.Fatalf("completed task changed: %#v", final.Tasks[0])
	}
	if final.Tasks[1].Status != jobs.StatusPending || final.Tasks[1].ErrorMessage != "" || final.Tasks[1].EndTime != nil {
		t.Fatalf("unexpected reset task: %#v", final.Tasks[1])
	}
}
