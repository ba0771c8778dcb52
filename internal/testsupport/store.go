package testsupport

import (
	"context"
	"testing"

	"mediaflow/internal/config"
	"mediaflow/internal/jobs"
	"mediaflow/internal/jobs/sqlitestore"
)

// MustOpenStore opens a SQLite job store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *sqlitestore.Store {
	t.Helper()

	store, err := sqlitestore.Open(cfg)
	if err != nil {
		t.Fatalf("sqlitestore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustCreateJob creates a job for tests using the provided store.
func MustCreateJob(t testing.TB, store jobs.Store, mediaID string, stages ...jobs.Stage) *jobs.Job {
	t.Helper()

	if len(stages) == 0 {
		stages = jobs.AllStages()
	}
	job, _, err := store.CreateJob(context.Background(), jobs.NewJob{
		MediaID:   mediaID,
		SourceURL: "file:///media/" + mediaID + ".mkv",
		Stages:    stages,
	})
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}

// MustGetJob reloads a job and fails the test when it is missing.
func MustGetJob(t testing.TB, store jobs.Store, jobID string) *jobs.Job {
	t.Helper()

	job, err := store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("store.GetJob: %v", err)
	}
	if job == nil {
		t.Fatalf("job %s not found", jobID)
	}
	return job
}
