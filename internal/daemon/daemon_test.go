package daemon_test

import (
	"context"
	"testing"
	"time"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/daemon"
	"mediaflow/internal/jobs"
	"mediaflow/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	backends, err := daemon.OpenBackends(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("OpenBackends: %v", err)
	}
	registry, _ := testsupport.FakeRegistry()
	d, err := daemon.New(cfg, backends, registry, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func waitForStatus(t *testing.T, client *api.Client, mediaID, want string) api.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		job, err := client.GetJob(context.Background(), mediaID)
		if err == nil && job.Status == want {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s did not reach %s: %+v (err=%v)", mediaID, want, job, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Ready || !d.Running() {
		t.Fatal("expected daemon to report running")
	}
	if status.Workflow.Mode != config.ModeInProcess || len(status.Workflow.StageHealth) != 4 {
		t.Fatalf("unexpected workflow status %+v", status.Workflow)
	}
	if status.LockFilePath != cfg.LockPath() || status.Bus != "" {
		t.Fatalf("unexpected status %+v", status)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Running() || d.Status(ctx).Ready {
		t.Fatal("expected daemon to be stopped")
	}
	if d.APIAddr() != "" {
		t.Fatal("expected API to be closed after stop")
	}
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected second daemon to be refused while the lock is held")
	}
	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release: %v", err)
	}
	second.Stop()
}

func TestDaemonRunsJobsInProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client, err := api.NewClient(d.APIAddr(), "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.EnsureJob(context.Background(), api.EnsureJobRequest{MediaID: "m-inproc", SourceURL: "file:///m.mkv"}); err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	job := waitForStatus(t, client, "m-inproc", "completed")
	if len(job.Tasks) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(job.Tasks))
	}
	for _, task := range job.Tasks {
		if task.Status != "completed" || task.Progress != 100 {
			t.Fatalf("unexpected task %+v", task)
		}
	}
}

func TestDaemonRunsJobsDistributedOverMemoryBus(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMode(config.ModeDistributed))
	cfg.Paths.APIToken = "secret"
	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if health := d.Status(context.Background()); health.Bus != config.BusMemory {
		t.Fatalf("expected memory bus in health, got %+v", health)
	}

	client, err := api.NewClient(d.APIAddr(), "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.EnsureJob(context.Background(), api.EnsureJobRequest{
		MediaID:   "m-dist",
		SourceURL: "file:///m.mkv",
		Stages:    []string{"subtitle", "enrichment"},
	}); err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	job := waitForStatus(t, client, "m-dist", "completed")
	if len(job.Tasks) != 2 || job.Tasks[0].Stage != "subtitle" || job.Tasks[1].Stage != "enrichment" {
		t.Fatalf("unexpected tasks %+v", job.Tasks)
	}
}

func TestDaemonRepublishesClaimsLostWithMemoryBus(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMode(config.ModeDistributed))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	// A previous process claimed the first task and died before a worker
	// consumed it from the in-memory bus.
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	job := testsupport.MustCreateJob(t, store, "m-lost", jobs.StageSubtitle, jobs.StageEnrichment)
	if claimed, err := store.ClaimDispatch(ctx, job.ID, "subtitle-0"); err != nil || !claimed {
		t.Fatalf("ClaimDispatch: %v %v", claimed, err)
	}
	if err := store.SetJobStatus(ctx, job.ID, jobs.StatusRunning, ""); err != nil {
		t.Fatalf("SetJobStatus: %v", err)
	}

	d := newDaemon(t, cfg)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	client, err := api.NewClient(d.APIAddr(), "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resumed := waitForStatus(t, client, "m-lost", "completed")
	if len(resumed.Tasks) != 2 || resumed.Tasks[0].Status != "completed" || resumed.Tasks[1].Status != "completed" {
		t.Fatalf("unexpected tasks %+v", resumed.Tasks)
	}
}

func TestOpenBackendsByMode(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	inproc, err := daemon.OpenBackends(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("OpenBackends: %v", err)
	}
	if inproc.Bus != nil || inproc.Locker != nil || inproc.Metrics != nil {
		t.Fatalf("in-process backends should not open bus, locker, or metrics: %+v", inproc)
	}
	if len(inproc.Probes()) != 1 {
		t.Fatalf("expected store probe only, got %d", len(inproc.Probes()))
	}
	if err := inproc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cfg.Pipeline.Mode = config.ModeDistributed
	cfg.Metrics.Enabled = true
	dist, err := daemon.OpenBackends(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("OpenBackends distributed: %v", err)
	}
	defer dist.Close()
	if dist.Bus == nil || dist.Locker == nil || dist.Metrics == nil {
		t.Fatalf("distributed backends incomplete: %+v", dist)
	}
	if len(dist.Probes()) != 3 {
		t.Fatalf("expected store, bus, and guard probes, got %d", len(dist.Probes()))
	}
}
