package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mediaflow/internal/api"
	"mediaflow/internal/jobs"
	"mediaflow/internal/metrics"
	"mediaflow/internal/services"
	"mediaflow/internal/stage"
	"mediaflow/internal/testsupport"
	"mediaflow/internal/workflow"
)

// storeTrigger creates jobs directly in the store and records calls.
type storeTrigger struct {
	store   jobs.Store
	ensured []workflow.JobRequest
	retried []string
}

func (s *storeTrigger) Ensure(ctx context.Context, req workflow.JobRequest) (*jobs.Job, error) {
	s.ensured = append(s.ensured, req)
	stages := req.Stages
	if len(stages) == 0 {
		stages = jobs.AllStages()
	}
	job, _, err := s.store.CreateJob(ctx, jobs.NewJob{MediaID: req.MediaID, SourceURL: req.SourceURL, Stages: stages})
	return job, err
}

func (s *storeTrigger) Retry(ctx context.Context, mediaID string) (*jobs.Job, error) {
	s.retried = append(s.retried, mediaID)
	job, err := s.store.FindJobByMediaID(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "retry job", "no job for media "+mediaID, nil)
	}
	return job, nil
}

type fixture struct {
	store   jobs.Store
	trigger *storeTrigger
	router  http.Handler
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	trigger := &storeTrigger{store: store}
	router := api.NewRouter(api.RouterOptions{
		Jobs:    api.NewJobService(store, trigger),
		Health:  func(context.Context) api.Health { return api.Health{Ready: true, PID: 42, Store: "sqlite"} },
		Metrics: metrics.New("mediaflow").Handler(),
		Token:   token,
	})
	return &fixture{store: store, trigger: trigger, router: router}
}

func (f *fixture) serve(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestEnsureJob(t *testing.T) {
	f := newFixture(t, "")
	rec := f.serve(t, http.MethodPost, "/api/jobs", `{"mediaId":"m1","sourceUrl":"file:///m1.mkv","stages":["subtitle","enrichment"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[api.JobResponse](t, rec)
	if resp.Job.MediaID != "m1" || resp.Job.Status != "pending" || len(resp.Job.Tasks) != 2 {
		t.Fatalf("unexpected job %+v", resp.Job)
	}
	if resp.Job.Tasks[0].Stage != "subtitle" || resp.Job.Tasks[0].Label != "Subtitle" {
		t.Fatalf("unexpected first task %+v", resp.Job.Tasks[0])
	}
	if len(f.trigger.ensured) != 1 || len(f.trigger.ensured[0].Stages) != 2 {
		t.Fatalf("trigger not called with stages: %+v", f.trigger.ensured)
	}
}

func TestEnsureJobValidation(t *testing.T) {
	f := newFixture(t, "")
	tests := []struct {
		name string
		body string
	}{
		{"missing source", `{"mediaId":"m1"}`},
		{"missing media", `{"sourceUrl":"file:///x"}`},
		{"unknown stage", `{"mediaId":"m1","sourceUrl":"file:///x","stages":["mux"]}`},
		{"malformed", `{"mediaId":`},
		{"unknown field", `{"mediaId":"m1","sourceUrl":"file:///x","priority":1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.serve(t, http.MethodPost, "/api/jobs", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("want 400, got %d body=%s", rec.Code, rec.Body.String())
			}
			if body := decode[api.ErrorResponse](t, rec); body.Kind != services.ErrValidation.Error() {
				t.Fatalf("unexpected error body %+v", body)
			}
		})
	}
	if len(f.trigger.ensured) != 0 {
		t.Fatal("trigger called for invalid requests")
	}
}

func TestGetJob(t *testing.T) {
	f := newFixture(t, "")
	created := testsupport.MustCreateJob(t, f.store, "m-get", jobs.StageThumbnail)
	ctx := context.Background()
	if _, err := f.store.ApplyTask(ctx, created.ID, "thumbnail-0", jobs.SetStatus(jobs.StatusRunning)); err != nil {
		t.Fatalf("ApplyTask: %v", err)
	}
	if _, err := f.store.ApplyTask(ctx, created.ID, "thumbnail-0", jobs.SetOutput(testsupport.DefaultOutput(jobs.StageThumbnail, "/w"))); err != nil {
		t.Fatalf("ApplyTask: %v", err)
	}
	if _, err := f.store.ApplyTask(ctx, created.ID, "thumbnail-0", jobs.SetStatus(jobs.StatusCompleted)); err != nil {
		t.Fatalf("ApplyTask: %v", err)
	}

	rec := f.serve(t, http.MethodGet, "/api/jobs/m-get", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	job := decode[api.JobResponse](t, rec).Job
	task := job.Tasks[0]
	if task.Status != "completed" || task.Progress != 100 || task.StartTime == "" || task.EndTime == "" {
		t.Fatalf("unexpected task %+v", task)
	}
	if !strings.Contains(string(task.Output), "thumbnail.jpg") {
		t.Fatalf("output not rendered: %s", task.Output)
	}
	if job.CreatedAt == "" || job.Progress != 100 {
		t.Fatalf("unexpected job %+v", job)
	}

	if rec := f.serve(t, http.MethodGet, "/api/jobs/unknown", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}

func TestListJobsFiltersByStatus(t *testing.T) {
	f := newFixture(t, "")
	testsupport.MustCreateJob(t, f.store, "m-a")
	failed := testsupport.MustCreateJob(t, f.store, "m-b")
	if err := f.store.SetJobStatus(context.Background(), failed.ID, jobs.StatusFailed, "boom"); err != nil {
		t.Fatalf("SetJobStatus: %v", err)
	}

	all := decode[api.JobListResponse](t, f.serve(t, http.MethodGet, "/api/jobs", ""))
	if len(all.Jobs) != 2 {
		t.Fatalf("want 2 jobs, got %d", len(all.Jobs))
	}
	onlyFailed := decode[api.JobListResponse](t, f.serve(t, http.MethodGet, "/api/jobs?status=failed", ""))
	if len(onlyFailed.Jobs) != 1 || onlyFailed.Jobs[0].MediaID != "m-b" || onlyFailed.Jobs[0].Error != "boom" {
		t.Fatalf("unexpected filtered jobs %+v", onlyFailed.Jobs)
	}
	both := decode[api.JobListResponse](t, f.serve(t, http.MethodGet, "/api/jobs?status=failed,pending", ""))
	if len(both.Jobs) != 2 {
		t.Fatalf("want 2 jobs for combined filter, got %d", len(both.Jobs))
	}
	if rec := f.serve(t, http.MethodGet, "/api/jobs?status=stuck", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400 for unknown status, got %d", rec.Code)
	}
}

func TestRetryJob(t *testing.T) {
	f := newFixture(t, "")
	testsupport.MustCreateJob(t, f.store, "m-retry")
	rec := f.serve(t, http.MethodPost, "/api/jobs/m-retry/retry", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d", rec.Code)
	}
	if len(f.trigger.retried) != 1 || f.trigger.retried[0] != "m-retry" {
		t.Fatalf("unexpected retries %v", f.trigger.retried)
	}
	if rec := f.serve(t, http.MethodPost, "/api/jobs/nope/retry", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}

func TestAuthRequiredForJobRoutes(t *testing.T) {
	f := newFixture(t, "secret")
	if rec := f.serve(t, http.MethodGet, "/api/jobs", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 without token, got %d", rec.Code)
	}
	if rec := f.serve(t, http.MethodGet, "/api/jobs", "", "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 with wrong token, got %d", rec.Code)
	}
	if rec := f.serve(t, http.MethodGet, "/api/jobs", "", "Authorization", "Bearer secret"); rec.Code != http.StatusOK {
		t.Fatalf("want 200 with token, got %d", rec.Code)
	}
	if rec := f.serve(t, http.MethodGet, "/api/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health should not require auth, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, "")
	health := decode[api.Health](t, f.serve(t, http.MethodGet, "/api/health", ""))
	if !health.Ready || health.PID != 42 {
		t.Fatalf("unexpected health %+v", health)
	}
	rec := f.serve(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("metrics not served: %d", rec.Code)
	}
}

func TestUnhealthyReturns503(t *testing.T) {
	router := api.NewRouter(api.RouterOptions{
		Health: func(context.Context) api.Health { return api.Health{Ready: false, PID: 1} },
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", rec.Code)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.Wrap(services.ErrValidation, "", "", "bad", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrNotFound, "", "", "gone", nil), http.StatusNotFound},
		{services.Wrap(services.ErrConfiguration, "", "", "no worker", nil), http.StatusUnprocessableEntity},
		{services.Wrap(services.ErrTransient, "", "", "lock", nil), http.StatusServiceUnavailable},
		{services.Wrap(services.ErrPersistence, "", "", "db", nil), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := api.StatusForError(tc.err); got != tc.want {
			t.Fatalf("StatusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestStageHealthSliceSortsByStage(t *testing.T) {
	got := api.StageHealthSlice([]stage.Health{
		stage.Healthy(jobs.StageTranscode),
		stage.Unhealthy(jobs.StageSubtitle, "%s not found", "whisper"),
	})
	if len(got) != 2 || got[0].Name != "subtitle" || got[1].Name != "transcode" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got[0].Ready || got[0].Detail != "whisper not found" || !got[1].Ready {
		t.Fatalf("unexpected health %+v", got)
	}
	if api.StageHealthSlice(nil) != nil {
		t.Fatal("expected nil for no stages")
	}
}
