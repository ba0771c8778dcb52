package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mediaflow/internal/jobs"
	"mediaflow/internal/logging"
	"mediaflow/internal/services"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 1 << 20

// RouterOptions wires the HTTP trigger API.
type RouterOptions struct {
	Jobs    *JobService
	Health  func(ctx context.Context) Health
	Metrics http.Handler
	Token   string
	Logger  *slog.Logger
}

type handlers struct {
	jobs   *JobService
	health func(ctx context.Context) Health
	logger *slog.Logger
}

// NewRouter builds the chi router serving /api and /metrics. Job routes
// require the bearer token when one is configured; health and metrics stay
// open for probes and scrapers.
func NewRouter(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &handlers{
		jobs:   opts.Jobs,
		health: opts.Health,
		logger: logging.NewComponentLogger(logger, "api-server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestContext)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(strings.TrimSpace(opts.Token)))
			r.Get("/jobs", h.handleListJobs)
			r.Post("/jobs", h.handleEnsureJob)
			r.Get("/jobs/{mediaId}", h.handleGetJob)
			r.Post("/jobs/{mediaId}/retry", h.handleRetryJob)
		})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return r
}

// requestContext carries the chi request id into the service context so
// log lines and dispatches triggered by the request share it.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(services.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		h.writeJSON(w, http.StatusOK, Health{Ready: true})
		return
	}
	payload := h.health(r.Context())
	status := http.StatusOK
	if !payload.Ready {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, payload)
}

func (h *handlers) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []jobs.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			status, ok := jobs.ParseStatus(trimmed)
			if !ok {
				h.writeError(w, services.Wrap(services.ErrValidation, "", "list jobs", "unknown status "+trimmed, nil))
				return
			}
			statuses = append(statuses, status)
		}
	}
	list, err := h.jobs.List(r.Context(), statuses...)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []Job{}
	}
	h.writeJSON(w, http.StatusOK, JobListResponse{Jobs: list})
}

func (h *handlers) handleGetJob(w http.ResponseWriter, r *http.Request) {
	mediaID := chi.URLParam(r, "mediaId")
	job, err := h.jobs.Describe(r.Context(), mediaID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if job == nil {
		h.writeError(w, services.Wrap(services.ErrNotFound, "", "get job", "no job for media "+mediaID, nil))
		return
	}
	h.writeJSON(w, http.StatusOK, JobResponse{Job: *job})
}

func (h *handlers) handleEnsureJob(w http.ResponseWriter, r *http.Request) {
	var req EnsureJobRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		h.writeError(w, services.Wrap(services.ErrValidation, "", "ensure job", "invalid request body", err))
		return
	}
	job, err := h.jobs.Ensure(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("job ensured",
		logging.String(logging.FieldMediaID, job.MediaID),
		logging.String(logging.FieldJobID, job.ID),
		logging.String("status", job.Status),
		logging.String(logging.FieldEventType, "api_job_ensure"),
	)
	h.writeJSON(w, http.StatusAccepted, JobResponse{Job: *job})
}

func (h *handlers) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	mediaID := chi.URLParam(r, "mediaId")
	job, err := h.jobs.Retry(r.Context(), mediaID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("job retry requested",
		logging.String(logging.FieldMediaID, job.MediaID),
		logging.String(logging.FieldJobID, job.ID),
		logging.String("status", job.Status),
		logging.String(logging.FieldEventType, "api_job_retry"),
	)
	h.writeJSON(w, http.StatusAccepted, JobResponse{Job: *job})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("api request failed", logging.Args(logging.ErrorDetails(err)...)...)
	}
	h.writeJSON(w, status, ErrorResponse{Error: services.Message(err), Kind: services.Kind(err)})
}

// StatusForError maps a classified error to an HTTP status code.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
