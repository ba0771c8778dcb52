package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAPIUnavailable reports that no daemon API is configured or reachable.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// StatusError is a non-2xx response from the daemon.
type StatusError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the daemon's HTTP trigger API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for bind ("host:port" or a full URL).
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// EnsureJob creates or finds the job for a media id.
func (c *Client) EnsureJob(ctx context.Context, req EnsureJobRequest) (Job, error) {
	var resp JobResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs", nil, req, &resp)
	return resp.Job, err
}

// RetryJob resets and reschedules a failed job.
func (c *Client) RetryJob(ctx context.Context, mediaID string) (Job, error) {
	var resp JobResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(mediaID)+"/retry", nil, nil, &resp)
	return resp.Job, err
}

// GetJob fetches the job for a media id.
func (c *Client) GetJob(ctx context.Context, mediaID string) (Job, error) {
	var resp JobResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(mediaID), nil, nil, &resp)
	return resp.Job, err
}

// ListJobs lists jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses ...string) ([]Job, error) {
	values := url.Values{}
	for _, status := range statuses {
		if trimmed := strings.TrimSpace(status); trimmed != "" {
			values.Add("status", trimmed)
		}
	}
	var resp JobListResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs", values, nil, &resp)
	return resp.Jobs, err
}

// Health fetches daemon health. A 503 still decodes the payload.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusServiceUnavailable && resp.PID != 0 {
		return resp, nil
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var payload ErrorResponse
		if json.Unmarshal(raw, &payload) == nil {
			statusErr.Message = payload.Error
			statusErr.Kind = payload.Kind
		}
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		return statusErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// IsAPIUnavailable reports whether err means the daemon could not be reached.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
