package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"mediaflow/internal/config"
	"mediaflow/internal/deps"
	"mediaflow/internal/services/llm"
)

// CheckLLM verifies that the LLM API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt (no retries).
func CheckLLM(ctx context.Context, name string, cfg config.LLMConfig) Result {
	if cfg.APIKey == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		TimeoutSeconds: 30,
		MaxRetries:     0,
	})
	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeLLMError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable (" + client.Model() + ")"}
}

// CheckReachable runs a backend probe with a 5-second timeout.
func CheckReachable(ctx context.Context, probe Probe) Result {
	if probe.Ping == nil {
		return Result{Name: probe.Name, Passed: true, Detail: "in-process"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := probe.Ping(checkCtx); err != nil {
		return Result{Name: probe.Name, Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	return Result{Name: probe.Name, Passed: true, Detail: "reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the external binaries the enabled stages need.
// The daemon health endpoint and the CLI check command share it.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Required for thumbnails, audio extraction and encoding",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Required by Drapto for media inspection",
			Optional:    !stageEnabled(cfg, "transcode"),
		},
	}
	if stageEnabled(cfg, "subtitle") {
		requirements = append(requirements, deps.Requirement{
			Name:        "Whisper",
			Command:     cfg.Subtitle.WhisperBinary,
			Description: "Required for transcription",
		})
	}
	return deps.CheckBinaries(requirements)
}

// summarizeLLMError produces a human-readable summary for LLM health check failures.
func summarizeLLMError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (LLM API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (LLM API unreachable)"
	}
	if code := llm.StatusCode(err); code != 0 {
		return fmt.Sprintf("health check failed (HTTP %d)", code)
	}
	return err.Error()
}
