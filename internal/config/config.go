package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// StageTimeouts holds the maximum running duration of each stage, in seconds.
type StageTimeouts struct {
	Thumbnail  int `toml:"thumbnail"`
	Subtitle   int `toml:"subtitle"`
	Enrichment int `toml:"enrichment"`
	Transcode  int `toml:"transcode"`
}

// Pipeline controls stage selection, execution mode, and the timeout policy.
type Pipeline struct {
	Mode              string        `toml:"mode"`
	Stages            []string      `toml:"stages"`
	MaxConcurrentJobs int           `toml:"max_concurrent_jobs"`
	ReaperInterval    int           `toml:"reaper_interval"`
	TimeoutGrace      int           `toml:"timeout_grace"`
	Timeouts          StageTimeouts `toml:"timeouts"`
}

// Store selects the job/task store backend.
type Store struct {
	Driver      string `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
	MaxConns    int    `toml:"max_conns"`
}

// Bus selects the message bus used by distributed mode.
type Bus struct {
	Driver    string `toml:"driver"`
	AMQPURL   string `toml:"amqp_url"`
	Exchange  string `toml:"exchange"`
	Prefetch  int    `toml:"prefetch"`
	Consumers int    `toml:"consumers"`
}

// Guard selects the per-job dispatch lock.
type Guard struct {
	Driver        string `toml:"driver"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	LockTTL       int    `toml:"lock_ttl"`
}

// LLM contains shared LLM connection settings used by the subtitle and
// enrichment stages.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// Thumbnail configures the frame grab stage.
type Thumbnail struct {
	OffsetSeconds float64 `toml:"offset_seconds"`
	Width         int     `toml:"width"`
}

// Subtitle configures transcription and translation.
type Subtitle struct {
	WhisperBinary    string   `toml:"whisper_binary"`
	WhisperModel     string   `toml:"whisper_model"`
	SourceLanguage   string   `toml:"source_language"`
	Languages        []string `toml:"languages"`
	ExtractWeight    float64  `toml:"extract_weight"`
	TranscribeWeight float64  `toml:"transcribe_weight"`
	TranslateWeight  float64  `toml:"translate_weight"`
}

// Enrichment configures the AI enrichment stage.
type Enrichment struct {
	MaxTranscriptTokens int    `toml:"max_transcript_tokens"`
	TokenEncoding       string `toml:"token_encoding"`
	MaxTags             int    `toml:"max_tags"`
}

// Transcode configures the Drapto encode stage.
type Transcode struct {
	Responsive    bool `toml:"responsive"`
	WriteChapters bool `toml:"write_chapters"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics controls the Prometheus endpoint.
type Metrics struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Config encapsulates all configuration values for mediaflow.
//
// Configuration sections by subsystem:
//   - Paths: working/log directories and API bind address
//   - Pipeline: stage list, execution mode, concurrency, timeouts
//   - Store, Bus, Guard: persistence and distributed dispatch backends
//   - LLM: OpenAI-compatible endpoint shared by subtitle and enrichment
//   - Thumbnail, Subtitle, Enrichment, Transcode: per-stage settings
//   - Logging, Metrics: observability
type Config struct {
	Paths      Paths      `toml:"paths"`
	Pipeline   Pipeline   `toml:"pipeline"`
	Store      Store      `toml:"store"`
	Bus        Bus        `toml:"bus"`
	Guard      Guard      `toml:"guard"`
	LLM        LLM        `toml:"llm"`
	Thumbnail  Thumbnail  `toml:"thumbnail"`
	Subtitle   Subtitle   `toml:"subtitle"`
	Enrichment Enrichment `toml:"enrichment"`
	Transcode  Transcode  `toml:"transcode"`
	Logging    Logging    `toml:"logging"`
	Metrics    Metrics    `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediaflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon and worker operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Store.Driver == StoreSQLite {
		if err := os.MkdirAll(filepath.Dir(c.Store.SQLitePath), 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	return nil
}

// StageTimeout returns the maximum running duration for the named stage.
// Unknown stages fall back to the longest configured timeout.
func (c *Config) StageTimeout(stage string) time.Duration {
	t := c.Pipeline.Timeouts
	var seconds int
	switch strings.ToLower(strings.TrimSpace(stage)) {
	case "thumbnail":
		seconds = t.Thumbnail
	case "subtitle":
		seconds = t.Subtitle
	case "enrichment":
		seconds = t.Enrichment
	case "transcode":
		seconds = t.Transcode
	default:
		seconds = max(t.Thumbnail, t.Subtitle, t.Enrichment, t.Transcode)
	}
	return time.Duration(seconds) * time.Second
}

// TimeoutGrace returns the slack the reaper allows past a stage timeout.
func (c *Config) TimeoutGrace() time.Duration {
	return time.Duration(c.Pipeline.TimeoutGrace) * time.Second
}

// ReaperInterval returns how often the timeout reaper scans for stuck tasks.
func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.Pipeline.ReaperInterval) * time.Second
}

// Distributed reports whether tasks are dispatched over the message bus.
func (c *Config) Distributed() bool {
	return c.Pipeline.Mode == ModeDistributed
}

// JobDir returns the per-media working directory for stage outputs.
func (c *Config) JobDir(mediaID, stage string) string {
	return filepath.Join(c.Paths.WorkDir, sanitizeSegment(mediaID), stage)
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "mediaflow.lock")
}

// FFmpegBinary returns the ffmpeg executable name used by the media stages.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media validation.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// LLMConfig contains common LLM settings used across stages.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
	MaxRetries     int
}

// GetLLM returns the shared LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
		MaxRetries:     c.LLM.MaxRetries,
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func sanitizeSegment(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return "_"
	}
	return out
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
