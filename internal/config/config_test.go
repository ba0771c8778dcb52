package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"mediaflow/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("MEDIAFLOW_LLM_API_KEY", "test-key")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(tempHome, ".local", "share", "mediaflow", "work")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Store.SQLitePath != filepath.Join(tempHome, ".local", "share", "mediaflow", "mediaflow.db") {
		t.Fatalf("unexpected sqlite path: %q", cfg.Store.SQLitePath)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Fatalf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Distributed() {
		t.Fatal("expected in-process mode by default")
	}
	if got := strings.Join(cfg.Pipeline.Stages, ","); got != "thumbnail,subtitle,enrichment,transcode" {
		t.Fatalf("unexpected default stages: %s", got)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.WorkDir, cfg.Paths.LogDir, filepath.Dir(cfg.Store.SQLitePath)} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "mediaflow.toml")

	type payload struct {
		Pipeline struct {
			Mode     string   `toml:"mode"`
			Stages   []string `toml:"stages"`
			Timeouts struct {
				Subtitle int `toml:"subtitle"`
			} `toml:"timeouts"`
		} `toml:"pipeline"`
		Subtitle struct {
			Languages []string `toml:"languages"`
		} `toml:"subtitle"`
	}
	custom := payload{}
	custom.Pipeline.Mode = " Distributed "
	custom.Pipeline.Stages = []string{"Transcode", "subtitle"}
	custom.Pipeline.Timeouts.Subtitle = 90
	custom.Subtitle.Languages = []string{"ES", "en", "es", " de "}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if !cfg.Distributed() {
		t.Fatalf("expected distributed mode, got %q", cfg.Pipeline.Mode)
	}
	if got := strings.Join(cfg.Pipeline.Stages, ","); got != "transcode,subtitle" {
		t.Fatalf("unexpected stages: %s", got)
	}
	if got := cfg.StageTimeout("subtitle"); got != 90*time.Second {
		t.Fatalf("expected subtitle timeout 90s, got %s", got)
	}
	defaults := config.Default()
	if got := cfg.StageTimeout("thumbnail"); got != defaults.StageTimeout("thumbnail") {
		t.Fatalf("expected thumbnail timeout default, got %s", got)
	}
	if got := strings.Join(cfg.Subtitle.Languages, ","); got != "es,de" {
		t.Fatalf("expected languages deduped without source language, got %s", got)
	}
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MEDIAFLOW_LLM_API_KEY", "")
	os.Unsetenv("MEDIAFLOW_LLM_API_KEY")
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("DATABASE_URL", "postgres://mediaflow@db/mediaflow")
	t.Setenv("AMQP_URL", "amqp://bus:5672/")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "openai-key" {
		t.Errorf("expected OPENAI_API_KEY fallback, got %q", cfg.LLM.APIKey)
	}
	if cfg.Store.PostgresDSN != "postgres://mediaflow@db/mediaflow" {
		t.Errorf("expected DATABASE_URL fallback, got %q", cfg.Store.PostgresDSN)
	}
	if cfg.Bus.AMQPURL != "amqp://bus:5672/" {
		t.Errorf("expected AMQP_URL override, got %q", cfg.Bus.AMQPURL)
	}
	if cfg.Guard.RedisAddr != "redis:6379" {
		t.Errorf("expected REDIS_ADDR override, got %q", cfg.Guard.RedisAddr)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	cfg := config.Default()
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.WorkDir, "mediaflow") {
		t.Fatalf("expected work dir to contain mediaflow, got %q", cfg.Paths.WorkDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config should validate: %v", err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown mode", func(c *config.Config) { c.Pipeline.Mode = "cluster" }},
		{"unknown stage", func(c *config.Config) { c.Pipeline.Stages = []string{"subtitle", "dubbing"} }},
		{"duplicate stage", func(c *config.Config) { c.Pipeline.Stages = []string{"subtitle", "subtitle"} }},
		{"zero timeout", func(c *config.Config) { c.Pipeline.Timeouts.Transcode = 0 }},
		{"postgres without dsn", func(c *config.Config) { c.Store.Driver = config.StorePostgres; c.Store.PostgresDSN = "" }},
		{"unknown bus", func(c *config.Config) { c.Bus.Driver = "kafka" }},
		{"unknown guard", func(c *config.Config) { c.Guard.Driver = "etcd" }},
		{"weights off", func(c *config.Config) { c.Subtitle.TranslateWeight = 0.6 }},
		{"thumbnail width", func(c *config.Config) { c.Thumbnail.Width = 0 }},
	}
	for _, tc := range cases {
		cfg := config.Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestJobDirSanitizesMediaID(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.WorkDir = "/work"
	got := cfg.JobDir("../media 42", "thumbnail")
	want := filepath.Join("/work", ".._media_42", "thumbnail")
	if got != want {
		t.Fatalf("JobDir = %q, want %q", got, want)
	}
}
