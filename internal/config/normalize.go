package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeBus()
	c.normalizeGuard()
	c.normalizeLLM()
	c.normalizeSubtitle()
	c.normalizeEnrichment()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("MEDIAFLOW_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Mode = strings.ToLower(strings.TrimSpace(c.Pipeline.Mode))
	if c.Pipeline.Mode == "" {
		c.Pipeline.Mode = ModeInProcess
	}
	stages := make([]string, 0, len(c.Pipeline.Stages))
	for _, stage := range c.Pipeline.Stages {
		if normalized := strings.ToLower(strings.TrimSpace(stage)); normalized != "" {
			stages = append(stages, normalized)
		}
	}
	if len(stages) == 0 {
		stages = DefaultStages()
	}
	c.Pipeline.Stages = stages
	if c.Pipeline.MaxConcurrentJobs <= 0 {
		c.Pipeline.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
	if c.Pipeline.ReaperInterval <= 0 {
		c.Pipeline.ReaperInterval = defaultReaperInterval
	}
	if c.Pipeline.TimeoutGrace < 0 {
		c.Pipeline.TimeoutGrace = 0
	}
}

func (c *Config) normalizeStore() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = StoreSQLite
	}
	var err error
	if strings.TrimSpace(c.Store.SQLitePath) == "" {
		c.Store.SQLitePath = defaultSQLitePath
	}
	if c.Store.SQLitePath, err = expandPath(c.Store.SQLitePath); err != nil {
		return fmt.Errorf("store.sqlite_path: %w", err)
	}
	c.Store.PostgresDSN = strings.TrimSpace(c.Store.PostgresDSN)
	if c.Store.PostgresDSN == "" {
		if value, ok := os.LookupEnv(defaultPostgresDSNEnv); ok {
			c.Store.PostgresDSN = strings.TrimSpace(value)
		}
	}
	if c.Store.MaxConns <= 0 {
		c.Store.MaxConns = defaultStoreMaxConns
	}
	return nil
}

func (c *Config) normalizeBus() {
	c.Bus.Driver = strings.ToLower(strings.TrimSpace(c.Bus.Driver))
	if c.Bus.Driver == "" {
		c.Bus.Driver = BusMemory
	}
	if value, ok := os.LookupEnv(defaultAMQPURLEnv); ok && strings.TrimSpace(value) != "" {
		c.Bus.AMQPURL = strings.TrimSpace(value)
	}
	c.Bus.AMQPURL = strings.TrimSpace(c.Bus.AMQPURL)
	if c.Bus.AMQPURL == "" {
		c.Bus.AMQPURL = defaultAMQPURL
	}
	c.Bus.Exchange = strings.TrimSpace(c.Bus.Exchange)
	if c.Bus.Exchange == "" {
		c.Bus.Exchange = defaultExchange
	}
	if c.Bus.Prefetch <= 0 {
		c.Bus.Prefetch = defaultPrefetch
	}
	if c.Bus.Consumers <= 0 {
		c.Bus.Consumers = defaultConsumers
	}
}

func (c *Config) normalizeGuard() {
	c.Guard.Driver = strings.ToLower(strings.TrimSpace(c.Guard.Driver))
	if c.Guard.Driver == "" {
		c.Guard.Driver = GuardLocal
	}
	if value, ok := os.LookupEnv(defaultRedisAddrEnv); ok && strings.TrimSpace(value) != "" {
		c.Guard.RedisAddr = strings.TrimSpace(value)
	}
	c.Guard.RedisAddr = strings.TrimSpace(c.Guard.RedisAddr)
	if c.Guard.RedisAddr == "" {
		c.Guard.RedisAddr = defaultRedisAddr
	}
	if c.Guard.LockTTL <= 0 {
		c.Guard.LockTTL = defaultLockTTL
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv(defaultLLMAPIKeyEnv); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv(defaultLLMAPIKeyFallbackEnv); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.MaxRetries < 0 {
		c.LLM.MaxRetries = 0
	}
}

func (c *Config) normalizeSubtitle() {
	c.Subtitle.WhisperBinary = strings.TrimSpace(c.Subtitle.WhisperBinary)
	if c.Subtitle.WhisperBinary == "" {
		c.Subtitle.WhisperBinary = defaultWhisperBinary
	}
	c.Subtitle.WhisperModel = strings.TrimSpace(c.Subtitle.WhisperModel)
	if c.Subtitle.WhisperModel == "" {
		c.Subtitle.WhisperModel = defaultWhisperModel
	}
	c.Subtitle.SourceLanguage = strings.ToLower(strings.TrimSpace(c.Subtitle.SourceLanguage))
	if c.Subtitle.SourceLanguage == "" {
		c.Subtitle.SourceLanguage = defaultSourceLanguage
	}
	langs := make([]string, 0, len(c.Subtitle.Languages))
	seen := make(map[string]struct{}, len(c.Subtitle.Languages))
	for _, lang := range c.Subtitle.Languages {
		normalized := strings.ToLower(strings.TrimSpace(lang))
		if normalized == "" || normalized == c.Subtitle.SourceLanguage {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		langs = append(langs, normalized)
	}
	c.Subtitle.Languages = langs
}

func (c *Config) normalizeEnrichment() {
	if c.Enrichment.MaxTranscriptTokens <= 0 {
		c.Enrichment.MaxTranscriptTokens = defaultMaxTranscriptTokens
	}
	c.Enrichment.TokenEncoding = strings.TrimSpace(c.Enrichment.TokenEncoding)
	if c.Enrichment.TokenEncoding == "" {
		c.Enrichment.TokenEncoding = defaultTokenEncoding
	}
	if c.Enrichment.MaxTags <= 0 {
		c.Enrichment.MaxTags = defaultMaxTags
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	c.Metrics.Namespace = strings.TrimSpace(c.Metrics.Namespace)
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = defaultMetricsNamespace
	}
}
