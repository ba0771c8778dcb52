package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var knownStages = map[string]struct{}{
	"thumbnail":  {},
	"subtitle":   {},
	"enrichment": {},
	"transcode":  {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateBus(); err != nil {
		return err
	}
	if err := c.validateGuard(); err != nil {
		return err
	}
	if err := c.validateSubtitle(); err != nil {
		return err
	}
	if err := c.validateThumbnail(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	switch c.Pipeline.Mode {
	case ModeInProcess, ModeDistributed:
	default:
		return fmt.Errorf("pipeline.mode: unsupported value %q (use %q or %q)", c.Pipeline.Mode, ModeInProcess, ModeDistributed)
	}
	seen := make(map[string]struct{}, len(c.Pipeline.Stages))
	for _, stage := range c.Pipeline.Stages {
		if _, ok := knownStages[stage]; !ok {
			return fmt.Errorf("pipeline.stages: unknown stage %q", stage)
		}
		if _, dup := seen[stage]; dup {
			return fmt.Errorf("pipeline.stages: duplicate stage %q", stage)
		}
		seen[stage] = struct{}{}
	}
	if err := ensurePositiveMap(map[string]int{
		"pipeline.timeouts.thumbnail":  c.Pipeline.Timeouts.Thumbnail,
		"pipeline.timeouts.subtitle":   c.Pipeline.Timeouts.Subtitle,
		"pipeline.timeouts.enrichment": c.Pipeline.Timeouts.Enrichment,
		"pipeline.timeouts.transcode":  c.Pipeline.Timeouts.Transcode,
		"pipeline.max_concurrent_jobs": c.Pipeline.MaxConcurrentJobs,
		"pipeline.reaper_interval":     c.Pipeline.ReaperInterval,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case StoreSQLite:
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			return errors.New("store.sqlite_path must be set when store.driver is sqlite")
		}
	case StorePostgres:
		if strings.TrimSpace(c.Store.PostgresDSN) == "" {
			return errors.New("store.postgres_dsn must be set when store.driver is postgres (or set DATABASE_URL)")
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateBus() error {
	switch c.Bus.Driver {
	case BusMemory:
		if c.Distributed() && c.Store.Driver == StorePostgres {
			return errors.New("bus.driver memory cannot reach workers on other hosts; use amqp with a postgres store")
		}
	case BusAMQP:
		if strings.TrimSpace(c.Bus.AMQPURL) == "" {
			return errors.New("bus.amqp_url must be set when bus.driver is amqp (or set AMQP_URL)")
		}
	default:
		return fmt.Errorf("bus.driver: unsupported value %q", c.Bus.Driver)
	}
	return nil
}

func (c *Config) validateGuard() error {
	switch c.Guard.Driver {
	case GuardLocal:
	case GuardRedis:
		if strings.TrimSpace(c.Guard.RedisAddr) == "" {
			return errors.New("guard.redis_addr must be set when guard.driver is redis (or set REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("guard.driver: unsupported value %q", c.Guard.Driver)
	}
	if c.Guard.LockTTL <= 0 {
		return errors.New("guard.lock_ttl must be positive")
	}
	return nil
}

func (c *Config) validateSubtitle() error {
	weights := []struct {
		key   string
		value float64
	}{
		{"subtitle.extract_weight", c.Subtitle.ExtractWeight},
		{"subtitle.transcribe_weight", c.Subtitle.TranscribeWeight},
		{"subtitle.translate_weight", c.Subtitle.TranslateWeight},
	}
	sum := 0.0
	for _, w := range weights {
		if w.value < 0 || w.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", w.key)
		}
		sum += w.value
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("subtitle weights must sum to 1.0 (got %.4f)", sum)
	}
	return nil
}

func (c *Config) validateThumbnail() error {
	if c.Thumbnail.OffsetSeconds < 0 {
		return errors.New("thumbnail.offset_seconds must be >= 0")
	}
	if c.Thumbnail.Width <= 0 {
		return errors.New("thumbnail.width must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
