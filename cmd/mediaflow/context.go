package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiAddress() string {
	if c.apiFlag != nil {
		if addr := strings.TrimSpace(*c.apiFlag); addr != "" {
			return addr
		}
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.Paths.APIBind
	}
	return ""
}

func (c *commandContext) apiClient() (*api.Client, error) {
	token := ""
	if cfg, err := c.ensureConfig(); err == nil {
		token = cfg.Paths.APIToken
	}
	client, err := api.NewClient(c.apiAddress(), token)
	if err != nil {
		return nil, c.wrapAPIError(err)
	}
	return client, nil
}

// wrapAPIError turns connection failures into an actionable message.
func (c *commandContext) wrapAPIError(err error) error {
	if err == nil {
		return nil
	}
	if api.IsAPIUnavailable(err) {
		addr := c.apiAddress()
		if addr == "" {
			return fmt.Errorf("daemon API disabled: set paths.api_bind or pass --api")
		}
		return fmt.Errorf("connect to daemon: %s unreachable; start the daemon with `mediaflow daemon`", addr)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
