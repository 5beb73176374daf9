package main

import (
	"os"
	"strings"
	"sync"

	"github.com/scriptgen/backend/internal/config"
	"github.com/scriptgen/backend/internal/logger"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	log        *logger.Logger
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureConfig loads the configuration once and installs the process logger.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.log = newLogger(cfg.Logging)
		logger.SetDefault(c.log)
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *logger.Logger {
	if c.log == nil {
		return logger.Default()
	}
	return c.log
}

// Logs go to stderr so command output on stdout stays clean.
func newLogger(cfg config.Logging) *logger.Logger {
	return logger.New(&logger.Config{
		Output: os.Stderr,
		Level:  logger.ParseLevel(cfg.Level),
		Format: logger.Format(cfg.Format),
	})
}
