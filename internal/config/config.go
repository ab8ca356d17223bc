// Package config provides configuration utilities for the application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"aioffice/internal/common"
)

// Config holds the resolved runtime configuration.
type Config struct {
	DatabasePath        string
	OrchestratorURL     string
	ListenAddr          string
	LogLevel            string
	LogFormat           string
	OrchestratorTimeout time.Duration
}

// Load resolves configuration from viper with defaults applied.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:        viper.GetString("database.path"),
		OrchestratorURL:     viper.GetString("orchestrator.url"),
		OrchestratorTimeout: viper.GetDuration("orchestrator.timeout"),
		ListenAddr:          viper.GetString("server.listen"),
		LogLevel:            viper.GetString("logging.level"),
		LogFormat:           viper.GetString("logging.format"),
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "$HOME/.local/share/aioffice/aioffice.db"
	}
	cfg.DatabasePath = ExpandPath(cfg.DatabasePath)

	if cfg.OrchestratorURL == "" {
		cfg.OrchestratorURL = "http://localhost:8000"
	}
	if cfg.OrchestratorTimeout <= 0 {
		cfg.OrchestratorTimeout = 30 * time.Second
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: invalid log level %q", common.ErrInvalidConfig, c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("%w: invalid log format %q", common.ErrInvalidConfig, c.LogFormat)
	}
	if !strings.HasPrefix(c.OrchestratorURL, "http://") && !strings.HasPrefix(c.OrchestratorURL, "https://") {
		return fmt.Errorf("%w: orchestrator url must be http(s)", common.ErrInvalidConfig)
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a file path.
// It handles both ~ for home directory and $VAR style environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}
