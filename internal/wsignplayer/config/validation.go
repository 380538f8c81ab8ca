package config

import (
	"fmt"
	"net/url"
	"time"
)

func (c *Config) validate() error {
	if c.Server.BaseURL != "" {
		u, err := url.Parse(c.Server.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid server base URL: %q", c.Server.BaseURL)
		}
	}
	if c.Server.RequestTimeout < time.Second {
		return fmt.Errorf("request timeout must be at least 1s")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.Storage.SafetyMarginPercent < 0 || c.Storage.SafetyMarginPercent > 100 {
		return fmt.Errorf("invalid safety margin: %d%%", c.Storage.SafetyMarginPercent)
	}
	if _, err := c.Storage.QuotaBytes(); err != nil {
		return err
	}
	if _, err := c.Storage.CriticalFreeBytes(); err != nil {
		return err
	}
	switch c.Identity.Backend {
	case "sqlite", "memory", "redis":
	default:
		return fmt.Errorf("unknown identity backend: %q", c.Identity.Backend)
	}
	if c.Sync.ConfigInterval < time.Second || c.Sync.HeartbeatInterval < time.Second {
		return fmt.Errorf("sync intervals must be at least 1s")
	}
	if c.Sync.PairingPollInterval < time.Second {
		return fmt.Errorf("pairing poll interval must be at least 1s")
	}
	if c.Playback.DefaultImageDuration <= 0 {
		return fmt.Errorf("default image duration must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}
	return nil
}
