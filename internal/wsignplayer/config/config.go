// Package config provides configuration management for the Wrale Signage player
package config

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the player
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Playback PlaybackConfig `mapstructure:"playback" yaml:"playback"`
	Control  ControlConfig  `mapstructure:"control" yaml:"control"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds backend connection settings
type ServerConfig struct {
	// BaseURL is resolved once at startup and injected into the API client
	BaseURL            string        `mapstructure:"baseURL" yaml:"baseURL"`
	RequestTimeout     time.Duration `mapstructure:"requestTimeout" yaml:"requestTimeout"`
	DownloadTimeout    time.Duration `mapstructure:"downloadTimeout" yaml:"downloadTimeout"`
	InsecureSkipVerify bool          `mapstructure:"insecureSkipVerify" yaml:"insecureSkipVerify"`
}

// StorageConfig holds media cache settings
type StorageConfig struct {
	DataDir             string `mapstructure:"dataDir" yaml:"dataDir"`
	CacheDir            string `mapstructure:"cacheDir" yaml:"cacheDir"`
	Quota               string `mapstructure:"quota" yaml:"quota"`
	SafetyMarginPercent int    `mapstructure:"safetyMarginPercent" yaml:"safetyMarginPercent"`
	CriticalFree        string `mapstructure:"criticalFree" yaml:"criticalFree"`
}

// IdentityConfig selects the key-value backend for device identity
type IdentityConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"`
	Path          string `mapstructure:"path" yaml:"path"`
	RedisAddr     string `mapstructure:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `mapstructure:"redisPassword" yaml:"redisPassword"`
	RedisDB       int    `mapstructure:"redisDB" yaml:"redisDB"`
	RedisPrefix   string `mapstructure:"redisPrefix" yaml:"redisPrefix"`
}

// SyncConfig holds the intervals of the background loops
type SyncConfig struct {
	ConfigInterval      time.Duration `mapstructure:"configInterval" yaml:"configInterval"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeatInterval" yaml:"heartbeatInterval"`
	PairingPollInterval time.Duration `mapstructure:"pairingPollInterval" yaml:"pairingPollInterval"`
}

// PlaybackConfig holds playback engine settings
type PlaybackConfig struct {
	DefaultImageDuration time.Duration `mapstructure:"defaultImageDuration" yaml:"defaultImageDuration"`
	ErrorBackoff         time.Duration `mapstructure:"errorBackoff" yaml:"errorBackoff"`
	Prefetch             bool          `mapstructure:"prefetch" yaml:"prefetch"`
}

// ControlConfig holds the local control API settings
type ControlConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// QuotaBytes returns the cache quota in bytes; 0 means bounded only by disk
func (s StorageConfig) QuotaBytes() (int64, error) {
	return parseSize(s.Quota)
}

// CriticalFreeBytes returns the free-space threshold below which storage is critical
func (s StorageConfig) CriticalFreeBytes() (int64, error) {
	return parseSize(s.CriticalFree)
}

func parseSize(v string) (int64, error) {
	if v == "" || v == "0" {
		return 0, nil
	}
	n, err := units.FromHumanSize(v)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", v, err)
	}
	return n, nil
}

// YAML renders the effective configuration
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
