package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (WSIGN_SERVER_BASEURL, ...)
const EnvPrefix = "WSIGN"

var (
	// DefaultConfigDirs lists the configuration directories searched in order
	DefaultConfigDirs = []string{
		".",
		"/etc/wrale-signage",
		"/usr/local/etc/wrale-signage",
	}

	// flagKeys maps CLI flag names onto configuration keys
	flagKeys = map[string]string{
		"server":     "server.baseURL",
		"data-dir":   "storage.dataDir",
		"cache-dir":  "storage.cacheDir",
		"log-level":  "logging.level",
		"log-format": "logging.format",
		"listen":     "control.listen",
	}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.baseURL", "")
	v.SetDefault("server.requestTimeout", "15s")
	v.SetDefault("server.downloadTimeout", "10m")
	v.SetDefault("server.insecureSkipVerify", false)

	v.SetDefault("storage.dataDir", defaultDataDir())
	v.SetDefault("storage.cacheDir", "")
	v.SetDefault("storage.quota", "0")
	v.SetDefault("storage.safetyMarginPercent", 10)
	v.SetDefault("storage.criticalFree", "200MB")

	v.SetDefault("identity.backend", "sqlite")
	v.SetDefault("identity.path", "")
	v.SetDefault("identity.redisAddr", "localhost:6379")
	v.SetDefault("identity.redisPassword", "")
	v.SetDefault("identity.redisDB", 0)
	v.SetDefault("identity.redisPrefix", "wsignplayer")

	v.SetDefault("sync.configInterval", "60s")
	v.SetDefault("sync.heartbeatInterval", "30s")
	v.SetDefault("sync.pairingPollInterval", "5s")

	v.SetDefault("playback.defaultImageDuration", "10s")
	v.SetDefault("playback.errorBackoff", "1s")
	v.SetDefault("playback.prefetch", true)

	v.SetDefault("control.enabled", true)
	v.SetDefault("control.listen", "127.0.0.1:8089")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wsignplayer"
	}
	return filepath.Join(home, ".wsignplayer")
}

// Load reads configuration from defaults, an optional YAML file, a .env file,
// WSIGN_* environment variables and the given flags, in increasing precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	// .env is optional and never overrides variables already set
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("wsignplayer")
		v.SetConfigType("yaml")
		for _, dir := range DefaultConfigDirs {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("error binding flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	cfg.applyDerived()

	return &cfg, cfg.validate()
}

// applyDerived fills paths that default relative to the data directory
func (c *Config) applyDerived() {
	if c.Storage.CacheDir == "" {
		c.Storage.CacheDir = filepath.Join(c.Storage.DataDir, "media")
	}
	if c.Identity.Path == "" {
		c.Identity.Path = filepath.Join(c.Storage.DataDir, "identity.db")
	}
}
