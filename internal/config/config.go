// Package config loads the settings shared by every command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bryan-buckman/smallweb/internal/index"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. SMALLWEB_CACHE_ROOT.
const EnvPrefix = "SMALLWEB"

// ErrMissing reports a required setting that is not set.
var ErrMissing = errors.New("missing required setting")

// Config holds every setting of the smallweb commands.
type Config struct {
	CacheRoot string       `mapstructure:"cache_root" yaml:"cache_root"`
	Store     StoreConfig  `mapstructure:"store" yaml:"store"`
	Index     IndexConfig  `mapstructure:"index" yaml:"index"`
	Fetch     FetchConfig  `mapstructure:"fetch" yaml:"fetch"`
	Lang      LangConfig   `mapstructure:"lang" yaml:"lang"`
	Sync      SyncConfig   `mapstructure:"sync" yaml:"sync"`
	Server    ServerConfig `mapstructure:"server" yaml:"server"`
	Log       LogConfig    `mapstructure:"log" yaml:"log"`
}

// StoreConfig selects the database backend and its location.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	DSN    string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

// IndexConfig locates the remote feed index.
type IndexConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// FetchConfig tunes feed downloads.
type FetchConfig struct {
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent   string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// LangConfig tunes language detection.
type LangConfig struct {
	LowAccuracy bool `mapstructure:"low_accuracy" yaml:"low_accuracy"`
}

// SyncConfig tunes the periodic sync and its removal guard.
type SyncConfig struct {
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxRemovalRatio float64       `mapstructure:"max_removal_ratio" yaml:"max_removal_ratio"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig sets the log level (debug, info, warn, error) and format (text, json).
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the configuration used when nothing is set. CacheRoot and
// Store.Path have no default.
func Default() *Config {
	return &Config{
		Store:  StoreConfig{Driver: "sqlite"},
		Index:  IndexConfig{URL: index.DefaultURL, Timeout: 30 * time.Second},
		Fetch:  FetchConfig{Concurrency: 5, Timeout: 30 * time.Second, UserAgent: "smallweb-sync/1.0"},
		Lang:   LangConfig{LowAccuracy: true},
		Sync:   SyncConfig{Interval: 24 * time.Hour, MaxRemovalRatio: 0.5},
		Server: ServerConfig{Addr: "127.0.0.1:8080"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("cache_root", "")
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("index.url", d.Index.URL)
	v.SetDefault("index.timeout", d.Index.Timeout)
	v.SetDefault("fetch.concurrency", d.Fetch.Concurrency)
	v.SetDefault("fetch.timeout", d.Fetch.Timeout)
	v.SetDefault("fetch.user_agent", d.Fetch.UserAgent)
	v.SetDefault("lang.low_accuracy", d.Lang.LowAccuracy)
	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.max_removal_ratio", d.Sync.MaxRemovalRatio)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads the YAML file at path, when given, and applies SMALLWEB_*
// environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.CacheRoot = expandPath(cfg.CacheRoot)
	cfg.Store.Path = expandPath(cfg.Store.Path)
	return cfg, nil
}

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.CacheRoot == "" {
		return fmt.Errorf("%w: cache_root (%s_CACHE_ROOT)", ErrMissing, EnvPrefix)
	}
	switch c.Store.Driver {
	case "", "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store.path (%s_STORE_PATH)", ErrMissing, EnvPrefix)
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn (%s_STORE_DSN)", ErrMissing, EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be at least 1, got %d", c.Fetch.Concurrency)
	}
	if c.Sync.MaxRemovalRatio < 0 || c.Sync.MaxRemovalRatio > 1 {
		return fmt.Errorf("sync.max_removal_ratio must be within [0, 1], got %v", c.Sync.MaxRemovalRatio)
	}
	return nil
}

// Save writes cfg as YAML to path.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
