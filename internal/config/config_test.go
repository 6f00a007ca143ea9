package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Fetch.Concurrency)
	assert.Equal(t, 24*time.Hour, cfg.Sync.Interval)
	assert.Equal(t, 0.5, cfg.Sync.MaxRemovalRatio)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.True(t, cfg.Lang.LowAccuracy)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache_root: /var/cache/smallweb
store:
  path: /var/lib/smallweb
fetch:
  concurrency: 12
  timeout: 10s
sync:
  interval: 6h
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/smallweb", cfg.CacheRoot)
	assert.Equal(t, "/var/lib/smallweb", cfg.Store.Path)
	assert.Equal(t, 12, cfg.Fetch.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 6*time.Hour, cfg.Sync.Interval)
	assert.Equal(t, "info", cfg.Log.Level, "unset keys keep their default")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SMALLWEB_CACHE_ROOT", "/tmp/feeds")
	t.Setenv("SMALLWEB_STORE_PATH", "/tmp/db")
	t.Setenv("SMALLWEB_FETCH_CONCURRENCY", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/feeds", cfg.CacheRoot)
	assert.Equal(t, "/tmp/db", cfg.Store.Path)
	assert.Equal(t, 3, cfg.Fetch.Concurrency)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.CacheRoot = "/cache"
		cfg.Store.Path = "/db"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		missing bool
	}{
		{"no cache root", func(c *Config) { c.CacheRoot = "" }, true},
		{"no sqlite path", func(c *Config) { c.Store.Path = "" }, true},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, false},
		{"zero concurrency", func(c *Config) { c.Fetch.Concurrency = 0 }, false},
		{"ratio above one", func(c *Config) { c.Sync.MaxRemovalRatio = 1.5 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.missing {
				assert.ErrorIs(t, err, ErrMissing)
			} else {
				assert.NotErrorIs(t, err, ErrMissing)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.CacheRoot = "/cache"
	cfg.Store.Path = "/db"
	cfg.Sync.Interval = 90 * time.Minute

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "feeds"), expandPath("~/feeds"))
	assert.Equal(t, "/abs", expandPath("/abs"))
	assert.Equal(t, "", expandPath(""))
}
