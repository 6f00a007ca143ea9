// Command smallweb mirrors the small web feed index, classifies feeds by
// language and curates an English-only index.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bryan-buckman/smallweb/internal/cache"
	"github.com/bryan-buckman/smallweb/internal/config"
	"github.com/bryan-buckman/smallweb/internal/curate"
	"github.com/bryan-buckman/smallweb/internal/database"
	"github.com/bryan-buckman/smallweb/internal/index"
	"github.com/bryan-buckman/smallweb/internal/lang"
	"github.com/bryan-buckman/smallweb/internal/pipeline"
	"github.com/bryan-buckman/smallweb/internal/reconcile"
	"github.com/bryan-buckman/smallweb/internal/rss"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// DefaultConfigFile is read when present and -config is not given.
const DefaultConfigFile = "smallweb.yaml"

var slogLevel = new(slog.LevelVar)

func init() {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
}

func main() {
	registry := NewCommandRegistry(VersionInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	})
	registerCommands(registry)

	if err := registry.Execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// setupLogging applies the configured level and handler format.
func setupLogging(level, format string) error {
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: slogLevel}
	switch strings.ToLower(format) {
	case "", "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	default:
		return fmt.Errorf("invalid log.format %q", format)
	}
	return nil
}

// loadConfig loads, validates and applies the logging settings.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := setupLogging(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds the components built from one configuration.
type app struct {
	cfg        *config.Config
	store      database.Store
	cache      *cache.Store
	index      *index.Client
	parser     *rss.Parser
	fetcher    *rss.Fetcher
	reconciler *reconcile.Reconciler
	curator    *curate.Curator
	pipeline   *pipeline.Pipeline
}

func newApp(cfg *config.Config) (*app, error) {
	c, err := cache.NewOS(cfg.CacheRoot)
	if err != nil {
		return nil, err
	}
	store, err := database.OpenStore(cfg.Store.Driver, cfg.Store.Path, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	slog.Debug("[main]: store opened", "type", store.DatabaseType())

	src := index.NewClient(cfg.Index.URL, cfg.Index.Timeout)
	parser := rss.NewParser(lang.NewLinguaDetector(cfg.Lang.LowAccuracy))
	fetcher := rss.NewFetcher(c, rss.FetcherOptions{
		Concurrency: cfg.Fetch.Concurrency,
		Timeout:     cfg.Fetch.Timeout,
		UserAgent:   cfg.Fetch.UserAgent,
	})
	rec := reconcile.New(store, c, parser, reconcile.Options{MaxRemovalRatio: cfg.Sync.MaxRemovalRatio})
	cur := curate.New(store, src, fetcher, parser)

	return &app{
		cfg:        cfg,
		store:      store,
		cache:      c,
		index:      src,
		parser:     parser,
		fetcher:    fetcher,
		reconciler: rec,
		curator:    cur,
		pipeline:   pipeline.New(src, rec, fetcher, cur),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("[main]: cannot close store", "error", err)
	}
}

// openApp loads the config at path and builds the components.
func openApp(path string) (*app, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}
