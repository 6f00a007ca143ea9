package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/bryan-buckman/smallweb/internal/cache"
	"github.com/bryan-buckman/smallweb/internal/config"
	"github.com/bryan-buckman/smallweb/internal/curate"
	"github.com/bryan-buckman/smallweb/internal/index"
	"github.com/bryan-buckman/smallweb/internal/pipeline"
	"github.com/bryan-buckman/smallweb/internal/rss"
	"github.com/bryan-buckman/smallweb/internal/server"
	"github.com/dustin/go-humanize"
)

// errInvalidFeeds makes validate exit non-zero.
var errInvalidFeeds = errors.New("proposed index adds non-English or unreachable feeds")

func registerCommands(r *CommandRegistry) {
	r.Register(&Command{
		Name:        "sync",
		Description: "Run the full daily sync: prune, download, load and classify",
		Usage:       "smallweb sync [-force] [-date DDMMYYYY]",
		Examples: []string{
			"smallweb sync",
			"smallweb sync -force",
		},
		Run: syncCommand,
	})
	r.Register(&Command{
		Name:        "fetch",
		Description: "Download today's document of every indexed feed into the cache",
		Usage:       "smallweb fetch",
		Run:         fetchCommand,
	})
	r.Register(&Command{
		Name:        "prune",
		Description: "Remove feeds that left the index from the cache and the store",
		Usage:       "smallweb prune [-force]",
		Run:         pruneCommand,
	})
	r.Register(&Command{
		Name:        "load",
		Description: "Parse one day of the cache into the store",
		Usage:       "smallweb load [-date DDMMYYYY]",
		Examples:    []string{"smallweb load -date 05032024"},
		Run:         loadCommand,
	})
	r.Register(&Command{
		Name:        "classify",
		Description: "Assign every feed the majority language of its articles",
		Usage:       "smallweb classify",
		Run:         classifyCommand,
	})
	r.Register(&Command{
		Name:        "non-english",
		Description: "List feeds classified in a language other than English",
		Usage:       "smallweb non-english",
		Run:         nonEnglishCommand,
	})
	r.Register(&Command{
		Name:        "clean",
		Description: "Write the index without its non-English feeds",
		Usage:       "smallweb clean [-o smallweb.txt]",
		Examples: []string{
			"smallweb clean -o smallweb.txt",
			"smallweb clean -o smallweb.opml",
		},
		Run: cleanCommand,
	})
	r.Register(&Command{
		Name:        "diff",
		Description: "Compare two index files, or one file with the live index",
		Usage:       "smallweb diff [old] <new>",
		Examples: []string{
			"smallweb diff proposed.txt",
			"smallweb diff old.txt new.txt",
		},
		Run: diffCommand,
	})
	r.Register(&Command{
		Name:        "validate",
		Description: "Check that feeds added by a proposed index are English",
		Usage:       "smallweb validate <proposed>",
		Examples:    []string{"smallweb validate smallweb.txt"},
		Run:         validateCommand,
	})
	r.Register(&Command{
		Name:        "check",
		Description: "Download feeds now and report whether they are English",
		Usage:       "smallweb check <url>...",
		Run:         checkCommand,
	})
	r.Register(&Command{
		Name:        "serve",
		Description: "Serve the HTTP API and sync on an interval",
		Usage:       "smallweb serve [-addr host:port] [-no-poll]",
		Run:         serveCommand,
	})
	r.Register(&Command{
		Name:        "init",
		Description: "Write a config file with default settings",
		Usage:       "smallweb init [-o smallweb.yaml] -cache-root DIR -store-path DIR",
		Examples:    []string{"smallweb init -cache-root ~/.cache/smallweb -store-path ~/.local/share/smallweb"},
		Run:         initCommand,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func syncCommand(cmd *Command, args []string) error {
	fs, configPath := cmd.NewFlagSet()
	force := fs.Bool("force", false, "skip the removal guard")
	day := fs.String("date", "", "cache day to load (DDMMYYYY), default today")
	fs.Parse(args)

	a, err := openApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	report, err := a.pipeline.Sync(ctx, pipeline.Options{Force: *force, Date: *day})
	if err != nil {
		return err
	}

	t := NewTableWriter(os.Stdout, []string{"STAGE", "RESULT"})
	t.AddRow("index", humanize.Comma(int64(report.IndexSize))+" feeds")
	t.AddRow("prune", humanize.Comma(int64(len(report.Removed)))+" removed")
	t.AddRow("fetch", fmt.Sprintf("%s downloaded, %s cached, %s failed",
		humanize.Comma(int64(report.Fetch.Downloaded)),
		humanize.Comma(int64(report.Fetch.Cached)),
		humanize.Comma(int64(report.Fetch.Failed))))
	t.AddRow("load", fmt.Sprintf("%s feeds, %s articles, %s skipped",
		humanize.Comma(int64(report.Load.Synced)),
		humanize.Comma(int64(report.Load.Articles)),
		humanize.Comma(int64(report.Load.Skipped))))
	t.AddRow("classify", fmt.Sprintf("%s feeds, %s non-English",
		humanize.Comma(int64(report.Classified)),
		humanize.Comma(int64(report.NonEnglish))))
	t.AddRow("duration", report.Duration.Round(time.Second).String())
	t.Print()
	return nil
}

func fetchCommand(cmd *Command, args []string) error {
	fs, configPath := cmd.NewFlagSet()
	fs.Parse(args)

	a, err := openApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	urls, err := a.index.Fetch(ctx)
	if err != nil {
		return err
	}
	stats := a.fetcher.SyncAll(ctx, urls, func(p rss.Progress) {
		if p.Completed%100 == 0 || p.Completed == p.Total {
			fmt.Fprintf(os.Stderr, "\r%s / %s", humanize.Comma(int64(p.Completed)), humanize.Comma(int64(p.Total)))
		}
	})
	fmt.Fprintln(os.Stderr)
	fmt.Printf("%s downloaded, %s already cached, %s failed\n",
		humanize.Comma(int64(stats.Downloaded)), humanize.Comma(int64(stats.Cached)), humanize.Comma(int64(stats.Failed)))
	return ctx.Err()
}

func pruneCommand(cmd *Command, args []string) error {
	fs, configPath := cmd.NewFlagSet()
	force := fs.Bool("force", false, "skip the removal guard")
	fs.Parse(args)

	a, err := openApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	urls, err := a.index.Fetch(context.Background())
	if err != nil {
		return err
	}
	removed, err := a.reconciler.ReconcileRemoved(urls, *force)
	if err != nil {
		return err
	}
	for _, id := range removed {
		fmt.Println(id)
	}
	fmt.Fprintf(os.Stderr, "%s feeds removed\n", humanize.Comma(int64(len(removed))))
	return nil
}

func loadCommand(cmd *Command, args []string) error {
	fs, configPath := cmd.NewFlagSet()
	day := fs.String("date", cache.DateKey(time.Now()), "cache day to load (DDMMYYYY)")
	fs.Parse(args)

	a, err := openApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	urls, err := a.index.Fetch(context.Background())
	if err != nil {
		return err
	}
	stats, err := a.reconciler.SyncFromCache(urls, *day)
	if err != nil {
		return err
	}
	fmt.Printf("%s feeds loaded, %s articles inserted, %s without a cache entry, %s failed\n",
		humanize.Comma(int64(stats.Synced)), humanize.Comma(int64(stats.Articles)),
		humanize.Comma(int64(stats.Skipped)), humanize.Comma(int64(stats.Failed)))

	if stats.Synced == 0 && stats.Skipped > 0 {
		days, err := a.reconciler.CachedDates(urls)
		if err != nil {
			return err
		}
		if len(days) > 0 {
			fmt.Printf("nothing cached for %s; cached days: %s\n", *day, strings.Join(days, ", "))
		}
	}
	return nil
}

func classifyCommand(cmd *Command, args []string) error {
	fs, configPath := cmd.NewFlagSet()
	fs.Parse(args)

	a, err := openApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	votes, err := a.curator.Classify()
	if err != nil {
		return err
	}

	perLang := make(map[string]int)
	for _, l := range votes {
		perLang[l]++
	}
	langs := make([]string, 0, len(perLang))
	for l := range perLang {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		if perLang[langs[i]] != perLang[langs[j]] {
			return perLang[langs[i]] > perLang[langs[j]]
		}
		return langs[i] < langs[j]
	})

	t := NewTableWriter(os.Stdout, []string{"LANG", "FEEDS"})
	for _, l := range langs {
		name := l
		if name == "" {
			name = "(unknown)"
		}
		t.AddRow(name, humanize.Comma(int64(perLang[l])))
	}
	t.Print()
	return nil
}

func nonEnglishCommand(cmd *Command, args []string) error {
	fs, configPath := cmd.NewFlagSet()
	fs.Parse(args)

	a, err := openApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	urls, err := a.curator.NonEnglishFeeds()
	if err != nil {
		return err
	}
	os.Stdout.Write(index.Format(urls))
	return nil
}

func cleanCommand(cmd *Command, args []string) error {
	fs, configPath := cmd.NewFlagSet()
	out := fs.String("o", "smallweb.txt", "output file (.txt or .opml)")
	fs.Parse(args)

	a, err := openApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	urls, err := a.curator.ExportCleanedIndex(context.Background(), *out)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s feeds to %s\n", humanize.Comma(int64(len(urls))), *out)
	return nil
}

func diffCommand(cmd *Command, args []string) error {
	fs, configPath := cmd.NewFlagSet()
	fs.Parse(args)

	var added, removed []string
	switch fs.NArg() {
	case 1:
		proposed, err := index.ReadFile(fs.Arg(0))
		if err != nil {
			return err
		}
		a, err := openApp(*configPath)
		if err != nil {
			return err
		}
		defer a.Close()
		added, removed, err = a.curator.DiffWithLive(context.Background(), proposed)
		if err != nil {
			return err
		}
	case 2:
		before, err := index.ReadFile(fs.Arg(0))
		if err != nil {
			return err
		}
		after, err := index.ReadFile(fs.Arg(1))
		if err != nil {
			return err
		}
		added, removed = curate.Diff(before, after)
	default:
		fs.Usage()
		return fmt.Errorf("diff takes one or two index files")
	}

	for _, u := range removed {
		fmt.Println("-", u)
	}
	for _, u := range added {
		fmt.Println("+", u)
	}
	return nil
}

func validateCommand(cmd *Command, args []string) error {
	fs, configPath := cmd.NewFlagSet()
	fs.Parse(args)
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("validate takes one index file")
	}

	a, err := openApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	invalid, err := a.curator.ValidateNew(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if len(invalid) == 0 {
		fmt.Println("ok: every added feed is English")
		return nil
	}
	for _, u := range invalid {
		fmt.Println(u)
	}
	return fmt.Errorf("%w: %d", errInvalidFeeds, len(invalid))
}

func checkCommand(cmd *Command, args []string) error {
	fs, configPath := cmd.NewFlagSet()
	fs.Parse(args)
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("check takes at least one feed URL")
	}

	a, err := openApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	t := NewTableWriter(os.Stdout, []string{"FEED", "ENGLISH"})
	for _, u := range fs.Args() {
		verdict := "no"
		if a.curator.IsFeedEnglish(ctx, u) {
			verdict = "yes"
		}
		t.AddRow(u, verdict)
	}
	t.Print()
	return nil
}

func serveCommand(cmd *Command, args []string) error {
	fs, configPath := cmd.NewFlagSet()
	addr := fs.String("addr", "", "listen address, overrides server.addr")
	noPoll := fs.Bool("no-poll", false, "serve without the background sync")
	fs.Parse(args)

	a, err := openApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if *addr == "" {
		*addr = a.cfg.Server.Addr
	}
	var poller *pipeline.Poller
	if !*noPoll {
		poller = pipeline.NewPoller(a.pipeline, a.cfg.Sync.Interval, 0)
	}
	srv := server.New(a.store, a.curator, a.pipeline, poller)

	ctx, cancel := signalContext()
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(*addr) }()

	select {
	case err := <-errc:
		if poller != nil {
			poller.Stop()
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("[main]: shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return <-errc
}

func initCommand(cmd *Command, args []string) error {
	fs := flag.NewFlagSet(cmd.Name, flag.ExitOnError)
	fs.Usage = func() {
		cmd.PrintUsage()
		fs.PrintDefaults()
	}
	out := fs.String("o", DefaultConfigFile, "config file to write")
	cacheRoot := fs.String("cache-root", "", "cache directory")
	storePath := fs.String("store-path", "", "database directory")
	overwrite := fs.Bool("overwrite", false, "replace an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*out); err == nil && !*overwrite {
		return fmt.Errorf("%s already exists, use -overwrite to replace it", *out)
	}

	cfg := config.Default()
	cfg.CacheRoot = *cacheRoot
	cfg.Store.Path = *storePath
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg, *out); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", *out)
	return nil
}
