// Package pipeline runs the daily sync: reconcile removals, download, load
// and classify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/smallweb/internal/cache"
	"github.com/bryan-buckman/smallweb/internal/curate"
	"github.com/bryan-buckman/smallweb/internal/model"
	"github.com/bryan-buckman/smallweb/internal/reconcile"
	"github.com/bryan-buckman/smallweb/internal/rss"
)

// ErrRunning is returned when a sync is requested while another is running.
var ErrRunning = errors.New("sync already running")

// Options tunes one Sync run.
type Options struct {
	// Force skips the removal guard of reconciliation.
	Force bool
	// Date is the cache day key loaded into the store. Empty means today.
	Date string
}

// Report summarizes one Sync run.
type Report struct {
	IndexSize  int                 `json:"index_size"`
	Removed    []model.FeedID      `json:"removed"`
	Fetch      rss.FetchStats      `json:"fetch"`
	Load       reconcile.SyncStats `json:"load"`
	Classified int                 `json:"classified"`
	NonEnglish int                 `json:"non_english"`
	Duration   time.Duration       `json:"duration"`
}

// Pipeline wires the sync stages together.
type Pipeline struct {
	index      curate.IndexSource
	reconciler *reconcile.Reconciler
	fetcher    *rss.Fetcher
	curator    *curate.Curator

	mu  sync.Mutex
	now func() time.Time
}

// New creates a pipeline.
func New(src curate.IndexSource, rec *reconcile.Reconciler, fetcher *rss.Fetcher, cur *curate.Curator) *Pipeline {
	return &Pipeline{
		index:      src,
		reconciler: rec,
		fetcher:    fetcher,
		curator:    cur,
		now:        time.Now,
	}
}

// Sync fetches the index and brings cache and store in line with it.
// Removals are reconciled before anything is downloaded. When the index
// cannot be fetched, or is empty, nothing changes and an error is returned.
func (p *Pipeline) Sync(ctx context.Context, opts Options) (Report, error) {
	if !p.mu.TryLock() {
		return Report{}, ErrRunning
	}
	defer p.mu.Unlock()

	start := p.now()
	date := opts.Date
	if date == "" {
		date = cache.DateKey(start)
	}

	urls, err := p.index.Fetch(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("fetching index: %w", err)
	}
	if len(urls) == 0 {
		return Report{}, fmt.Errorf("fetching index: %w", reconcile.ErrEmptyIndex)
	}
	report := Report{IndexSize: len(urls)}
	slog.Info("[pipeline]: index fetched", "feeds", len(urls))

	removed, err := p.reconciler.ReconcileRemoved(urls, opts.Force)
	if err != nil {
		return report, fmt.Errorf("reconciling removed feeds: %w", err)
	}
	report.Removed = removed

	report.Fetch = p.fetcher.SyncAll(ctx, urls, nil)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	report.Load, err = p.reconciler.SyncFromCache(urls, date)
	if err != nil {
		return report, fmt.Errorf("loading cache: %w", err)
	}

	votes, err := p.curator.Classify()
	if err != nil {
		return report, fmt.Errorf("classifying feeds: %w", err)
	}
	report.Classified = len(votes)

	nonEnglish, err := p.curator.NonEnglishFeeds()
	if err != nil {
		return report, fmt.Errorf("listing non-English feeds: %w", err)
	}
	report.NonEnglish = len(nonEnglish)
	report.Duration = p.now().Sub(start)

	slog.Info("[pipeline]: sync complete",
		"removed", len(report.Removed),
		"downloaded", report.Fetch.Downloaded,
		"failed", report.Fetch.Failed,
		"articles", report.Load.Articles,
		"non_english", report.NonEnglish,
		"duration", report.Duration)
	return report, nil
}
