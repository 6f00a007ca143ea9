// Package reconcile keeps the cache and the database in line with the index.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bryan-buckman/smallweb/internal/cache"
	"github.com/bryan-buckman/smallweb/internal/database"
	"github.com/bryan-buckman/smallweb/internal/model"
	"github.com/bryan-buckman/smallweb/internal/rss"
)

var (
	// ErrEmptyIndex refuses removal reconciliation against an empty index.
	ErrEmptyIndex = errors.New("index is empty")
	// ErrRemovalGuard refuses removing a larger share of feeds than allowed.
	ErrRemovalGuard = errors.New("removal exceeds the allowed share of known feeds")
)

// Options tunes removal reconciliation.
type Options struct {
	// MaxRemovalRatio is the largest share of known feeds one run may remove
	// without Force. Zero disables the check.
	MaxRemovalRatio float64
}

// Reconciler syncs parsed cache entries into the store and drops feeds
// that left the index.
type Reconciler struct {
	store  database.Store
	cache  *cache.Store
	parser *rss.Parser
	opts   Options
}

// New creates a reconciler.
func New(store database.Store, c *cache.Store, parser *rss.Parser, opts Options) *Reconciler {
	return &Reconciler{store: store, cache: c, parser: parser, opts: opts}
}

// ReconcileRemoved deletes the cache and database rows of every known feed
// whose id is not derived from a URL of index. It returns the removed ids.
// Unless force is set, an empty index or a removal above MaxRemovalRatio
// is refused and nothing is deleted.
func (r *Reconciler) ReconcileRemoved(index []string, force bool) ([]model.FeedID, error) {
	if len(index) == 0 && !force {
		return nil, ErrEmptyIndex
	}

	cached, err := r.cache.FeedIDs()
	if err != nil {
		return nil, err
	}
	stored, err := r.store.FeedIDs()
	if err != nil {
		return nil, err
	}

	known := make(map[model.FeedID]bool, len(cached)+len(stored))
	inCache := make(map[model.FeedID]bool, len(cached))
	for _, id := range cached {
		known[id] = true
		inCache[id] = true
	}
	for _, id := range stored {
		known[id] = true
	}

	wanted := model.IDsFromURLs(index)
	var stale []model.FeedID
	for id := range known {
		if _, ok := wanted[id]; !ok {
			stale = append(stale, id)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	if len(stale) == 0 {
		return nil, nil
	}

	if !force && r.opts.MaxRemovalRatio > 0 {
		ratio := float64(len(stale)) / float64(len(known))
		if ratio > r.opts.MaxRemovalRatio {
			return nil, fmt.Errorf("%w: %d of %d feeds (limit %.0f%%)",
				ErrRemovalGuard, len(stale), len(known), r.opts.MaxRemovalRatio*100)
		}
	}

	removed := make([]model.FeedID, 0, len(stale))
	for _, id := range stale {
		if inCache[id] {
			if err := r.cache.Purge(id); err != nil {
				slog.Error("[reconcile]: cannot purge cache", "feed_id", id, "error", err)
				continue
			}
		}
		if err := r.store.DeleteFeed(id); err != nil {
			slog.Error("[reconcile]: cannot delete feed", "feed_id", id, "error", err)
			continue
		}
		slog.Info("[reconcile]: removed feed", "feed_id", id)
		removed = append(removed, id)
	}
	return removed, nil
}

// CachedDates returns the day keys cached for any feed of index, oldest first.
func (r *Reconciler) CachedDates(index []string) ([]string, error) {
	seen := make(map[string]time.Time)
	for id := range model.IDsFromURLs(index) {
		if !model.ValidFeedID(id) {
			continue
		}
		dates, err := r.cache.Dates(id)
		if err != nil {
			return nil, err
		}
		for _, d := range dates {
			if _, ok := seen[d]; ok {
				continue
			}
			t, err := time.Parse(cache.DateLayout, d)
			if err != nil {
				continue
			}
			seen[d] = t
		}
	}
	days := make([]string, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return seen[days[i]].Before(seen[days[j]]) })
	return days, nil
}

// SyncStats summarizes a SyncFromCache run.
type SyncStats struct {
	Total    int `json:"total"`
	Synced   int `json:"synced"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Articles int `json:"articles"`
}

// SyncFromCache parses the cache entry of date for every feed of index and
// inserts what is not yet stored. Feeds without an entry are skipped; a
// failing feed is logged and does not stop the batch.
func (r *Reconciler) SyncFromCache(index []string, date string) (SyncStats, error) {
	if _, err := time.Parse(cache.DateLayout, date); err != nil {
		return SyncStats{}, fmt.Errorf("invalid date %q: %w", date, err)
	}

	stats := SyncStats{}
	seen := make(map[model.FeedID]bool, len(index))
	for _, u := range index {
		id := model.FeedIDFromURL(u)
		if seen[id] {
			continue
		}
		seen[id] = true
		stats.Total++

		raw, err := r.cache.Read(id, date)
		if errors.Is(err, cache.ErrNotFound) {
			stats.Skipped++
			continue
		}
		if err != nil {
			slog.Warn("[reconcile]: cannot read cache", "url", u, "error", err)
			stats.Failed++
			continue
		}

		feed, articles := r.parser.Parse(u, raw)
		if _, err := r.store.InsertFeed(feed); err != nil {
			slog.Warn("[reconcile]: cannot insert feed", "url", u, "error", err)
			stats.Failed++
			continue
		}
		n, err := r.store.InsertArticles(articles)
		if err != nil {
			slog.Warn("[reconcile]: cannot insert articles", "url", u, "error", err)
			stats.Failed++
			continue
		}
		stats.Synced++
		stats.Articles += n

		if stats.Total%50 == 0 {
			slog.Info("[reconcile]: progress", "processed", stats.Total, "total", len(index))
		}
	}
	return stats, nil
}
