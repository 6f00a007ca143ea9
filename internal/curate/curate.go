// Package curate classifies feeds by language and curates the index.
package curate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bryan-buckman/smallweb/internal/database"
	"github.com/bryan-buckman/smallweb/internal/index"
	"github.com/bryan-buckman/smallweb/internal/lang"
	"github.com/bryan-buckman/smallweb/internal/model"
	"github.com/bryan-buckman/smallweb/internal/rss"
)

// IndexSource provides the current index.
type IndexSource interface {
	Fetch(ctx context.Context) ([]string, error)
}

// Downloader fetches a feed document live.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Curator derives feed languages and English-only views of the index.
type Curator struct {
	store      database.Store
	index      IndexSource
	downloader Downloader
	parser     *rss.Parser
}

// New creates a curator.
func New(store database.Store, src IndexSource, dl Downloader, parser *rss.Parser) *Curator {
	return &Curator{store: store, index: src, downloader: dl, parser: parser}
}

// MajorityLanguage returns the language with the most articles. Ties go to
// the lexicographically smallest code. No articles gives "".
func MajorityLanguage(counts map[string]int) string {
	winner, best := "", 0
	for code, n := range counts {
		if n <= 0 {
			continue
		}
		if n > best || (n == best && code < winner) {
			winner, best = code, n
		}
	}
	return winner
}

// CountLanguages tallies the languages of articles.
func CountLanguages(articles []model.Article) map[string]int {
	counts := make(map[string]int)
	for _, a := range articles {
		counts[a.Lang]++
	}
	return counts
}

// FeedLanguageVotes returns the majority language of every stored feed.
func (c *Curator) FeedLanguageVotes() (map[model.FeedID]string, error) {
	counts, err := c.store.ArticleLanguageCounts()
	if err != nil {
		return nil, err
	}
	votes := make(map[model.FeedID]string, len(counts))
	for id, langs := range counts {
		votes[id] = MajorityLanguage(langs)
	}
	return votes, nil
}

// ApplyLanguageVotes stores each feed's winning language.
func (c *Curator) ApplyLanguageVotes(votes map[model.FeedID]string) error {
	if err := c.store.UpdateFeedLanguages(votes); err != nil {
		return fmt.Errorf("applying language votes: %w", err)
	}
	return nil
}

// Classify computes and applies the language votes in one step.
func (c *Curator) Classify() (map[model.FeedID]string, error) {
	votes, err := c.FeedLanguageVotes()
	if err != nil {
		return nil, err
	}
	return votes, c.ApplyLanguageVotes(votes)
}

// NonEnglishFeeds returns the URLs of feeds classified in a known language
// other than English.
func (c *Curator) NonEnglishFeeds() ([]string, error) {
	return c.store.NonEnglishFeedURLs()
}

// CleanedIndex returns the live index without its non-English feeds, sorted.
// A failed index fetch is an error, never an empty result.
func (c *Curator) CleanedIndex(ctx context.Context) ([]string, error) {
	urls, err := c.index.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	nonEnglish, err := c.NonEnglishFeeds()
	if err != nil {
		return nil, err
	}
	drop := make(map[string]bool, len(nonEnglish))
	for _, u := range nonEnglish {
		drop[u] = true
	}
	kept := make([]string, 0, len(urls))
	for _, u := range urls {
		if !drop[u] {
			kept = append(kept, u)
		}
	}
	return index.SortedUnique(kept), nil
}

// ExportCleanedIndex writes the cleaned index to path and returns it.
func (c *Curator) ExportCleanedIndex(ctx context.Context, path string) ([]string, error) {
	urls, err := c.CleanedIndex(ctx)
	if err != nil {
		return nil, err
	}
	if err := index.WriteFile(path, urls); err != nil {
		return nil, err
	}
	return urls, nil
}

// Diff compares two indexes as sets: added = b - a, removed = a - b, both
// sorted. Diff(a, a) is empty.
func Diff(a, b []string) (added, removed []string) {
	return index.Diff(a, b)
}

// DiffWithLive compares the live index with a proposed one.
func (c *Curator) DiffWithLive(ctx context.Context, proposed []string) (added, removed []string, err error) {
	live, err := c.index.Fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	added, removed = Diff(live, proposed)
	return added, removed, nil
}

// IsFeedEnglish downloads and parses the feed now, bypassing the cache, and
// reports whether most of its articles are English. A feed that cannot be
// downloaded or has no articles is not English.
func (c *Curator) IsFeedEnglish(ctx context.Context, url string) bool {
	raw, err := c.downloader.Download(ctx, url)
	if err != nil {
		slog.Warn("[curate]: cannot download feed", "url", url, "error", err)
		return false
	}
	_, articles := c.parser.Parse(url, raw)
	return MajorityLanguage(CountLanguages(articles)) == lang.English
}

// Validate returns the URLs added by proposed, relative to the live index,
// that are not English feeds. An empty result means proposed is acceptable.
func (c *Curator) Validate(ctx context.Context, proposed []string) ([]string, error) {
	added, _, err := c.DiffWithLive(ctx, proposed)
	if err != nil {
		return nil, err
	}
	var invalid []string
	for _, u := range added {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !c.IsFeedEnglish(ctx, u) {
			invalid = append(invalid, u)
		}
	}
	return invalid, nil
}

// ValidateNew reads a proposed index file (text or OPML) and validates it.
func (c *Curator) ValidateNew(ctx context.Context, path string) ([]string, error) {
	proposed, err := index.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return c.Validate(ctx, proposed)
}
