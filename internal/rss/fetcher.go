// Package rss downloads feeds into the cache and parses them.
package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bryan-buckman/smallweb/internal/cache"
	"github.com/bryan-buckman/smallweb/internal/model"
	"golang.org/x/sync/errgroup"
)

// Concurrency settings
const (
	// DefaultConcurrency is the number of parallel downloads.
	DefaultConcurrency = 5
	// MaxConcurrencyPerDomain limits parallel requests to any single domain
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum delay between requests to the same domain
	DelayBetweenDomainRequests = 500 * time.Millisecond
	// MaxDocumentSize caps the bytes read from one feed.
	MaxDocumentSize = 10 << 20
)

// domainLimiter keeps the pool from hammering a host that serves several feeds.
type domainLimiter struct {
	mu          sync.Mutex
	slots       map[string]chan struct{}
	lastRequest map[string]time.Time
}

func newDomainLimiter() *domainLimiter {
	return &domainLimiter{
		slots:       make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
	}
}

// acquire blocks until the host has a free slot and its spacing delay elapsed.
func (dl *domainLimiter) acquire(ctx context.Context, host string) error {
	dl.mu.Lock()
	slot, ok := dl.slots[host]
	if !ok {
		slot = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.slots[host] = slot
	}
	dl.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	dl.mu.Lock()
	last := dl.lastRequest[host]
	dl.mu.Unlock()
	if last.IsZero() {
		return nil
	}
	if wait := DelayBetweenDomainRequests - time.Since(last); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			<-slot
			return ctx.Err()
		}
	}
	return nil
}

func (dl *domainLimiter) release(host string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[host] = time.Now()
	if slot, ok := dl.slots[host]; ok {
		<-slot
	}
}

func hostOf(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

// ErrTooLarge is returned for a document above the size limit. It is never
// cached truncated.
var ErrTooLarge = errors.New("document exceeds size limit")

// Outcome is what happened to one feed during SyncAll.
type Outcome int

const (
	Downloaded Outcome = iota
	Cached
	Failed
)

// Progress is reported after each feed of SyncAll.
type Progress struct {
	URL       string
	Outcome   Outcome
	Completed int
	Total     int
}

// FetchStats summarizes a SyncAll run.
type FetchStats struct {
	Total      int `json:"total"`
	Downloaded int `json:"downloaded"`
	Cached     int `json:"cached"`
	Failed     int `json:"failed"`
}

// Fetcher downloads feeds into the cache.
type Fetcher struct {
	client      *http.Client
	cache       *cache.Store
	concurrency int
	userAgent   string
	maxSize     int64
	limiter     *domainLimiter
	now         func() time.Time
}

// FetcherOptions configures a Fetcher. Zero values select defaults.
type FetcherOptions struct {
	Concurrency int
	Timeout     time.Duration
	UserAgent   string
	Client      *http.Client

	// MaxDocumentSize caps one document in bytes.
	MaxDocumentSize int64
}

// NewFetcher creates a fetcher writing into store.
func NewFetcher(store *cache.Store, opts FetcherOptions) *Fetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxDocumentSize <= 0 {
		opts.MaxDocumentSize = MaxDocumentSize
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Fetcher{
		client:      client,
		cache:       store,
		concurrency: opts.Concurrency,
		userAgent:   opts.UserAgent,
		maxSize:     opts.MaxDocumentSize,
		limiter:     newDomainLimiter(),
		now:         time.Now,
	}
}

// Download performs one GET of feedURL and returns the body.
// Anything other than 200 OK is an error.
func (f *Fetcher) Download(ctx context.Context, feedURL string) ([]byte, error) {
	host := hostOf(feedURL)
	if err := f.limiter.acquire(ctx, host); err != nil {
		return nil, fmt.Errorf("rate limit cancelled for %s: %w", feedURL, err)
	}
	defer f.limiter.release(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", feedURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %s", feedURL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", feedURL, err)
	}
	if int64(len(body)) > f.maxSize {
		return nil, fmt.Errorf("get %s: %w (%d bytes)", feedURL, ErrTooLarge, f.maxSize)
	}
	return body, nil
}

// fetchOne caches today's document of feedURL unless it is already there.
func (f *Fetcher) fetchOne(ctx context.Context, feedURL string) Outcome {
	id := model.FeedIDFromURL(feedURL)
	date := cache.DateKey(f.now())
	if f.cache.Exists(id, date) {
		return Cached
	}

	body, err := f.Download(ctx, feedURL)
	if err != nil {
		slog.Warn("[fetch]: download failed", "url", feedURL, "error", err)
		return Failed
	}
	wrote, err := f.cache.WriteOnce(id, date, body)
	if err != nil {
		slog.Warn("[fetch]: cache write failed", "url", feedURL, "feed_id", id, "error", err)
		return Failed
	}
	if !wrote {
		return Cached
	}
	return Downloaded
}

// SyncAll downloads today's document of every feed with a bounded worker
// pool. Failures are logged and counted; they are retried on the next run.
// progress may be nil.
func (f *Fetcher) SyncAll(ctx context.Context, urls []string, progress func(Progress)) FetchStats {
	stats := FetchStats{Total: len(urls)}
	if len(urls) == 0 {
		return stats
	}

	slog.Info("[fetch]: downloading feeds", "feeds", len(urls), "concurrency", f.concurrency)

	var (
		mu        sync.Mutex
		completed int
		g         errgroup.Group
	)
	g.SetLimit(f.concurrency)

	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		u := u
		g.Go(func() error {
			outcome := f.fetchOne(ctx, u)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case Downloaded:
				stats.Downloaded++
			case Cached:
				stats.Cached++
			default:
				stats.Failed++
			}
			completed++
			if completed%50 == 0 {
				slog.Info("[fetch]: progress", "completed", completed, "total", len(urls))
			}
			if progress != nil {
				progress(Progress{URL: u, Outcome: outcome, Completed: completed, Total: len(urls)})
			}
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		slog.Warn("[fetch]: cancelled", "completed", completed, "total", len(urls))
	}
	return stats
}
