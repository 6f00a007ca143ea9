package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryan-buckman/smallweb/internal/cache"
	"github.com/bryan-buckman/smallweb/internal/curate"
	"github.com/bryan-buckman/smallweb/internal/database"
	"github.com/bryan-buckman/smallweb/internal/index"
	"github.com/bryan-buckman/smallweb/internal/model"
	"github.com/bryan-buckman/smallweb/internal/reconcile"
	"github.com/bryan-buckman/smallweb/internal/rss"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type markerDetector struct{}

func (markerDetector) Detect(text string) string {
	switch {
	case text == "":
		return ""
	case strings.Contains(strings.ToLower(text), "bonjour"):
		return "fr"
	default:
		return "en"
	}
}

func feedDoc(name string, items ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0"?><rss version="2.0"><channel><title>%s</title>`, name)
	for i, it := range items {
		fmt.Fprintf(&b, `<item><title>%s</title><link>http://%s.test/%d</link></item>`, it, name, i)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

// upstream serves both the index and the feeds it lists.
type upstream struct {
	srv        *httptest.Server
	mu         sync.Mutex
	feeds      []string
	status     int
	indexCalls atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{status: http.StatusOK}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/smallweb.txt":
			u.indexCalls.Add(1)
			u.mu.Lock()
			defer u.mu.Unlock()
			if u.status != http.StatusOK {
				w.WriteHeader(u.status)
				return
			}
			for _, f := range u.feeds {
				fmt.Fprintf(w, "%s%s\n", u.srv.URL, f)
			}
		case "/en":
			w.Write([]byte(feedDoc("en", "hello", "world")))
		case "/fr":
			w.Write([]byte(feedDoc("fr", "bonjour", "bonjour encore", "hello")))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) set(status int, feeds ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = status
	u.feeds = feeds
}

type fixture struct {
	up    *upstream
	store *database.DB
	cache *cache.Store
	p     *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	up := newUpstream(t)
	db, err := database.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := cache.New(afero.NewMemMapFs())
	parser := rss.NewParser(markerDetector{})
	src := index.NewClient(up.srv.URL+"/smallweb.txt", 5*time.Second)
	fetcher := rss.NewFetcher(c, rss.FetcherOptions{Concurrency: 2, Timeout: 5 * time.Second})
	rec := reconcile.New(db, c, parser, reconcile.Options{MaxRemovalRatio: 0.5})
	cur := curate.New(db, src, fetcher, parser)
	return &fixture{up: up, store: db, cache: c, p: New(src, rec, fetcher, cur)}
}

func (f *fixture) id(path string) model.FeedID {
	return model.FeedIDFromURL(f.up.srv.URL + path)
}

func TestSync(t *testing.T) {
	f := newFixture(t)
	f.up.set(http.StatusOK, "/en", "/fr", "/missing")

	report, err := f.p.Sync(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.IndexSize)
	assert.Empty(t, report.Removed)
	assert.Equal(t, rss.FetchStats{Total: 3, Downloaded: 2, Failed: 1}, report.Fetch)
	assert.Equal(t, reconcile.SyncStats{Total: 3, Synced: 2, Skipped: 1, Articles: 5}, report.Load)
	assert.Equal(t, 2, report.Classified)
	assert.Equal(t, 1, report.NonEnglish)

	feed, err := f.store.GetFeed(f.id("/fr"))
	require.NoError(t, err)
	assert.Equal(t, "fr", feed.Lang)

	// A second run the same day finds everything cached.
	report, err = f.p.Sync(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fetch.Cached)
	assert.Zero(t, report.Fetch.Downloaded)
}

func TestSync_IndexUnavailable(t *testing.T) {
	f := newFixture(t)
	f.up.set(http.StatusOK, "/en")
	_, err := f.p.Sync(context.Background(), Options{})
	require.NoError(t, err)

	f.up.set(http.StatusInternalServerError)
	_, err = f.p.Sync(context.Background(), Options{})
	assert.ErrorIs(t, err, index.ErrUnavailable)

	ids, err := f.cache.FeedIDs()
	require.NoError(t, err)
	assert.Equal(t, []model.FeedID{f.id("/en")}, ids, "an unavailable index removes nothing")
}

func TestSync_EmptyIndex(t *testing.T) {
	f := newFixture(t)
	f.up.set(http.StatusOK, "/en")
	_, err := f.p.Sync(context.Background(), Options{})
	require.NoError(t, err)

	f.up.set(http.StatusOK)
	_, err = f.p.Sync(context.Background(), Options{Force: true})
	assert.ErrorIs(t, err, reconcile.ErrEmptyIndex)

	_, err = f.store.GetFeed(f.id("/en"))
	assert.NoError(t, err)
}

func TestSync_RemovesBeforeFetching(t *testing.T) {
	f := newFixture(t)
	f.up.set(http.StatusOK, "/en", "/fr")
	_, err := f.p.Sync(context.Background(), Options{})
	require.NoError(t, err)

	f.up.set(http.StatusOK, "/en")
	report, err := f.p.Sync(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, []model.FeedID{f.id("/fr")}, report.Removed)
	assert.Equal(t, 0, report.NonEnglish)

	_, err = f.store.GetFeed(f.id("/fr"))
	assert.ErrorIs(t, err, database.ErrFeedNotFound)
	assert.False(t, f.cache.Exists(f.id("/fr"), cache.DateKey(time.Now())))
}

func TestSync_RemovalGuard(t *testing.T) {
	f := newFixture(t)
	f.up.set(http.StatusOK, "/en", "/fr", "/other")
	_, err := f.p.Sync(context.Background(), Options{})
	require.NoError(t, err)

	// Two of the two stored feeds would go.
	f.up.set(http.StatusOK, "/missing")
	_, err = f.p.Sync(context.Background(), Options{})
	assert.ErrorIs(t, err, reconcile.ErrRemovalGuard)

	report, err := f.p.Sync(context.Background(), Options{Force: true})
	require.NoError(t, err)
	assert.Len(t, report.Removed, 2)
}

func TestSync_ExplicitDate(t *testing.T) {
	f := newFixture(t)
	f.up.set(http.StatusOK, "/en")

	report, err := f.p.Sync(context.Background(), Options{Date: "01011999"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fetch.Downloaded)
	assert.Equal(t, 1, report.Load.Skipped, "today's download is not the requested day")
}

func TestSync_Running(t *testing.T) {
	f := newFixture(t)
	f.p.mu.Lock()
	_, err := f.p.Sync(context.Background(), Options{})
	f.p.mu.Unlock()
	assert.ErrorIs(t, err, ErrRunning)
}

func TestPoller(t *testing.T) {
	f := newFixture(t)
	f.up.set(http.StatusOK, "/en")

	poller := NewPoller(f.p, time.Hour, 10*time.Second)
	poller.Start()
	require.Eventually(t, func() bool {
		_, err := f.store.GetFeed(f.id("/en"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	poller.Stop()
	poller.Stop()

	assert.Equal(t, int32(1), f.up.indexCalls.Load())
}

func TestNewPoller_MinInterval(t *testing.T) {
	p := NewPoller(nil, time.Second, 0)
	assert.Equal(t, MinInterval, p.interval)
	assert.Equal(t, MinInterval, p.timeout)
}
