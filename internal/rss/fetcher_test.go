package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bryan-buckman/smallweb/internal/cache"
	"github.com/bryan-buckman/smallweb/internal/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFeedServer(t *testing.T, hits *sync.Map) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := hits.LoadOrStore(r.URL.Path, new(int))
		*(n.(*int))++
		switch r.URL.Path {
		case "/ok", "/other":
			w.Write([]byte(rssDoc))
		case "/gone":
			http.Error(w, "gone", http.StatusGone)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncAll(t *testing.T) {
	var hits sync.Map
	srv := newFeedServer(t, &hits)
	store := cache.New(afero.NewMemMapFs())
	f := NewFetcher(store, FetcherOptions{Concurrency: 2, UserAgent: "test"})
	day := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return day }

	urls := []string{srv.URL + "/ok", srv.URL + "/gone", srv.URL + "/other"}
	var reports []Progress
	stats := f.SyncAll(context.Background(), urls, func(p Progress) { reports = append(reports, p) })

	assert.Equal(t, FetchStats{Total: 3, Downloaded: 2, Failed: 1}, stats)
	require.Len(t, reports, 3)
	assert.Equal(t, 3, reports[2].Completed)
	assert.Equal(t, 3, reports[2].Total)

	data, err := store.Read(model.FeedIDFromURL(srv.URL+"/ok"), "05032024")
	require.NoError(t, err)
	assert.Equal(t, rssDoc, string(data))
	assert.False(t, store.Exists(model.FeedIDFromURL(srv.URL+"/gone"), "05032024"))

	// A second run the same day does not hit the network for cached feeds.
	stats = f.SyncAll(context.Background(), urls, nil)
	assert.Equal(t, FetchStats{Total: 3, Cached: 2, Failed: 1}, stats)
	n, _ := hits.Load("/ok")
	assert.Equal(t, 1, *(n.(*int)))
}

func TestSyncAll_Empty(t *testing.T) {
	f := NewFetcher(cache.New(afero.NewMemMapFs()), FetcherOptions{})
	assert.Equal(t, FetchStats{}, f.SyncAll(context.Background(), nil, nil))
}

func TestDownload(t *testing.T) {
	var hits sync.Map
	srv := newFeedServer(t, &hits)
	f := NewFetcher(cache.New(afero.NewMemMapFs()), FetcherOptions{})

	body, err := f.Download(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, rssDoc, string(body))

	_, err = f.Download(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "404")
}

func TestDownload_SizeLimit(t *testing.T) {
	var hits sync.Map
	srv := newFeedServer(t, &hits)

	exact := NewFetcher(cache.New(afero.NewMemMapFs()), FetcherOptions{MaxDocumentSize: int64(len(rssDoc))})
	body, err := exact.Download(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, rssDoc, string(body))

	c := cache.New(afero.NewMemMapFs())
	small := NewFetcher(c, FetcherOptions{MaxDocumentSize: int64(len(rssDoc)) - 1})
	_, err = small.Download(context.Background(), srv.URL+"/ok")
	assert.ErrorIs(t, err, ErrTooLarge)

	// An oversized document is a failure, not a truncated cache entry.
	stats := small.SyncAll(context.Background(), []string{srv.URL + "/ok"}, nil)
	assert.Equal(t, FetchStats{Total: 1, Failed: 1}, stats)
	assert.False(t, c.Exists(model.FeedIDFromURL(srv.URL+"/ok"), cache.DateKey(time.Now())))
}

func TestDomainLimiter_SpacesRequests(t *testing.T) {
	dl := newDomainLimiter()
	ctx := context.Background()

	require.NoError(t, dl.acquire(ctx, "a.test"))
	dl.release("a.test")
	start := time.Now()
	require.NoError(t, dl.acquire(ctx, "a.test"))
	dl.release("a.test")
	assert.GreaterOrEqual(t, time.Since(start), DelayBetweenDomainRequests/2)
}

func TestDomainLimiter_Cancel(t *testing.T) {
	dl := newDomainLimiter()
	for i := 0; i < MaxConcurrencyPerDomain; i++ {
		require.NoError(t, dl.acquire(context.Background(), "a.test"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, dl.acquire(ctx, "a.test"), context.Canceled)
}
