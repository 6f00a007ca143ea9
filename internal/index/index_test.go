package index

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/smallweb.txt" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("http://b.test/feed\n\n  http://a.test/feed \r\nhttp://b.test/feed\n"))
	}))
	defer srv.Close()

	urls, err := NewClient(srv.URL+"/smallweb.txt", time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"http://b.test/feed", "http://a.test/feed", "http://b.test/feed"}, urls)

	_, err = NewClient(srv.URL+"/other", time.Second).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, err := NewClient(url, time.Second).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDiff(t *testing.T) {
	a := []string{"x", "y", "y", "z"}
	b := []string{"w", "z", "x", "w"}

	added, removed := Diff(a, b)
	assert.Equal(t, []string{"w"}, added)
	assert.Equal(t, []string{"y"}, removed)

	added, removed = Diff(a, a)
	assert.Empty(t, added)
	assert.Empty(t, removed)

	added, removed = Diff(nil, b)
	assert.Equal(t, []string{"w", "x", "z"}, added)
	assert.Empty(t, removed)
}

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedUnique([]string{"c", "a", "b", "a"}))
}

func TestWriteReadFile(t *testing.T) {
	dir := t.TempDir()
	urls := []string{"http://a.test/feed", "http://b.test/feed"}

	txt := filepath.Join(dir, "smallweb.txt")
	require.NoError(t, WriteFile(txt, urls))
	data, err := os.ReadFile(txt)
	require.NoError(t, err)
	assert.Equal(t, "http://a.test/feed\nhttp://b.test/feed\n", string(data))
	got, err := ReadFile(txt)
	require.NoError(t, err)
	assert.Equal(t, urls, got)

	o := filepath.Join(dir, "nested", "smallweb.opml")
	require.NoError(t, WriteFile(o, urls))
	data, err = os.ReadFile(o)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "xmlUrl=\"http://a.test/feed\""))
	got, err = ReadFile(o)
	require.NoError(t, err)
	assert.Equal(t, urls, got)
}
