// Package index reads, writes and compares lists of feed URLs.
package index

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bryan-buckman/smallweb/internal/opml"
)

// DefaultURL is the upstream small web index.
const DefaultURL = "https://raw.githubusercontent.com/kagisearch/smallweb/main/smallweb.txt"

// ErrUnavailable means the index could not be fetched. It must not be read
// as an empty index.
var ErrUnavailable = errors.New("index unavailable")

// Client fetches the remote index.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a client for url with the given request timeout.
func NewClient(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{url: url, client: &http.Client{Timeout: timeout}}
}

// Fetch returns the feed URLs of the remote index in their listed order.
func (c *Client) Fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building index request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s", ErrUnavailable, resp.Status)
	}
	urls, err := Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return urls, nil
}

// Parse reads one URL per line, trimming whitespace and skipping blank lines.
func Parse(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			urls = append(urls, line)
		}
	}
	return urls, sc.Err()
}

// ReadFile reads an index file. Files ending in .opml are read as OPML
// subscription lists, anything else as plain text.
func ReadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index file: %w", err)
	}
	if isOPML(path) {
		entries, err := opml.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return opml.URLs(entries), nil
	}
	return Parse(bytes.NewReader(data))
}

// WriteFile writes urls as a newline-delimited text file, or as OPML when
// path ends in .opml.
func WriteFile(path string, urls []string) error {
	var data []byte
	if isOPML(path) {
		out, err := opml.ExportURLs("Small Web", urls)
		if err != nil {
			return err
		}
		data = out
	} else {
		data = Format(urls)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating index directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing index file: %w", err)
	}
	return nil
}

// Format renders urls one per line with a trailing newline.
func Format(urls []string) []byte {
	var b bytes.Buffer
	for _, u := range urls {
		b.WriteString(u)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func isOPML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".opml")
}

// Diff compares two indexes as sets: added = b - a, removed = a - b.
// Both results are sorted and free of duplicates.
func Diff(a, b []string) (added, removed []string) {
	setA := toSet(a)
	setB := toSet(b)
	for u := range setB {
		if _, ok := setA[u]; !ok {
			added = append(added, u)
		}
	}
	for u := range setA {
		if _, ok := setB[u]; !ok {
			removed = append(removed, u)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// SortedUnique returns a sorted copy of urls without duplicates.
func SortedUnique(urls []string) []string {
	set := toSet(urls)
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func toSet(urls []string) map[string]struct{} {
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	return set
}
