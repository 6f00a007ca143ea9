// Package model defines shared data structures.
package model

import (
	"strings"
	"time"
	"unicode"
)

// IDSeparator replaces every non alphanumeric character of a feed URL.
const IDSeparator = '-'

// FeedID is the key of a feed in the cache and the database.
type FeedID string

// Feed represents one syndication source of the index.
type Feed struct {
	ID          FeedID `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Lang        string `json:"lang"`      // ISO 639-1, empty if unknown
	FeedType    string `json:"feed_type"` // e.g. rss20, atom10
	License     string `json:"license"`
}

// Article represents a single entry from a feed. URL is its primary key.
type Article struct {
	URL          string    `json:"url"`
	FeedID       FeedID    `json:"feed_id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	CreationDate time.Time `json:"creation_date"`
	Lang         string    `json:"lang"`
	License      string    `json:"license"`
}

// FeedIDFromURL derives the feed id from its URL: letters and numeric
// characters (including ², ½ and Ⅻ) are kept, every other character becomes IDSeparator. Different URLs may
// map to the same id.
func FeedIDFromURL(url string) FeedID {
	var b strings.Builder
	b.Grow(len(url))
	for _, r := range url {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(IDSeparator)
		}
	}
	return FeedID(b.String())
}

// IDsFromURLs returns the set of feed ids implied by an index.
func IDsFromURLs(urls []string) map[FeedID]struct{} {
	ids := make(map[FeedID]struct{}, len(urls))
	for _, u := range urls {
		ids[FeedIDFromURL(u)] = struct{}{}
	}
	return ids
}

// ValidFeedID reports whether id could have been produced by FeedIDFromURL.
func ValidFeedID(id FeedID) bool {
	if id == "" {
		return false
	}
	for _, r := range string(id) {
		if r != IDSeparator && !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}
