package rss

import (
	"bytes"
	"strings"
	"time"

	"github.com/bryan-buckman/smallweb/internal/model"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// LanguageDetector returns an ISO 639-1 code for text, or "" if unknown.
type LanguageDetector interface {
	Detect(text string) string
}

// Parser turns raw feed documents into feed and article records.
type Parser struct {
	detector LanguageDetector
	now      func() time.Time
}

// NewParser creates a parser that tags records with detector.
func NewParser(detector LanguageDetector) *Parser {
	return &Parser{detector: detector, now: time.Now}
}

// Parse extracts the feed and its articles from raw. It never fails: a
// document gofeed cannot read yields a feed with only its id and URL set.
func (p *Parser) Parse(feedURL string, raw []byte) (model.Feed, []model.Article) {
	feed := model.Feed{
		ID:  model.FeedIDFromURL(feedURL),
		URL: feedURL,
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil || parsed == nil {
		return feed, nil
	}

	feed.Title = parsed.Title
	feed.Description = parsed.Description
	feed.Lang = p.detector.Detect(feed.Title + feed.Description)
	feed.FeedType = feedType(parsed)
	feed.License = licenseOf(parsed.Extensions)
	if feed.License == "" {
		feed.License = parsed.Copyright
	}

	now := p.now()
	articles := make([]model.Article, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		link := item.Link
		if link == "" {
			link = item.GUID
		}
		content := item.Description
		if content == "" {
			content = item.Content
		}
		created := now
		if item.PublishedParsed != nil {
			created = *item.PublishedParsed
		}
		articles = append(articles, model.Article{
			URL:          link,
			FeedID:       feed.ID,
			Title:        item.Title,
			Content:      content,
			CreationDate: created,
			Lang:         p.detector.Detect(item.Title + content),
			License:      licenseOf(item.Extensions),
		})
	}
	return feed, articles
}

// feedType renders the syndication format like rss20 or atom10.
func feedType(f *gofeed.Feed) string {
	if f.FeedType == "" {
		return ""
	}
	return strings.ToLower(f.FeedType) + strings.ReplaceAll(f.FeedVersion, ".", "")
}

// licenseOf reads the Creative Commons RSS module's license element.
func licenseOf(exts ext.Extensions) string {
	for _, prefix := range []string{"creativeCommons", "cc"} {
		for _, e := range exts[prefix]["license"] {
			if v := strings.TrimSpace(e.Value); v != "" {
				return v
			}
			if v := e.Attrs["resource"]; v != "" {
				return v
			}
		}
	}
	return ""
}
