package rss

import (
	"strings"
	"testing"
	"time"

	"github.com/bryan-buckman/smallweb/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// markerDetector reports French for texts mentioning "bonjour", English for
// other non-empty texts.
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

const rssDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:creativeCommons="http://backend.userland.com/creativeCommonsRssModule">
<channel>
  <title>A Blog</title>
  <description>Notes about things</description>
  <link>http://a.test/</link>
  <creativeCommons:license>http://creativecommons.org/licenses/by/4.0/</creativeCommons:license>
  <item>
    <title>First post</title>
    <link>http://a.test/1</link>
    <description>Hello there</description>
    <pubDate>Tue, 05 Mar 2024 10:00:00 +0000</pubDate>
  </item>
  <item>
    <title>Bonjour</title>
    <link>http://a.test/2</link>
    <description>Bonjour tout le monde</description>
  </item>
  <item>
    <title>No link</title>
    <guid>urn:a:3</guid>
  </item>
</channel>
</rss>`

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Blog</title>
  <id>urn:b</id>
  <updated>2024-03-05T10:00:00Z</updated>
  <entry>
    <title>Entry one</title>
    <link href="http://b.test/1"/>
    <id>urn:b:1</id>
    <updated>2024-03-05T10:00:00Z</updated>
    <content type="html">&lt;p&gt;Full content&lt;/p&gt;</content>
  </entry>
</feed>`

func newTestParser(now time.Time) *Parser {
	p := NewParser(markerDetector{})
	p.now = func() time.Time { return now }
	return p
}

func TestParse_RSS(t *testing.T) {
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	p := newTestParser(now)

	feed, articles := p.Parse("http://a.test/feed", []byte(rssDoc))

	assert.Equal(t, model.FeedID("http---a-test-feed"), feed.ID)
	assert.Equal(t, "http://a.test/feed", feed.URL)
	assert.Equal(t, "A Blog", feed.Title)
	assert.Equal(t, "Notes about things", feed.Description)
	assert.Equal(t, "en", feed.Lang)
	assert.Equal(t, "rss20", feed.FeedType)
	assert.Equal(t, "http://creativecommons.org/licenses/by/4.0/", feed.License)

	require.Len(t, articles, 3)
	assert.Equal(t, "http://a.test/1", articles[0].URL)
	assert.Equal(t, "Hello there", articles[0].Content)
	assert.Equal(t, "en", articles[0].Lang)
	assert.True(t, articles[0].CreationDate.Equal(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)))

	assert.Equal(t, "fr", articles[1].Lang)
	assert.Equal(t, now, articles[1].CreationDate, "missing pubDate falls back to parse time")

	assert.Equal(t, "urn:a:3", articles[2].URL)
	assert.Equal(t, "", articles[2].Content)
	for _, a := range articles {
		assert.Equal(t, feed.ID, a.FeedID)
	}
}

func TestParse_AtomContentFallback(t *testing.T) {
	p := newTestParser(time.Now())
	feed, articles := p.Parse("http://b.test/atom", []byte(atomDoc))

	assert.Equal(t, "Atom Blog", feed.Title)
	assert.Equal(t, "", feed.Description)
	assert.Equal(t, "atom10", feed.FeedType)
	require.Len(t, articles, 1)
	assert.Equal(t, "http://b.test/1", articles[0].URL)
	assert.Contains(t, articles[0].Content, "Full content")
}

func TestParse_Malformed(t *testing.T) {
	p := newTestParser(time.Now())
	for _, raw := range [][]byte{nil, []byte("not a feed"), []byte("<html><body>hi</body></html>")} {
		feed, articles := p.Parse("http://c.test/feed", raw)
		assert.Equal(t, model.Feed{ID: "http---c-test-feed", URL: "http://c.test/feed"}, feed)
		assert.Empty(t, articles)
	}
}
