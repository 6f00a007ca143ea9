// Package opml handles importing and exporting OPML subscription lists.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a feed when XMLURL is set, otherwise a group of outlines.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// FeedEntry is a feed found anywhere in the outline tree.
type FeedEntry struct {
	Title string
	URL   string
}

// Parse reads an OPML document and flattens its feeds in document order.
func Parse(r io.Reader) ([]FeedEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []FeedEntry
	var walk func(outlines []Outline)
	walk = func(outlines []Outline) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{
					Title: title,
					URL:   o.XMLURL,
				})
				continue
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return entries, nil
}

// URLs returns the feed URLs of entries.
func URLs(entries []FeedEntry) []string {
	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.URL
	}
	return urls
}

// Export renders entries as a flat OPML 2.0 document.
func Export(title string, entries []FeedEntry) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}
	for _, e := range entries {
		text := e.Title
		if text == "" {
			text = e.URL
		}
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:   text,
			Title:  e.Title,
			Type:   "rss",
			XMLURL: e.URL,
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode opml: %w", err)
	}
	return append([]byte(xml.Header), output...), nil
}

// ExportURLs renders bare feed URLs as OPML.
func ExportURLs(title string, urls []string) ([]byte, error) {
	entries := make([]FeedEntry, len(urls))
	for i, u := range urls {
		entries[i] = FeedEntry{URL: u}
	}
	return Export(title, entries)
}
