// Package rss parses RSS 2.0 feeds, including the iTunes and SoundCloud
// extensions used by podcast and track feeds.
package rss

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"sheet-etl/internal/fetch"
	"sheet-etl/internal/record"
	"sheet-etl/internal/sources/markup"

	"github.com/mmcdole/gofeed"
)

// Parse decodes an RSS document. The declared encoding is honoured.
func Parse(r io.Reader) (*gofeed.Feed, error) {
	feed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}
	return feed, nil
}

// ext returns the first value of a namespaced item element, keyed by the
// prefix the feed declares for it.
func ext(it *gofeed.Item, prefix, name string) string {
	for _, e := range it.Extensions[prefix][name] {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}

// ParseDuration reads itunes:duration, given either in seconds or as
// [[hh:]mm:]ss. ok is false for empty or malformed input.
func ParseDuration(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	total := 0
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

// Options control how feed items become records.
type Options struct {
	// KeyBy is "link" (default) or "guid".
	KeyBy         string
	SnippetLength int
}

// Record converts an item into a source record.
func Record(it *gofeed.Item, opts Options) record.Source {
	key := strings.TrimSpace(it.Link)
	if opts.KeyBy == "guid" {
		key = strings.TrimSpace(it.GUID)
	}

	duration := record.Null()
	if it.ITunesExt != nil {
		if secs, ok := ParseDuration(it.ITunesExt.Duration); ok {
			duration = record.Int(int64(secs))
		}
	}

	return record.Source{Key: key, Fields: record.Fields{
		"title":           record.StringOrNull(strings.TrimSpace(it.Title)),
		"link":            record.StringOrNull(strings.TrimSpace(it.Link)),
		"guid":            record.StringOrNull(strings.TrimSpace(it.GUID)),
		"duration":        duration,
		"content":         record.StringOrNull(strings.TrimSpace(it.Description)),
		"content_snippet": record.StringOrNull(markup.Snippet(it.Description, opts.SnippetLength)),
		"pub_date":        record.DateFromString(it.Published),
		"plays":           record.NumberFromString(ext(it, "soundcloud", "playcount")),
		"comments":        record.NumberFromString(ext(it, "soundcloud", "commentcount")),
	}}
}

// Source fetches feedURL once per iteration and yields its items.
func Source(http *fetch.Client, feedURL string, opts Options) fetch.Source {
	return fetch.Func(func(ctx context.Context, visit func(record.Source) error) error {
		body, err := http.GetBytes(ctx, feedURL, nil)
		if err != nil {
			return err
		}
		feed, err := Parse(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("%s: %w", fetch.Redact(feedURL, nil), err)
		}
		return fetch.Slice(recordsOf(feed, opts)).Each(ctx, visit)
	})
}

func recordsOf(feed *gofeed.Feed, opts Options) []record.Source {
	out := make([]record.Source, 0, len(feed.Items))
	for _, it := range feed.Items {
		out = append(out, Record(it, opts))
	}
	return out
}
