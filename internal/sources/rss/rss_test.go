package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"

	"github.com/stretchr/testify/require"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd" xmlns:soundcloud="http://soundcloud.com/feedspec">
<channel>
  <title>Tracks</title>
  <item>
    <title>First &amp; best</title>
    <link>https://soundcloud.com/a/first</link>
    <guid isPermaLink="false">tag:soundcloud,2010:tracks/1</guid>
    <pubDate>Mon, 02 Jan 2006 15:04:05 +0000</pubDate>
    <itunes:duration>01:02:03</itunes:duration>
    <soundcloud:playcount>120</soundcloud:playcount>
    <description><![CDATA[<p>Hello <b>world</b>, this is a long description</p>]]></description>
  </item>
  <item>
    <title>Second</title>
    <link>https://soundcloud.com/a/second</link>
    <itunes:duration>95</itunes:duration>
    <description>plain</description>
  </item>
</channel>
</rss>`

func TestParse(t *testing.T) {
	feed, err := Parse(strings.NewReader(feedXML))
	require.NoError(t, err)
	require.Len(t, feed.Items, 2)

	it := feed.Items[0]
	require.Equal(t, "First & best", it.Title)
	require.Equal(t, "01:02:03", it.ITunesExt.Duration)
	require.Equal(t, "120", ext(it, "soundcloud", "playcount"))
}

func TestRecordPrefersPlainTitleOverITunesTitle(t *testing.T) {
	for _, order := range []string{
		`<title>Episode 12: Plain</title><itunes:title>Plain</itunes:title>`,
		`<itunes:title>Plain</itunes:title><title>Episode 12: Plain</title>`,
	} {
		doc := `<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd"><channel><item>` +
			order + `<link>https://example.com/12</link></item></channel></rss>`
		feed, err := Parse(strings.NewReader(doc))
		require.NoError(t, err)
		require.Len(t, feed.Items, 1)

		rec := Record(feed.Items[0], Options{})
		require.Equal(t, "Episode 12: Plain", rec.Fields.Text("title"))
	}
}

func TestRecord(t *testing.T) {
	feed, err := Parse(strings.NewReader(feedXML))
	require.NoError(t, err)

	first := Record(feed.Items[0], Options{SnippetLength: 11})
	require.Equal(t, "https://soundcloud.com/a/first", first.Key)
	require.Equal(t, "Hello world", first.Fields.Text("content_snippet"))
	d, _ := first.Fields.Get("duration").AsInt()
	require.EqualValues(t, 3723, d)
	plays, _ := first.Fields.Get("plays").AsInt()
	require.EqualValues(t, 120, plays)
	date, ok := first.Fields.Get("pub_date").AsDate()
	require.True(t, ok)
	require.Equal(t, 2006, date.Year())

	second := Record(feed.Items[1], Options{KeyBy: "guid"})
	require.Empty(t, second.Key, "no guid means no key")
	require.True(t, second.Fields.Get("plays").IsNull())
	require.True(t, second.Fields.Get("comments").IsNull())
}

func TestParseDuration(t *testing.T) {
	testCases := map[string]int{"95": 95, "1:35": 95, "01:02:03": 3723}
	for in, expected := range testCases {
		got, ok := ParseDuration(in)
		require.True(t, ok, in)
		require.Equal(t, expected, got, in)
	}
	_, ok := ParseDuration("soon")
	require.False(t, ok)
}

func TestSourceIsRestartable(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	src := Source(fetch.NewClient(config.HTTPConfig{Timeout: 5 * time.Second}), srv.URL, Options{})
	for i := 0; i < 2; i++ {
		recs, err := fetch.Collect(context.Background(), src)
		require.NoError(t, err)
		require.Len(t, recs, 2)
	}
	require.Equal(t, 2, calls)
}
