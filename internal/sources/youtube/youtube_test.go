package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"

	"github.com/stretchr/testify/require"
)

func TestParseVideoID(t *testing.T) {
	testCases := []struct {
		url, expected string
		ok            bool
	}{
		{"https://www.youtube.com/watch?v=abc123", "abc123", true},
		{"https://m.youtube.com/watch?v=abc123&t=10s", "abc123", true},
		{"https://youtube.com/shorts/xyz", "xyz", true},
		{"https://youtu.be/abc123", "abc123", true},
		{"https://notyoutube.com/watch?v=abc123", "", false},
		{"https://www.youtube.com/channel/UC1", "", false},
		{"", "", false},
		{"::not a url", "", false},
	}
	for _, test := range testCases {
		id, ok := ParseVideoID(test.url)
		require.Equal(t, test.ok, ok, test.url)
		require.Equal(t, test.expected, id, test.url)
	}
}

func TestBestThumbnail(t *testing.T) {
	require.Equal(t, "hi", BestThumbnail(map[string]Thumbnail{"default": {URL: "d"}, "high": {URL: "hi"}}))
	require.Equal(t, "max", BestThumbnail(map[string]Thumbnail{"maxres": {URL: "max"}, "high": {URL: "hi"}}))
	require.Equal(t, "", BestThumbnail(nil))
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(fetch.NewClient(config.HTTPConfig{Timeout: 5 * time.Second}), srv.URL, "k")
}

func TestSearchFollowsPageTokens(t *testing.T) {
	var sizes []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "video", q.Get("type"))
		require.Equal(t, "k", q.Get("key"))
		sizes = append(sizes, q.Get("maxResults"))

		start := 0
		if tok := q.Get("pageToken"); tok != "" {
			fmt.Sscanf(tok, "p%d", &start)
		}
		var items []map[string]any
		for i := start; i < start+50; i++ {
			items = append(items, map[string]any{"id": map[string]string{"videoId": fmt.Sprintf("v%d", i)}})
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items, "nextPageToken": fmt.Sprintf("p%d", start+50)})
	})

	recs, err := fetch.Collect(context.Background(), c.Search("cats", 120))
	require.NoError(t, err)
	require.Len(t, recs, 120)
	require.Equal(t, []string{"50", "50", "20"}, sizes)
	require.Equal(t, WatchURL("v119"), recs[119].Key)
}

func TestVideosChunksAndKeepsMissingCountsNull(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		ids := strings.Split(r.URL.Query().Get("id"), ",")
		require.LessOrEqual(t, len(ids), PageSize)
		var items []map[string]any
		for _, id := range ids {
			items = append(items, map[string]any{
				"id":         id,
				"snippet":    map[string]any{"title": "T " + id, "channelId": "UC1"},
				"statistics": map[string]any{"viewCount": "42"},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items})
	})

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
	}
	videos, err := c.Videos(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Len(t, videos, 120)

	v := videos["v7"]
	require.Equal(t, "T v7", v.Snippet.Title)
	require.Equal(t, "42", v.Statistics.ViewCount)
	require.Empty(t, v.Statistics.LikeCount)
	require.Contains(t, v.SnippetJSON, `"channelId":"UC1"`)
}

func TestResolveHandle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "channel", q.Get("type"))
		if q.Get("q") == "nobody" {
			w.Write([]byte(`{"items": []}`))
			return
		}
		require.Equal(t, "somebody", q.Get("q"))
		w.Write([]byte(`{"items": [{"id": {"channelId": "UC42"}}]}`))
	})
	ctx := context.Background()

	id, err := c.ResolveHandle(ctx, "https://www.youtube.com/@somebody")
	require.NoError(t, err)
	require.Equal(t, "UC42", id)

	_, err = c.ResolveHandle(ctx, "https://www.youtube.com/@nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCaptionsAndSubtitle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/captions":
			require.Equal(t, "vid", r.URL.Query().Get("videoId"))
			w.Write([]byte(`{"items": [{"id": "cap1", "snippet": {"language": "en"}}]}`))
		case "/captions/cap1":
			require.Equal(t, "srt", r.URL.Query().Get("tfmt"))
			w.Write([]byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	caps, err := c.Captions(ctx, "vid")
	require.NoError(t, err)
	require.Len(t, caps, 1)
	srt, err := c.Subtitle(ctx, caps[0].ID)
	require.NoError(t, err)
	require.Contains(t, srt, "hi")
}

func TestVideosKeepsChunksAfterAFailedOne(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		ids := strings.Split(r.URL.Query().Get("id"), ",")
		if ids[0] == "v0" {
			http.Error(w, `{"error":"backend"}`, http.StatusInternalServerError)
			return
		}
		var items []map[string]any
		for _, id := range ids {
			items = append(items, map[string]any{"id": id, "snippet": map[string]any{"title": "T " + id}})
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items})
	})

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
	}
	videos, err := c.Videos(context.Background(), ids)
	var statusErr *fetch.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.Status)
	require.Equal(t, 3, calls)
	require.Len(t, videos, 70)
	require.NotContains(t, videos, "v0")
	require.Equal(t, "T v119", videos["v119"].Snippet.Title)
}

func TestChannelsKeepsChunksAfterAFailedOne(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("id"), ",")
		if ids[0] == "UC0" {
			http.Error(w, "", http.StatusServiceUnavailable)
			return
		}
		var items []map[string]any
		for _, id := range ids {
			items = append(items, map[string]any{"id": id, "statistics": map[string]any{"videoCount": "3"}})
		}
		json.NewEncoder(w).Encode(map[string]any{"items": items})
	})

	ids := make([]string, 60)
	for i := range ids {
		ids[i] = fmt.Sprintf("UC%d", i)
	}
	channels, err := c.Channels(context.Background(), ids)
	require.Error(t, err)
	require.Len(t, channels, 10)
	require.Equal(t, "3", channels["UC59"].Statistics.VideoCount)
}
