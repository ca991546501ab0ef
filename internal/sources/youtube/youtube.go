// Package youtube wraps the YouTube Data API v3 endpoints used by the
// video, channel and caption jobs.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"sheet-etl/internal/fetch"
	"sheet-etl/internal/record"
)

const (
	// PageSize is the API maximum for search results and ids per call.
	PageSize = 50
	// MaxSearchResults caps a single search run.
	MaxSearchResults = 25000
)

var ErrNotFound = errors.New("not found")

type Client struct {
	http *fetch.Client
	base string
	key  string
}

// New returns a client for base (https://www.googleapis.com/youtube/v3)
// authenticated with an API key.
func New(http *fetch.Client, base, key string) *Client {
	return &Client{http: http, base: strings.TrimRight(base, "/"), key: key}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	params.Set("key", c.key)
	return c.http.GetJSON(ctx, c.base+path, params, out)
}

// WatchURL is the canonical URL of a video.
func WatchURL(id string) string { return "https://www.youtube.com/watch?v=" + id }

var youtubeHost = regexp.MustCompile(`(?i)(^|\.)youtube\.com$`)

// ParseVideoID extracts the video ID from youtube.com watch URLs and
// youtu.be short links.
func ParseVideoID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	host := u.Hostname()
	switch {
	case strings.EqualFold(host, "youtu.be"):
		id := strings.Trim(u.Path, "/")
		return id, id != ""
	case youtubeHost.MatchString(host):
		if id := u.Query().Get("v"); id != "" {
			return id, true
		}
		if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok && rest != "" {
			return strings.Trim(rest, "/"), true
		}
	}
	return "", false
}

type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

var thumbnailPreference = []string{"maxres", "standard", "high", "medium", "default"}

// BestThumbnail returns the URL of the largest available thumbnail.
func BestThumbnail(thumbs map[string]Thumbnail) string {
	for _, size := range thumbnailPreference {
		if t, ok := thumbs[size]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}

type searchResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		ID struct {
			Kind      string `json:"kind"`
			VideoID   string `json:"videoId"`
			ChannelID string `json:"channelId"`
		} `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			ChannelID   string `json:"channelId"`
			PublishedAt string `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
}

// Search pages through video search results using page tokens, keyed by
// watch URL. max is capped at MaxSearchResults.
func (c *Client) Search(q string, max int) fetch.Source {
	if max <= 0 || max > MaxSearchResults {
		max = MaxSearchResults
	}
	return fetch.Pager{
		Endpoint:   "youtube search",
		PageSize:   PageSize,
		Max:        max,
		TokenPaged: true,
		Fetch: func(ctx context.Context, req fetch.PageRequest) (fetch.Page, error) {
			params := url.Values{
				"q":          {q},
				"part":       {"snippet"},
				"type":       {"video"},
				"maxResults": {strconv.Itoa(req.Size)},
			}
			if req.Token != "" {
				params.Set("pageToken", req.Token)
			}
			var res searchResponse
			if err := c.get(ctx, "/search", params, &res); err != nil {
				return fetch.Page{}, err
			}
			page := fetch.Page{NextToken: res.NextPageToken}
			for _, it := range res.Items {
				if it.ID.VideoID == "" {
					continue
				}
				u := WatchURL(it.ID.VideoID)
				page.Records = append(page.Records, record.Source{Key: u, Fields: record.Fields{
					"url":          record.String(u),
					"video_id":     record.String(it.ID.VideoID),
					"title":        record.StringOrNull(it.Snippet.Title),
					"channel_id":   record.StringOrNull(it.Snippet.ChannelID),
					"published_at": record.DateFromString(it.Snippet.PublishedAt),
				}})
			}
			return page, nil
		},
	}
}

// ResolveHandle finds the channel ID behind a vanity URL such as
// https://www.youtube.com/@name.
func (c *Client) ResolveHandle(ctx context.Context, vanityURL string) (string, error) {
	handle := vanityURL
	if i := strings.LastIndex(handle, "/@"); i >= 0 {
		handle = handle[i+2:]
	}
	handle = strings.Trim(strings.TrimPrefix(strings.TrimSpace(handle), "@"), "/")
	if handle == "" {
		return "", fmt.Errorf("empty channel handle in %q", vanityURL)
	}

	var res searchResponse
	params := url.Values{"q": {handle}, "part": {"snippet"}, "type": {"channel"}, "maxResults": {"1"}}
	if err := c.get(ctx, "/search", params, &res); err != nil {
		return "", err
	}
	for _, it := range res.Items {
		if id := it.ID.ChannelID; id != "" {
			return id, nil
		}
		if id := it.Snippet.ChannelID; id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("channel %q: %w", handle, ErrNotFound)
}

// chunks splits ids into groups of at most PageSize.
func chunks(ids []string) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += PageSize {
		out = append(out, ids[start:min(start+PageSize, len(ids))])
	}
	return out
}

// listResponse is the envelope of the list endpoints.
type listResponse[T any] struct {
	Items []T `json:"items"`
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}
