package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

type VideoSnippet struct {
	Title                string               `json:"title"`
	Description          string               `json:"description"`
	PublishedAt          string               `json:"publishedAt"`
	ChannelID            string               `json:"channelId"`
	ChannelTitle         string               `json:"channelTitle"`
	DefaultAudioLanguage string               `json:"defaultAudioLanguage"`
	Tags                 []string             `json:"tags"`
	Thumbnails           map[string]Thumbnail `json:"thumbnails"`
}

// Statistics counters arrive as decimal strings and are omitted when hidden.
type VideoStatistics struct {
	ViewCount    string `json:"viewCount"`
	LikeCount    string `json:"likeCount"`
	CommentCount string `json:"commentCount"`
}

type Video struct {
	ID             string          `json:"id"`
	Snippet        VideoSnippet    `json:"snippet"`
	Statistics     VideoStatistics `json:"statistics"`
	ContentDetails struct {
		Duration string `json:"duration"`
	} `json:"contentDetails"`
	Status struct {
		PrivacyStatus string `json:"privacyStatus"`
	} `json:"status"`

	// SnippetJSON and StatisticsJSON keep the raw blobs for rows that store
	// them as text.
	SnippetJSON    string `json:"-"`
	StatisticsJSON string `json:"-"`
}

func (v *Video) UnmarshalJSON(b []byte) error {
	type plain Video
	var raw struct {
		plain
		Snippet    json.RawMessage `json:"snippet"`
		Statistics json.RawMessage `json:"statistics"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*v = Video(raw.plain)
	if len(raw.Snippet) > 0 {
		if err := json.Unmarshal(raw.Snippet, &v.Snippet); err != nil {
			return err
		}
	}
	if len(raw.Statistics) > 0 {
		if err := json.Unmarshal(raw.Statistics, &v.Statistics); err != nil {
			return err
		}
	}
	v.SnippetJSON = rawString(raw.Snippet)
	v.StatisticsJSON = rawString(raw.Statistics)
	return nil
}

// Videos looks up videos by ID, PageSize IDs per call. Videos that no longer
// exist are absent from the result. A failed call is logged and skipped; the
// joined errors are returned with whatever the other calls found.
func (c *Client) Videos(ctx context.Context, ids []string) (map[string]Video, error) {
	out := make(map[string]Video, len(ids))
	var errs []error
	for _, chunk := range chunks(ids) {
		var res listResponse[Video]
		params := url.Values{
			"id":   {strings.Join(chunk, ",")},
			"part": {"status,statistics,contentDetails,snippet"},
		}
		if err := c.get(ctx, "/videos", params, &res); err != nil {
			if ctx.Err() != nil {
				return out, errors.Join(append(errs, err)...)
			}
			logrus.Warnf("videos %s..%s skipped: %v", chunk[0], chunk[len(chunk)-1], err)
			errs = append(errs, err)
			continue
		}
		for _, v := range res.Items {
			out[v.ID] = v
		}
	}
	return out, errors.Join(errs...)
}

type ChannelSnippet struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	CustomURL   string               `json:"customUrl"`
	PublishedAt string               `json:"publishedAt"`
	Country     string               `json:"country"`
	Thumbnails  map[string]Thumbnail `json:"thumbnails"`
}

type ChannelStatistics struct {
	SubscriberCount string `json:"subscriberCount"`
	ViewCount       string `json:"viewCount"`
	VideoCount      string `json:"videoCount"`
}

type Channel struct {
	ID          string            `json:"id"`
	Snippet     ChannelSnippet    `json:"snippet"`
	Statistics  ChannelStatistics `json:"statistics"`
	SnippetJSON string            `json:"-"`
}

func (ch *Channel) UnmarshalJSON(b []byte) error {
	type plain Channel
	var raw struct {
		plain
		Snippet json.RawMessage `json:"snippet"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*ch = Channel(raw.plain)
	if len(raw.Snippet) > 0 {
		if err := json.Unmarshal(raw.Snippet, &ch.Snippet); err != nil {
			return err
		}
	}
	ch.SnippetJSON = rawString(raw.Snippet)
	return nil
}

// Channels looks up channels by ID, PageSize IDs per call. Failed calls are
// handled as in Videos.
func (c *Client) Channels(ctx context.Context, ids []string) (map[string]Channel, error) {
	out := make(map[string]Channel, len(ids))
	var errs []error
	for _, chunk := range chunks(ids) {
		var res listResponse[Channel]
		params := url.Values{
			"id":   {strings.Join(chunk, ",")},
			"part": {"snippet,statistics"},
		}
		if err := c.get(ctx, "/channels", params, &res); err != nil {
			if ctx.Err() != nil {
				return out, errors.Join(append(errs, err)...)
			}
			logrus.Warnf("channels %s..%s skipped: %v", chunk[0], chunk[len(chunk)-1], err)
			errs = append(errs, err)
			continue
		}
		for _, ch := range res.Items {
			out[ch.ID] = ch
		}
	}
	return out, errors.Join(errs...)
}

type Caption struct {
	ID      string `json:"id"`
	Snippet struct {
		Language  string `json:"language"`
		TrackKind string `json:"trackKind"`
		Name      string `json:"name"`
	} `json:"snippet"`
}

// Captions lists the caption tracks of a video.
func (c *Client) Captions(ctx context.Context, videoID string) ([]Caption, error) {
	var res listResponse[Caption]
	params := url.Values{"part": {"snippet"}, "videoId": {videoID}}
	if err := c.get(ctx, "/captions", params, &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// Subtitle downloads a caption track in SRT format.
func (c *Client) Subtitle(ctx context.Context, captionID string) (string, error) {
	params := url.Values{"tfmt": {"srt"}, "key": {c.key}}
	return c.http.GetText(ctx, c.base+"/captions/"+url.PathEscape(captionID), params)
}
