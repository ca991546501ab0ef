package jobs

import (
	"context"
	"fmt"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"
	"sheet-etl/internal/pipeline"
	"sheet-etl/internal/reconcile"
	"sheet-etl/internal/record"
	"sheet-etl/internal/sources/youtube"
)

func youtubeKey(k config.Keys) error { return needKey(k.YouTube, "YOUTUBE_API_KEY") }

func init() {
	register("youtube-search", entry{
		section: "youtube_search",
		common:  func(j *config.Jobs) config.Common { return j.YouTubeSearch.Common },
		keys:    youtubeKey,
		build: func(d Deps) pipeline.Job {
			cfg := d.Config.Jobs.YouTubeSearch
			return &youtubeSearch{base: base{name: "youtube-search", common: cfg.Common}, cfg: cfg, yt: newYouTube(d)}
		},
	})
	register("youtube-videos", entry{
		section: "youtube_videos",
		common:  func(j *config.Jobs) config.Common { return j.YouTubeVideos.Common },
		keys:    youtubeKey,
		build: func(d Deps) pipeline.Job {
			cfg := d.Config.Jobs.YouTubeVideos
			return &youtubeVideos{base: base{name: "youtube-videos", common: cfg.Common}, cfg: cfg, yt: newYouTube(d)}
		},
	})
	register("youtube-channels", entry{
		section: "youtube_channels",
		common:  func(j *config.Jobs) config.Common { return j.YouTubeChannels.Common },
		keys:    youtubeKey,
		build: func(d Deps) pipeline.Job {
			cfg := d.Config.Jobs.YouTubeChannels
			return &youtubeChannels{base: base{name: "youtube-channels", common: cfg.Common}, cfg: cfg, yt: newYouTube(d)}
		},
	})
	register("youtube-captions", entry{
		section: "youtube_captions",
		common:  func(j *config.Jobs) config.Common { return j.YouTubeCaptions.Common },
		keys:    youtubeKey,
		build: func(d Deps) pipeline.Job {
			cfg := d.Config.Jobs.YouTubeCaptions
			return &youtubeCaptions{base: base{name: "youtube-captions", common: cfg.Common}, cfg: cfg, yt: newYouTube(d)}
		},
	})
}

func newYouTube(d Deps) *youtube.Client {
	return youtube.New(d.HTTP, d.Config.Endpoints.YouTube, d.Config.Keys.YouTube)
}

type youtubeSearch struct {
	base
	cfg config.YouTubeSearchJob
	yt  *youtube.Client
}

func (j *youtubeSearch) Target() pipeline.Target { return j.target("url", pipeline.CreateNew) }

func (j *youtubeSearch) Source(*reconcile.Snapshot) fetch.Source {
	return j.renamed(j.yt.Search(j.cfg.Query, j.cfg.MaxResults))
}

// youtubeVideos fills statistics and snippet fields of rows holding a video
// URL and links each row to its channel.
type youtubeVideos struct {
	base
	cfg config.YouTubeVideosJob
	yt  *youtube.Client
}

func (j *youtubeVideos) Target() pipeline.Target { return j.target("video_url", pipeline.UpdateExisting) }

func (j *youtubeVideos) Source(snap *reconcile.Snapshot) fetch.Source {
	return fetch.Func(func(ctx context.Context, visit func(record.Source) error) error {
		byID := map[string][]record.Destination{}
		var ids []string
		for _, row := range snap.Rows() {
			if j.cfg.SkipExisting && hasAttachments(j.get(row, "thumbnail")) {
				continue
			}
			raw := j.text(row, "video_url")
			id, ok := youtube.ParseVideoID(raw)
			if !ok {
				if raw != "" {
					j.log(row).Warnf("invalid video url %q", raw)
				}
				continue
			}
			if _, seen := byID[id]; !seen {
				ids = append(ids, id)
			}
			byID[id] = append(byID[id], row)
		}

		// Videos returns every chunk that succeeded alongside the error, so
		// those rows are still yielded.
		videos, err := j.yt.Videos(ctx, ids)
		for _, id := range ids {
			v, ok := videos[id]
			if !ok {
				if err == nil {
					logWarn(j.name, id, "video not found")
				}
				continue
			}
			for _, row := range byID[id] {
				rec := record.Source{Key: snap.KeyOf(row), Fields: j.rename(j.fields(v))}
				if verr := visit(rec); verr != nil {
					return verr
				}
			}
		}
		if err != nil {
			return fmt.Errorf("videos: %w", err)
		}
		return nil
	})
}

func (j *youtubeVideos) fields(v youtube.Video) record.Fields {
	f := record.Fields{
		"title":                  record.StringOrNull(v.Snippet.Title),
		"description":            record.StringOrNull(v.Snippet.Description),
		"published_at":           record.DateFromString(v.Snippet.PublishedAt),
		"default_audio_language": record.StringOrNull(v.Snippet.DefaultAudioLanguage),
		"view_count":             record.NumberFromString(v.Statistics.ViewCount),
		"like_count":             record.NumberFromString(v.Statistics.LikeCount),
		"comment_count":          record.NumberFromString(v.Statistics.CommentCount),
		"duration":               record.StringOrNull(v.ContentDetails.Duration),
		"snippet_json":           record.StringOrNull(v.SnippetJSON),
		"statistics_json":        record.StringOrNull(v.StatisticsJSON),
	}
	if thumb := youtube.BestThumbnail(v.Snippet.Thumbnails); thumb != "" {
		f["thumbnail"] = record.Attachments(record.Attachment{URL: thumb})
	}
	if v.Snippet.ChannelID != "" {
		f["channel"] = record.NamedLinks(j.cfg.Channels, v.Snippet.ChannelID)
	}
	return f
}

// youtubeChannels fills channel statistics for rows holding a channel ID or
// a vanity URL.
type youtubeChannels struct {
	base
	cfg config.YouTubeChannelsJob
	yt  *youtube.Client
}

func (j *youtubeChannels) keyField() string {
	if j.cfg.ByVanityURL {
		return "vanity_url"
	}
	return "channel_id"
}

func (j *youtubeChannels) Target() pipeline.Target {
	return j.target(j.keyField(), pipeline.UpdateExisting)
}

func (j *youtubeChannels) Source(snap *reconcile.Snapshot) fetch.Source {
	return fetch.Func(func(ctx context.Context, visit func(record.Source) error) error {
		byID := map[string][]record.Destination{}
		var ids []string
		for _, row := range snap.Rows() {
			if j.cfg.SkipExisting && hasAttachments(j.get(row, "thumbnail")) {
				continue
			}
			raw := j.text(row, j.keyField())
			if raw == "" {
				continue
			}
			id := raw
			if j.cfg.ByVanityURL {
				resolved, err := j.yt.ResolveHandle(ctx, raw)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					j.log(row).Warnf("resolve %s: %v", raw, err)
					continue
				}
				id = resolved
			}
			if _, seen := byID[id]; !seen {
				ids = append(ids, id)
			}
			byID[id] = append(byID[id], row)
		}

		channels, err := j.yt.Channels(ctx, ids)
		for _, id := range ids {
			ch, ok := channels[id]
			if !ok {
				if err == nil {
					logWarn(j.name, id, "channel not found")
				}
				continue
			}
			for _, row := range byID[id] {
				rec := record.Source{Key: snap.KeyOf(row), Fields: j.rename(j.fields(ch))}
				if verr := visit(rec); verr != nil {
					return verr
				}
			}
		}
		if err != nil {
			return fmt.Errorf("channels: %w", err)
		}
		return nil
	})
}

func (j *youtubeChannels) fields(ch youtube.Channel) record.Fields {
	f := record.Fields{
		"title":            record.StringOrNull(ch.Snippet.Title),
		"description":      record.StringOrNull(ch.Snippet.Description),
		"subscriber_count": record.NumberFromString(ch.Statistics.SubscriberCount),
		"view_count":       record.NumberFromString(ch.Statistics.ViewCount),
		"video_count":      record.NumberFromString(ch.Statistics.VideoCount),
		"snippet":          record.StringOrNull(ch.SnippetJSON),
	}
	if thumb := youtube.BestThumbnail(ch.Snippet.Thumbnails); thumb != "" {
		f["thumbnail"] = record.Attachments(record.Attachment{URL: thumb, Filename: ch.Snippet.Title + "_thumbnail.jpg"})
	}
	if j.cfg.ByVanityURL {
		f["channel_id"] = record.String(ch.ID)
	}
	return f
}

// youtubeCaptions stores the first caption track of a video as an SRT
// attachment.
type youtubeCaptions struct {
	base
	cfg config.YouTubeCaptionsJob
	yt  *youtube.Client
}

func (j *youtubeCaptions) Target() pipeline.Target {
	return j.target("video_url", pipeline.UpdateExisting)
}

func (j *youtubeCaptions) Source(snap *reconcile.Snapshot) fetch.Source {
	return j.eachRow(snap, 0, func(ctx context.Context, row record.Destination) (record.Fields, error) {
		if j.cfg.SkipExisting && hasAttachments(j.get(row, "transcript")) {
			return nil, nil
		}
		raw := j.text(row, "video_url")
		id, ok := youtube.ParseVideoID(raw)
		if !ok {
			if raw != "" {
				return nil, fmt.Errorf("invalid video url %q", raw)
			}
			return nil, nil
		}
		captions, err := j.yt.Captions(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("captions of %s: %w", id, err)
		}
		if len(captions) == 0 {
			j.log(row).Infof("no captions for %s", id)
			return nil, nil
		}
		srt, err := j.yt.Subtitle(ctx, captions[0].ID)
		if err != nil {
			return nil, fmt.Errorf("subtitle of %s: %w", id, err)
		}
		return record.Fields{"transcript": record.Attachments(record.Attachment{
			URL:      record.DataURL("text/plain", []byte(srt)),
			Filename: id + ".srt",
			Size:     int64(len(srt)),
		})}, nil
	})
}
