package jobs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"
	"sheet-etl/internal/pipeline"
	"sheet-etl/internal/reconcile"
	"sheet-etl/internal/record"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

func init() {
	register("json-extract", entry{
		section: "json_extract",
		common:  func(j *config.Jobs) config.Common { return j.JSONExtract.Common },
		build: func(d Deps) pipeline.Job {
			return &jsonExtract{base{name: "json-extract", common: d.Config.Jobs.JSONExtract.Common}}
		},
	})
	register("title-case", entry{
		section: "title_case",
		common:  func(j *config.Jobs) config.Common { return j.TitleCase.Common },
		build: func(d Deps) pipeline.Job {
			return &titleCase{base{name: "title-case", common: d.Config.Jobs.TitleCase.Common}}
		},
	})
	register("file-size", entry{
		section: "file_size",
		common:  func(j *config.Jobs) config.Common { return j.FileSize.Common },
		build: func(d Deps) pipeline.Job {
			return &fileSize{base{name: "file-size", common: d.Config.Jobs.FileSize.Common}}
		},
	})
}

// jsonExtract copies counters and the audio language out of stored
// statistics and snippet JSON blobs.
type jsonExtract struct{ base }

func (j *jsonExtract) Target() pipeline.Target { return j.target("", pipeline.UpdateExisting) }

var statisticsFields = map[string]string{
	"view_count":     "viewCount",
	"like_count":     "likeCount",
	"favorite_count": "favoriteCount",
	"comment_count":  "commentCount",
}

func (j *jsonExtract) Source(snap *reconcile.Snapshot) fetch.Source {
	return j.eachRow(snap, 0, func(ctx context.Context, row record.Destination) (record.Fields, error) {
		out := record.Fields{}
		if raw := j.text(row, "statistics_json"); raw != "" {
			var stats map[string]any
			if err := json.Unmarshal([]byte(raw), &stats); err != nil {
				j.log(row).Warnf("statistics json: %v", err)
			} else {
				for logical, key := range statisticsFields {
					out[logical] = record.NumberFromAny(stats[key])
				}
			}
		}
		if raw := j.text(row, "snippet_json"); raw != "" {
			var snippet struct {
				DefaultAudioLanguage string `json:"defaultAudioLanguage"`
			}
			if err := json.Unmarshal([]byte(raw), &snippet); err != nil {
				j.log(row).Warnf("snippet json: %v", err)
			} else {
				out["default_audio_language"] = record.StringOrNull(snippet.DefaultAudioLanguage)
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	})
}

// titleCase writes a title-cased copy of a text field.
type titleCase struct{ base }

func (j *titleCase) Target() pipeline.Target { return j.target("", pipeline.UpdateExisting) }

func (j *titleCase) Source(snap *reconcile.Snapshot) fetch.Source {
	caser := cases.Title(language.AmericanEnglish)
	return j.eachRow(snap, 0, func(ctx context.Context, row record.Destination) (record.Fields, error) {
		return record.Fields{"title_case": record.StringOrNull(caser.String(j.text(row, "text")))}, nil
	})
}

// fileSize stores the total size of a row's attachments.
type fileSize struct{ base }

func (j *fileSize) Target() pipeline.Target { return j.target("", pipeline.UpdateExisting) }

func (j *fileSize) Source(snap *reconcile.Snapshot) fetch.Source {
	return j.eachRow(snap, 0, func(ctx context.Context, row record.Destination) (record.Fields, error) {
		files, _ := j.get(row, "attachments").AsAttachments()
		var total int64
		for _, f := range files {
			total += f.Size
		}
		return record.Fields{"file_size": record.Int(total)}, nil
	})
}

var errBadDataURL = errors.New("malformed data url")

// readAttachment returns the content of an attachment. data: URLs are
// decoded in place, anything else is downloaded.
func readAttachment(ctx context.Context, http *fetch.Client, a record.Attachment) ([]byte, error) {
	if strings.HasPrefix(a.URL, "data:") {
		_, data, err := decodeDataURL(a.URL)
		return data, err
	}
	return http.GetBytes(ctx, a.URL, nil)
}

// decodeDataURL splits a data: URL into its media type and payload.
func decodeDataURL(s string) (string, []byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return "", nil, errBadDataURL
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", errBadDataURL, err)
		}
		return mime, data, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", errBadDataURL, err)
	}
	return mime, []byte(text), nil
}
