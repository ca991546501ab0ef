package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"
	"sheet-etl/internal/pipeline"
	"sheet-etl/internal/record"
	"sheet-etl/internal/sink"

	"github.com/stretchr/testify/require"
)

// parseConfig builds a config with an in-memory store and every endpoint
// pointed at base.
func parseConfig(t *testing.T, base, jobs string) *config.Config {
	t.Helper()
	doc := fmt.Sprintf(`
store:
  type: memory
keys:
  youtube: yt-key
  openai: sk-key
  gemini: AIza-key
  cloudinary_cloud: demo
  cloudinary_preset: unsigned
endpoints:
  archive: %[1]s
  youtube: %[1]s
  openai: %[1]s
  gemini: %[1]s
  cloudinary: %[1]s
jobs:
%s`, base, jobs)
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

func run(t *testing.T, name string, cfg *config.Config, store sink.Store) pipeline.Result {
	t.Helper()
	job, err := Build(name, Deps{Config: cfg, HTTP: fetch.NewClient(cfg.HTTP)})
	require.NoError(t, err)
	rn := &pipeline.Runner{Store: store, BatchSize: cfg.BatchSize}
	res, err := rn.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, pipeline.Done, res.State)
	return res
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNames(t *testing.T) {
	names := Names()
	require.Len(t, names, 15)
	require.Contains(t, names, "archive-search")
	require.Contains(t, names, "image-gen")
	require.IsIncreasing(t, names)
}

func TestConfigured(t *testing.T) {
	cfg := parseConfig(t, "http://unused", `
  title_case:
    table: Keywords
  file_size:
    table: Files
`)
	require.Equal(t, []string{"file-size", "title-case"}, Configured(cfg))
}

func TestBuildRejectsBadJobs(t *testing.T) {
	cfg := parseConfig(t, "http://unused", `
  youtube_search:
    table: Videos
    query: minecraft
`)
	d := Deps{Config: cfg, HTTP: fetch.NewClient(cfg.HTTP)}

	_, err := Build("nope", d)
	require.ErrorIs(t, err, config.ErrInvalid)

	_, err = Build("archive-search", d)
	require.ErrorIs(t, err, config.ErrInvalid, "section without a table")

	cfg.Keys.YouTube = ""
	_, err = Build("youtube-search", d)
	require.ErrorIs(t, err, config.ErrInvalid)
	require.Contains(t, err.Error(), "YOUTUBE_API_KEY")

	cfg.Keys.YouTube = "k"
	job, err := Build("youtube-search", d)
	require.NoError(t, err)
	require.Equal(t, "youtube-search", job.Name())
	require.Equal(t, pipeline.CreateNew, job.Target().Mode)
	require.Equal(t, "url", job.Target().KeyField)
}

func TestFieldMapRenamesOutput(t *testing.T) {
	cfg := parseConfig(t, "http://unused", `
  file_size:
    table: Files
    fields:
      attachments: Attachments
      file_size: Total Bytes
`)
	store := sink.NewMemoryStore()
	store.Seed("Files",
		record.Fields{"Attachments": record.Attachments(
			record.Attachment{URL: "a", Size: 100},
			record.Attachment{URL: "b", Size: 23},
		)},
		record.Fields{"Name": record.String("empty")},
	)

	res := run(t, "file-size", cfg, store)
	require.Equal(t, 2, res.Existing)

	rows := store.Rows("Files")
	total, ok := rows[0].Fields.Get("Total Bytes").AsInt()
	require.True(t, ok)
	require.EqualValues(t, 123, total)
	total, _ = rows[1].Fields.Get("Total Bytes").AsInt()
	require.EqualValues(t, 0, total)
}

func TestTitleCaseSkipsUnchangedRows(t *testing.T) {
	cfg := parseConfig(t, "http://unused", `
  title_case:
    table: Keywords
`)
	store := sink.NewMemoryStore()
	store.Seed("Keywords",
		record.Fields{"text": record.String("the legend of zelda")},
		record.Fields{"text": record.String("Done Already"), "title_case": record.String("Done Already")},
	)

	res := run(t, "title-case", cfg, store)
	require.Equal(t, 1, res.Existing)
	require.Equal(t, 1, res.Unchanged)
	require.Equal(t, "The Legend Of Zelda", store.Rows("Keywords")[0].Fields.Text("title_case"))
}

func TestJSONExtract(t *testing.T) {
	cfg := parseConfig(t, "http://unused", `
  json_extract:
    table: Videos
`)
	store := sink.NewMemoryStore()
	store.Seed("Videos",
		record.Fields{
			"statistics_json": record.String(`{"viewCount": "1200", "commentCount": "7"}`),
			"snippet_json":    record.String(`{"defaultAudioLanguage": "en"}`),
		},
		record.Fields{"statistics_json": record.String(`{not json`)},
	)

	res := run(t, "json-extract", cfg, store)
	require.Equal(t, 1, res.Existing)

	row := store.Rows("Videos")[0].Fields
	views, _ := row.Get("view_count").AsInt()
	require.EqualValues(t, 1200, views)
	require.True(t, row.Get("like_count").IsNull(), "absent counters stay empty")
	require.Equal(t, "en", row.Text("default_audio_language"))
}

func TestDecodeDataURL(t *testing.T) {
	mime, data, err := decodeDataURL(record.DataURL("text/plain", []byte("hello")))
	require.NoError(t, err)
	require.Equal(t, "text/plain", mime)
	require.Equal(t, "hello", string(data))

	_, data, err = decodeDataURL("data:,a%20b")
	require.NoError(t, err)
	require.Equal(t, "a b", string(data))

	_, _, err = decodeDataURL("data:text/plain;base64")
	require.ErrorIs(t, err, errBadDataURL)
}

func TestRSSImportUpserts(t *testing.T) {
	var plays atomic.Int64
	plays.Store(10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<rss xmlns:soundcloud="http://soundcloud.com/feedspec"><channel>
<item><title>One</title><link>https://sc/one</link><soundcloud:playcount>%d</soundcloud:playcount></item>
<item><title>Two</title><link>https://sc/two</link></item>
</channel></rss>`, plays.Load())
	}))
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, fmt.Sprintf(`
  rss_import:
    table: Tracks
    url: %s/feed
`, srv.URL))
	store := sink.NewMemoryStore()

	first := run(t, "rss-import", cfg, store)
	require.Equal(t, 2, first.New)
	require.Len(t, store.Rows("Tracks"), 2)

	plays.Store(11)
	second := run(t, "rss-import", cfg, store)
	require.Equal(t, 0, second.New)
	require.Equal(t, 1, second.Existing)
	require.Equal(t, 1, second.Unchanged)

	rows := store.Rows("Tracks")
	require.Len(t, rows, 2)
	n, _ := rows[0].Fields.Get("plays").AsInt()
	require.EqualValues(t, 11, n)
	require.True(t, strings.HasSuffix(rows[1].Fields.Text("link"), "/two"))
}
