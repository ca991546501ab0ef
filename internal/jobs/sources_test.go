package jobs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"sheet-etl/internal/fetch"
	"sheet-etl/internal/pipeline"
	"sheet-etl/internal/record"
	"sheet-etl/internal/sink"

	"github.com/stretchr/testify/require"
)

// archiveServer answers advanced search with total items, every third
// without a title, and serves one metadata document.
func archiveServer(t *testing.T, total int, queries *[]string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/advancedsearch.php", func(w http.ResponseWriter, r *http.Request) {
		*queries = append(*queries, r.URL.Query().Get("q"))
		rows, _ := strconv.Atoi(r.URL.Query().Get("rows"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		var docs []map[string]any
		for i := (page - 1) * rows; i < page*rows && i < total; i++ {
			doc := map[string]any{"identifier": fmt.Sprintf("steam-%03d", i), "downloads": i}
			if i%3 != 0 {
				doc["title"] = fmt.Sprintf("Steam %d", i)
			}
			docs = append(docs, doc)
		}
		writeJSON(w, map[string]any{"response": map[string]any{"numFound": total, "docs": docs}})
	})
	mux.HandleFunc("/metadata/known", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"files": []map[string]any{{"name": "book.pdf", "format": "Text PDF"}},
			"metadata": map[string]any{
				"identifier": "known",
				"downloads":  "12",
				"item_size":  3000,
				"sponsor":    "Library",
				"rights":     []string{"Public", "Domain"},
			},
		})
	})
	mux.HandleFunc("/metadata/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	return httptest.NewServer(mux)
}

func TestArchiveSearchSteampunk(t *testing.T) {
	var queries []string
	srv := archiveServer(t, 40, &queries)
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, `
  archive_search:
    table: Items
    query: steampunk
    max_records: 10
    language: en
`)
	store := sink.NewMemoryStore()
	res := run(t, "archive-search", cfg, store)

	require.Equal(t, []string{"steampunk AND language:en"}, queries)
	require.Equal(t, 10, res.Fetched)
	require.Equal(t, 10, res.New)
	require.Equal(t, 10, res.Report.Created)
	require.Equal(t, 1, res.Report.Batches)
	require.Equal(t, 1, store.Calls().Create)

	rows := store.Rows("Items")
	require.Len(t, rows, 10)
	require.Equal(t, "steam-000", rows[0].Fields.Text("title"), "missing title defaults to the identifier")
	require.Equal(t, "Steam 1", rows[1].Fields.Text("title"))
	require.Equal(t, srv.URL+"/details/steam-000", rows[0].Fields.Text("item_url"))
}

func TestArchiveSearchLeavesExistingItems(t *testing.T) {
	var queries []string
	srv := archiveServer(t, 40, &queries)
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, `
  archive_search:
    table: Items
    query: steampunk
    max_records: 10
`)
	store := sink.NewMemoryStore()
	store.Seed("Items", record.Fields{"identifier": record.String("steam-004"), "title": record.String("Mine")})

	res := run(t, "archive-search", cfg, store)
	require.Equal(t, 9, res.New)
	require.Equal(t, 1, res.Unchanged)
	require.Equal(t, "Mine", store.Rows("Items")[0].Fields.Text("title"))
	require.Len(t, store.Rows("Items"), 10)
}

func TestArchiveExpand(t *testing.T) {
	var queries []string
	srv := archiveServer(t, 0, &queries)
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, `
  archive_expand:
    table: Items
`)
	store := sink.NewMemoryStore()
	store.Seed("Items",
		record.Fields{"metadata_url": record.String(srv.URL + "/metadata/known$")},
		record.Fields{"metadata_url": record.String(srv.URL + "/metadata/missing")},
		record.Fields{"title": record.String("no url")},
	)

	res := run(t, "archive-expand", cfg, store)
	require.Equal(t, 1, res.Existing)

	row := store.Rows("Items")[0].Fields
	downloads, _ := row.Get("downloads").AsInt()
	require.EqualValues(t, 12, downloads)
	size, _ := row.Get("file_size").AsInt()
	require.EqualValues(t, 3000, size)
	require.Equal(t, "Library", row.Text("sponsor"))
	require.Equal(t, "Public; Domain", row.Text("rights"))
	require.Equal(t, srv.URL+"/download/known/book.pdf", row.Text("pdf_url"))
	require.Contains(t, row.Text("long_text"), `"identifier": "known"`)
	require.True(t, row.Get("volume").IsNull())
}

func youtubeServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "yt-key", r.URL.Query().Get("key"))
		var items []map[string]any
		for _, id := range strings.Split(r.URL.Query().Get("id"), ",") {
			if id != "vid1" {
				continue
			}
			items = append(items, map[string]any{
				"id": id,
				"snippet": map[string]any{
					"title":       "First",
					"channelId":   "UC1",
					"publishedAt": "2024-03-01T10:00:00Z",
					"thumbnails":  map[string]any{"high": map[string]any{"url": "https://i.ytimg.com/vid1/hq.jpg"}},
				},
				"statistics": map[string]any{"viewCount": "42"},
			})
		}
		writeJSON(w, map[string]any{"items": items})
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		var items []map[string]any
		if r.URL.Query().Get("q") == "known" {
			items = append(items, map[string]any{"id": map[string]any{"kind": "youtube#channel", "channelId": "UC1"}})
		}
		writeJSON(w, map[string]any{"items": items})
	})
	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		var items []map[string]any
		for _, id := range strings.Split(r.URL.Query().Get("id"), ",") {
			if id != "UC1" && id != "UC2" {
				continue
			}
			items = append(items, map[string]any{
				"id":         id,
				"snippet":    map[string]any{"title": "Channel " + id},
				"statistics": map[string]any{"subscriberCount": "1000", "videoCount": "7"},
			})
		}
		writeJSON(w, map[string]any{"items": items})
	})
	mux.HandleFunc("/captions", func(w http.ResponseWriter, r *http.Request) {
		var items []map[string]any
		if r.URL.Query().Get("videoId") == "vid1" {
			items = append(items, map[string]any{"id": "cap1"})
		}
		writeJSON(w, map[string]any{"items": items})
	})
	mux.HandleFunc("/captions/cap1", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "srt", r.URL.Query().Get("tfmt"))
		w.Write([]byte("1\n00:00:00,000 --> 00:00:01,000\nhello\n"))
	})
	return httptest.NewServer(mux)
}

func TestYouTubeVideosLinksChannels(t *testing.T) {
	srv := youtubeServer(t)
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, `
  youtube_videos:
    table: Videos
`)
	store := sink.NewMemoryStore()
	store.Seed("Videos",
		record.Fields{"video_url": record.String("https://youtu.be/vid1")},
		record.Fields{"video_url": record.String("https://www.youtube.com/watch?v=gone")},
		record.Fields{"video_url": record.String("not a url")},
	)

	res := run(t, "youtube-videos", cfg, store)
	require.Equal(t, 1, res.Existing)
	require.Equal(t, 1, res.Linked)

	channels := store.Rows("Channels")
	require.Len(t, channels, 1)
	require.Equal(t, "UC1", channels[0].Fields.Text("Channel ID"))

	row := store.Rows("Videos")[0].Fields
	views, _ := row.Get("view_count").AsInt()
	require.EqualValues(t, 42, views)
	require.True(t, row.Get("like_count").IsNull())
	links, ok := row.Get("channel").AsLinks()
	require.True(t, ok)
	require.Equal(t, []string{channels[0].ID}, links)
	thumbs, _ := row.Get("thumbnail").AsAttachments()
	require.Equal(t, "https://i.ytimg.com/vid1/hq.jpg", thumbs[0].URL)
}

func TestYouTubeChannelsByVanityURL(t *testing.T) {
	srv := youtubeServer(t)
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, `
  youtube_channels:
    table: Channels
    by_vanity_url: true
`)
	store := sink.NewMemoryStore()
	store.Seed("Channels",
		record.Fields{"vanity_url": record.String("https://www.youtube.com/@known")},
		record.Fields{"vanity_url": record.String("https://www.youtube.com/@nobody")},
	)

	res := run(t, "youtube-channels", cfg, store)
	require.Equal(t, 1, res.Existing)

	rows := store.Rows("Channels")
	require.Equal(t, "UC1", rows[0].Fields.Text("channel_id"))
	require.Equal(t, "Channel UC1", rows[0].Fields.Text("title"))
	subs, _ := rows[0].Fields.Get("subscriber_count").AsInt()
	require.EqualValues(t, 1000, subs)
	require.True(t, rows[0].Fields.Get("view_count").IsNull())

	require.Empty(t, rows[1].Fields.Text("channel_id"), "unresolved handle leaves the row alone")
	require.Empty(t, rows[1].Fields.Text("title"))
}

func TestYouTubeChannelsByID(t *testing.T) {
	srv := youtubeServer(t)
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, `
  youtube_channels:
    table: Channels
`)
	store := sink.NewMemoryStore()
	store.Seed("Channels",
		record.Fields{"channel_id": record.String("UC2")},
		record.Fields{"channel_id": record.String("UCgone")},
	)

	res := run(t, "youtube-channels", cfg, store)
	require.Equal(t, 1, res.Existing)

	rows := store.Rows("Channels")
	videos, _ := rows[0].Fields.Get("video_count").AsInt()
	require.EqualValues(t, 7, videos)
	require.Empty(t, rows[1].Fields.Text("title"))
}

func TestYouTubeCaptions(t *testing.T) {
	srv := youtubeServer(t)
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, `
  youtube_captions:
    table: Videos
    skip_existing: true
`)
	store := sink.NewMemoryStore()
	store.Seed("Videos",
		record.Fields{"video_url": record.String("https://youtu.be/vid1")},
		record.Fields{"video_url": record.String("https://youtu.be/vid2")},
		record.Fields{
			"video_url":  record.String("https://www.youtube.com/watch?v=vid1x"),
			"transcript": record.Attachments(record.Attachment{URL: "https://files/old.srt"}),
		},
	)

	res := run(t, "youtube-captions", cfg, store)
	require.Equal(t, 1, res.Existing)

	files, ok := store.Rows("Videos")[0].Fields.Get("transcript").AsAttachments()
	require.True(t, ok)
	require.Len(t, files, 1)
	require.Equal(t, "vid1.srt", files[0].Filename)
	_, data, err := decodeDataURL(files[0].URL)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func chatServer(t *testing.T, answer string, prompts *[]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*prompts = append(*prompts, req.Messages[len(req.Messages)-1].Content)
		writeJSON(w, map[string]any{"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": answer}}}})
	}))
}

func TestOpenAIFeatures(t *testing.T) {
	var prompts []string
	srv := chatServer(t, "Crafting, Co-op, Explain this.", &prompts)
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, `
  openai_features:
    table: Games
    view:
      where_empty: [done]
`)
	store := sink.NewMemoryStore()
	featureIDs := store.Seed("Features",
		record.Fields{"Name": record.String("Crafting")},
		record.Fields{"Name": record.String("Open World")},
	)
	store.Seed("Games",
		record.Fields{"name": record.String("Minecraft")},
		record.Fields{"name": record.String("Tetris"), "done": record.Bool(true)},
		record.Fields{"name": record.String("")},
	)

	res := run(t, "openai-features", cfg, store)
	require.Equal(t, 1, res.Existing)
	require.Equal(t, 1, res.Linked)
	require.Len(t, prompts, 1)
	require.Contains(t, prompts[0], `"Minecraft"`)
	require.Contains(t, prompts[0], "Crafting, Open World")

	features := store.Rows("Features")
	require.Len(t, features, 3)
	require.Equal(t, "Co-op", features[2].Fields.Text("Name"))

	game := store.Rows("Games")[0].Fields
	links, _ := game.Get("features").AsLinks()
	require.Equal(t, []string{featureIDs[0], features[2].ID}, links)
	done, _ := game.Get("done").AsBool()
	require.True(t, done)
}

func TestParseFeatures(t *testing.T) {
	got := parseFeatures(" Crafting ,x, Open World, Explain: none, this means fun, Co-op, 3.5 stars")
	require.Equal(t, []string{"Crafting", "Open World", "Co-op"}, got)
}

func TestSnapNames(t *testing.T) {
	known := []string{"Crafting", "Open World"}
	got := snapNames([]string{"Open world", "Co-op", "Crafting"}, known, 0.9)
	require.Equal(t, []string{"Open World", "Co-op", "Crafting"}, got)

	require.Equal(t, []string{"Open Worlds"}, snapNames([]string{"Open Worlds"}, known, 1))
}

func TestParseGames(t *testing.T) {
	testCases := map[string][]string{
		"1. Minecraft\n2. Terraria\n": {"Minecraft", "Terraria"},
		"- Doom\n\n- Quake":           {"Doom", "Quake"},
		"None":                        {"None"},
		"  ":                          {"None"},
	}
	for answer, expected := range testCases {
		require.Equal(t, expected, parseGames(answer), answer)
	}
}

func TestOpenAIGamesFoldsNames(t *testing.T) {
	var prompts []string
	srv := chatServer(t, "1. MINECRAFT\n2. Terraria", &prompts)
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, `
  openai_games:
    table: Videos
    games: {fold: true}
`)
	store := sink.NewMemoryStore()
	gameIDs := store.Seed("Games", record.Fields{"Name": record.String("Minecraft")})
	store.Seed("Videos", record.Fields{"title": record.String("Building in Minecraft"), "description": record.String("and Terraria")})

	res := run(t, "openai-games", cfg, store)
	require.Equal(t, 1, res.Existing)
	require.Contains(t, prompts[0], "Based on the following YouTube video title and description,")
	require.Contains(t, prompts[0], "Title: Building in Minecraft\nDescription: and Terraria")

	games := store.Rows("Games")
	require.Len(t, games, 2)
	links, _ := store.Rows("Videos")[0].Fields.Get("games").AsLinks()
	require.Equal(t, []string{gameIDs[0], games[1].ID}, links)
}

func TestOpenAIGamesMatchesNamesExactlyByDefault(t *testing.T) {
	var prompts []string
	srv := chatServer(t, "MINECRAFT", &prompts)
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, `
  openai_games:
    table: Podcasts
    source: podcast episode
    source_fields: [title, show_notes]
`)
	store := sink.NewMemoryStore()
	gameIDs := store.Seed("Games", record.Fields{"Name": record.String("Minecraft")})
	store.Seed("Podcasts", record.Fields{"title": record.String("Episode 4"), "show_notes": record.String("we play MINECRAFT")})

	run(t, "openai-games", cfg, store)
	require.Contains(t, prompts[0], "Based on the following podcast episode title and show notes,")
	require.Contains(t, prompts[0], "Show notes: we play MINECRAFT")

	games := store.Rows("Games")
	require.Len(t, games, 2)
	links, _ := store.Rows("Podcasts")[0].Fields.Get("games").AsLinks()
	require.Equal(t, []string{games[1].ID}, links)
	require.NotEqual(t, gameIDs[0], links[0])
}

func TestOpenAISummaryReadsDataURLAttachment(t *testing.T) {
	var prompts []string
	srv := chatServer(t, "A short summary.", &prompts)
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, `
  openai_summary:
    table: Videos
    prompt: "Summarize:"
`)
	store := sink.NewMemoryStore()
	store.Seed("Videos",
		record.Fields{"transcript": record.Attachments(record.Attachment{URL: record.DataURL("text/plain", []byte("the transcript")), Filename: "a.srt"})},
		record.Fields{"title": record.String("no transcript")},
	)

	res := run(t, "openai-summary", cfg, store)
	require.Equal(t, 1, res.Existing)
	require.Equal(t, []string{"Summarize:\n\nthe transcript"}, prompts)
	require.Equal(t, "A short summary.", store.Rows("Videos")[0].Fields.Text("summary"))
}

func TestImageGen(t *testing.T) {
	var uploads []map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/models/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models/gemini-2.5-flash-image:generateContent", r.URL.Path)
		out := base64.StdEncoding.EncodeToString([]byte("generated"))
		writeJSON(w, map[string]any{"candidates": []map[string]any{{"content": map[string]any{
			"parts": []map[string]any{{"inlineData": map[string]any{"mimeType": "image/png", "data": out}}},
		}}}})
	})
	mux.HandleFunc("/demo/image/upload", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		uploads = append(uploads, body)
		writeJSON(w, map[string]any{"public_id": body["public_id"], "secure_url": "https://res/new.png", "bytes": 9})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := parseConfig(t, srv.URL, `
  image_gen:
    table: Art
    delay: 1ms
`)
	store := sink.NewMemoryStore()
	style := record.Attachment{URL: record.DataURL("image/png", []byte("style")), Filename: "style.png", Size: 5}
	store.Seed("Art",
		record.Fields{
			"style":  record.Attachments(style),
			"prompt": record.String("a steam engine"),
			"image":  record.Attachments(record.Attachment{URL: "https://res/old.png"}),
		},
		record.Fields{"style": record.Attachments(style)},
		record.Fields{
			"style":  record.Attachments(record.Attachment{URL: "https://unused", Filename: "huge.png", Size: 10 << 20}),
			"prompt": record.String("too big"),
		},
	)

	job, err := Build("image-gen", Deps{Config: cfg, HTTP: fetch.NewClient(cfg.HTTP)})
	require.NoError(t, err)
	job.(*imageGen).now = func() time.Time { return time.UnixMilli(1700000000000) }

	rn := &pipeline.Runner{Store: store, BatchSize: cfg.BatchSize}
	res, err := rn.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, 1, res.Existing)

	require.Len(t, uploads, 1)
	require.Equal(t, "generated", uploads[0]["folder"])
	require.Equal(t, "gemini,flash,1:1", uploads[0]["tags"])
	require.True(t, strings.HasPrefix(uploads[0]["file"].(string), "data:image/png;base64,"))

	files, _ := store.Rows("Art")[0].Fields.Get("image").AsAttachments()
	require.Len(t, files, 2)
	require.Equal(t, "https://res/old.png", files[0].URL)
	require.Equal(t, record.Attachment{URL: "https://res/new.png", Filename: "gemini_flash_1:1_1700000000000.png", Size: 9}, files[1])
}
