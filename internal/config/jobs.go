package config

import (
	"time"

	"sheet-etl/internal/record"
)

// FieldMap renames logical field names to destination field identifiers.
// Fields that are not listed keep their logical name.
type FieldMap map[string]string

func (m FieldMap) Field(logical string) string {
	if id, ok := m[logical]; ok && id != "" {
		return id
	}
	return logical
}

// Common is embedded by every job section.
type Common struct {
	Table  string      `yaml:"table"`
	View   record.View `yaml:"view"`
	Fields FieldMap    `yaml:"fields"`
}

func (c Common) Enabled() bool { return c.Table != "" }

type ArchiveSearchJob struct {
	Common     `yaml:",inline"`
	Query      string `yaml:"query"`
	MaxRecords int    `yaml:"max_records"`
	// Language is "en" or "jpn".
	Language  string `yaml:"language"`
	MediaType string `yaml:"media_type"`
	// Expand fetches /metadata for every new item: collections, PDF and OCR.
	Expand      bool              `yaml:"expand"`
	Collections record.LinkTarget `yaml:"collections"`
}

type ArchiveExpandJob struct {
	Common     `yaml:",inline"`
	MaxRecords int `yaml:"max_records"`
}

type YouTubeSearchJob struct {
	Common     `yaml:",inline"`
	Query      string `yaml:"query"`
	MaxResults int    `yaml:"max_results"`
}

type YouTubeVideosJob struct {
	Common       `yaml:",inline"`
	SkipExisting bool              `yaml:"skip_existing"`
	Channels     record.LinkTarget `yaml:"channels"`
}

type YouTubeChannelsJob struct {
	Common `yaml:",inline"`
	// ByVanityURL resolves https://www.youtube.com/@handle URLs instead of
	// reading raw channel IDs.
	ByVanityURL  bool `yaml:"by_vanity_url"`
	SkipExisting bool `yaml:"skip_existing"`
}

type YouTubeCaptionsJob struct {
	Common       `yaml:",inline"`
	SkipExisting bool `yaml:"skip_existing"`
}

type RSSImportJob struct {
	Common `yaml:",inline"`
	URL    string `yaml:"url"`
	// KeyBy selects the natural key: "link" or "guid".
	KeyBy         string `yaml:"key_by"`
	SnippetLength int    `yaml:"snippet_length"`
}

type OpenAIFeaturesJob struct {
	Common        `yaml:",inline"`
	Model         string            `yaml:"model"`
	MaxTokens     int               `yaml:"max_tokens"`
	Features      record.LinkTarget `yaml:"features"`
	SnapThreshold float64           `yaml:"snap_threshold"`
}

type OpenAITitlesJob struct {
	Common    `yaml:",inline"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type OpenAIGamesJob struct {
	Common    `yaml:",inline"`
	Model     string            `yaml:"model"`
	MaxTokens int               `yaml:"max_tokens"`
	Games     record.LinkTarget `yaml:"games"`
	// Source names what a row describes in the prompt, e.g. "podcast episode".
	Source string `yaml:"source"`
	// SourceFields are the logical text fields sent to the model.
	SourceFields []string `yaml:"source_fields"`
}

type OpenAISummaryJob struct {
	Common    `yaml:",inline"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	Prompt    string `yaml:"prompt"`
}

type JSONExtractJob struct {
	Common `yaml:",inline"`
}

type TitleCaseJob struct {
	Common `yaml:",inline"`
}

type FileSizeJob struct {
	Common `yaml:",inline"`
}

type ImageGenJob struct {
	Common     `yaml:",inline"`
	Model      string        `yaml:"model"`
	Ratio      string        `yaml:"ratio"`
	Resolution string        `yaml:"resolution"`
	Folder     string        `yaml:"folder"`
	Delay      time.Duration `yaml:"delay"`
	// MaxInputMB caps the size of each reference image sent to the model.
	MaxInputMB float64 `yaml:"max_input_mb"`
	// OnlyMissing skips rows that already have an output image.
	OnlyMissing bool `yaml:"only_missing"`
}

type Jobs struct {
	ArchiveSearch   ArchiveSearchJob   `yaml:"archive_search"`
	ArchiveExpand   ArchiveExpandJob   `yaml:"archive_expand"`
	YouTubeSearch   YouTubeSearchJob   `yaml:"youtube_search"`
	YouTubeVideos   YouTubeVideosJob   `yaml:"youtube_videos"`
	YouTubeChannels YouTubeChannelsJob `yaml:"youtube_channels"`
	YouTubeCaptions YouTubeCaptionsJob `yaml:"youtube_captions"`
	RSSImport       RSSImportJob       `yaml:"rss_import"`
	OpenAIFeatures  OpenAIFeaturesJob  `yaml:"openai_features"`
	OpenAITitles    OpenAITitlesJob    `yaml:"openai_titles"`
	OpenAIGames     OpenAIGamesJob     `yaml:"openai_games"`
	OpenAISummary   OpenAISummaryJob   `yaml:"openai_summary"`
	JSONExtract     JSONExtractJob     `yaml:"json_extract"`
	TitleCase       TitleCaseJob       `yaml:"title_case"`
	FileSize        FileSizeJob        `yaml:"file_size"`
	ImageGen        ImageGenJob        `yaml:"image_gen"`
}

const (
	defaultChatModel = "gpt-3.5-turbo"
	maxArchiveRows   = 1000
	maxYouTubeSearch = 25000
)

// validate applies per-job defaults and checks ranges of every configured
// section. Sections without a table are left alone.
func (j *Jobs) validate() error {
	if s := &j.ArchiveSearch; s.Enabled() {
		if s.Query == "" {
			return invalidf("jobs.archive_search.query is required")
		}
		if s.MaxRecords < 1 || s.MaxRecords > maxArchiveRows {
			return invalidf("jobs.archive_search.max_records must be between 1 and %d, got %d", maxArchiveRows, s.MaxRecords)
		}
		if s.Language == "" {
			s.Language = "en"
		}
		if s.Language != "en" && s.Language != "jpn" {
			return invalidf("jobs.archive_search.language must be en or jpn, got %q", s.Language)
		}
		defaultTarget(&s.Collections, "Collections", "Name")
	}

	if s := &j.ArchiveExpand; s.Enabled() {
		if s.MaxRecords == 0 {
			s.MaxRecords = maxArchiveRows
		}
		if s.MaxRecords < 1 || s.MaxRecords > maxArchiveRows {
			return invalidf("jobs.archive_expand.max_records must be between 1 and %d, got %d", maxArchiveRows, s.MaxRecords)
		}
	}

	if s := &j.YouTubeSearch; s.Enabled() {
		if s.Query == "" {
			return invalidf("jobs.youtube_search.query is required")
		}
		if s.MaxResults == 0 {
			s.MaxResults = 10
		}
		if s.MaxResults < 1 {
			return invalidf("jobs.youtube_search.max_results must be positive, got %d", s.MaxResults)
		}
		if s.MaxResults > maxYouTubeSearch {
			s.MaxResults = maxYouTubeSearch
		}
	}

	if s := &j.YouTubeVideos; s.Enabled() {
		defaultTarget(&s.Channels, "Channels", "Channel ID")
	}

	if s := &j.RSSImport; s.Enabled() {
		if s.URL == "" {
			return invalidf("jobs.rss_import.url is required")
		}
		if s.KeyBy == "" {
			s.KeyBy = "link"
		}
		if s.KeyBy != "link" && s.KeyBy != "guid" {
			return invalidf("jobs.rss_import.key_by must be link or guid, got %q", s.KeyBy)
		}
		if s.SnippetLength <= 0 {
			s.SnippetLength = 100
		}
	}

	if s := &j.OpenAIFeatures; s.Enabled() {
		defaultModel(&s.Model, &s.MaxTokens, 150)
		defaultTarget(&s.Features, "Features", "Name")
		if s.SnapThreshold == 0 {
			s.SnapThreshold = 0.95
		}
		if s.SnapThreshold < 0 || s.SnapThreshold > 1 {
			return invalidf("jobs.openai_features.snap_threshold must be within [0,1], got %v", s.SnapThreshold)
		}
	}

	if s := &j.OpenAITitles; s.Enabled() {
		defaultModel(&s.Model, &s.MaxTokens, 50)
	}

	if s := &j.OpenAIGames; s.Enabled() {
		defaultModel(&s.Model, &s.MaxTokens, 100)
		defaultTarget(&s.Games, "Games", "Name")
		if s.Source == "" {
			s.Source = "YouTube video"
		}
		if len(s.SourceFields) == 0 {
			s.SourceFields = []string{"title", "description"}
		}
	}

	if s := &j.OpenAISummary; s.Enabled() {
		defaultModel(&s.Model, &s.MaxTokens, 150)
		if s.Prompt == "" {
			s.Prompt = "Summarize the following transcript in a short paragraph."
		}
	}

	if s := &j.ImageGen; s.Enabled() {
		if s.Model == "" {
			s.Model = "gemini-2.5-flash-image"
		}
		if s.Ratio == "" {
			s.Ratio = "1:1"
		}
		switch s.Ratio {
		case "auto", "1:1", "9:16", "16:9", "3:4", "4:3":
		default:
			return invalidf("jobs.image_gen.ratio %q is not supported", s.Ratio)
		}
		if s.Resolution == "" {
			s.Resolution = "1K"
		}
		switch s.Resolution {
		case "1K", "2K", "4K":
		default:
			return invalidf("jobs.image_gen.resolution %q is not supported", s.Resolution)
		}
		if s.Folder == "" {
			s.Folder = "generated"
		}
		if s.Delay == 0 {
			s.Delay = 2 * time.Second
		}
		if s.MaxInputMB == 0 {
			s.MaxInputMB = 1.5
		}
	}

	return nil
}

func defaultTarget(t *record.LinkTarget, table, nameField string) {
	if t.Table == "" {
		t.Table = table
	}
	if t.NameField == "" {
		t.NameField = nameField
	}
}

func defaultModel(model *string, maxTokens *int, tokens int) {
	if *model == "" {
		*model = defaultChatModel
	}
	if *maxTokens == 0 {
		*maxTokens = tokens
	}
}
