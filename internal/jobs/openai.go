package jobs

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"
	"sheet-etl/internal/pipeline"
	"sheet-etl/internal/reconcile"
	"sheet-etl/internal/record"
	"sheet-etl/internal/sink"
	"sheet-etl/internal/sources/openai"

	"github.com/antzucaro/matchr"
	"github.com/sirupsen/logrus"
)

func openaiKey(k config.Keys) error { return needKey(k.OpenAI, "OPENAI_API_KEY") }

func newOpenAI(d Deps) *openai.Client {
	return openai.New(d.HTTP, d.Config.Endpoints.OpenAI, d.Config.Keys.OpenAI)
}

func init() {
	register("openai-features", entry{
		section: "openai_features",
		common:  func(j *config.Jobs) config.Common { return j.OpenAIFeatures.Common },
		keys:    openaiKey,
		build: func(d Deps) pipeline.Job {
			cfg := d.Config.Jobs.OpenAIFeatures
			return &openaiFeatures{base: base{name: "openai-features", common: cfg.Common}, cfg: cfg, ai: newOpenAI(d)}
		},
	})
	register("openai-titles", entry{
		section: "openai_titles",
		common:  func(j *config.Jobs) config.Common { return j.OpenAITitles.Common },
		keys:    openaiKey,
		build: func(d Deps) pipeline.Job {
			cfg := d.Config.Jobs.OpenAITitles
			return &openaiTitles{base: base{name: "openai-titles", common: cfg.Common}, cfg: cfg, ai: newOpenAI(d)}
		},
	})
	register("openai-games", entry{
		section: "openai_games",
		common:  func(j *config.Jobs) config.Common { return j.OpenAIGames.Common },
		keys:    openaiKey,
		build: func(d Deps) pipeline.Job {
			cfg := d.Config.Jobs.OpenAIGames
			return &openaiGames{base: base{name: "openai-games", common: cfg.Common}, cfg: cfg, ai: newOpenAI(d)}
		},
	})
	register("openai-summary", entry{
		section: "openai_summary",
		common:  func(j *config.Jobs) config.Common { return j.OpenAISummary.Common },
		keys:    openaiKey,
		build: func(d Deps) pipeline.Job {
			cfg := d.Config.Jobs.OpenAISummary
			return &openaiSummary{base: base{name: "openai-summary", common: cfg.Common}, cfg: cfg, ai: newOpenAI(d), http: d.HTTP}
		},
	})
}

// openaiFeatures asks the model which known features apply to each named
// row and links them, marking the row done.
type openaiFeatures struct {
	base
	cfg   config.OpenAIFeaturesJob
	ai    *openai.Client
	known []string
}

func (j *openaiFeatures) Target() pipeline.Target { return j.target("", pipeline.UpdateExisting) }

// Prepare loads the existing feature names offered to the model.
func (j *openaiFeatures) Prepare(ctx context.Context, store sink.Store) error {
	rows, err := store.Select(ctx, sink.Query{Table: j.cfg.Features.Table, Fields: []string{j.cfg.Features.NameField}})
	if err != nil {
		return fmt.Errorf("read %s: %w", j.cfg.Features.Table, err)
	}
	j.known = j.known[:0]
	for _, row := range rows {
		if name := strings.TrimSpace(row.Fields.Text(j.cfg.Features.NameField)); name != "" {
			j.known = append(j.known, name)
		}
	}
	logrus.Infof("%s: %d known features", j.name, len(j.known))
	return nil
}

func (j *openaiFeatures) Source(snap *reconcile.Snapshot) fetch.Source {
	return j.eachRow(snap, 0, func(ctx context.Context, row record.Destination) (record.Fields, error) {
		game := strings.TrimSpace(j.text(row, "name"))
		if game == "" {
			j.log(row).Infof("no name, skipping")
			return nil, nil
		}
		user := fmt.Sprintf("Consider the game %q. The following is a list of common game features: %s. "+
			"Select only those features that are relevant to this game. Respond with the relevant features separated by commas.",
			game, strings.Join(j.known, ", "))
		answer, err := j.ai.Complete(ctx, j.cfg.Model,
			"You are a helpful assistant that identifies video game features from a provided list.", user, j.cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("features of %q: %w", game, err)
		}
		names := snapNames(parseFeatures(answer), j.known, j.cfg.SnapThreshold)
		if len(names) == 0 {
			j.log(row).Infof("no valid features for %q", game)
			return nil, nil
		}
		return record.Fields{
			"features": record.NamedLinks(j.cfg.Features, names...),
			"done":     record.Bool(true),
		}, nil
	})
}

// parseFeatures splits a comma separated answer and drops fragments that
// are explanations rather than names.
func parseFeatures(answer string) []string {
	var out []string
	for _, f := range strings.Split(answer, ",") {
		f = strings.TrimSpace(f)
		if len(f) <= 1 || strings.Contains(f, ".") || strings.Contains(f, "Explain") || strings.Contains(f, "this means") {
			continue
		}
		out = append(out, f)
	}
	return out
}

// snapNames replaces each name with the most similar known name when the
// Jaro-Winkler similarity reaches threshold.
func snapNames(names, known []string, threshold float64) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		best, bestScore := name, 0.0
		for _, k := range known {
			if k == name {
				best, bestScore = k, 1
				break
			}
			if s := matchr.JaroWinkler(name, k, false); s > bestScore {
				best, bestScore = k, s
			}
		}
		if bestScore < threshold {
			best = name
		}
		out = append(out, best)
	}
	return out
}

// openaiTitles writes a shortened title for each row and marks it done.
type openaiTitles struct {
	base
	cfg config.OpenAITitlesJob
	ai  *openai.Client
}

func (j *openaiTitles) Target() pipeline.Target { return j.target("", pipeline.UpdateExisting) }

func (j *openaiTitles) Source(snap *reconcile.Snapshot) fetch.Source {
	return j.eachRow(snap, 0, func(ctx context.Context, row record.Destination) (record.Fields, error) {
		title, description := j.text(row, "title"), j.text(row, "description")
		if title == "" && description == "" {
			return nil, nil
		}
		user := "Based on the following YouTube video title and description, create a shorter title that includes " +
			"the key subject of the video within the first 30 characters. Ensure the shortened title is clear, concise, " +
			"in Title Case formatting, factual, and not hyperbolic (no ALL CAPS). The title does not need to include " +
			"the name of the YouTube channel, just the subject of the video itself.\n\n" +
			"Title: " + title + "\nDescription: " + description + "\n\nShortened Title:"
		short, err := j.ai.Complete(ctx, j.cfg.Model,
			"You are a helpful assistant that shortens YouTube video titles.", user, j.cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("short title: %w", err)
		}
		if short == "" {
			return nil, nil
		}
		return record.Fields{"short_title": record.String(short), "done": record.Bool(true)}, nil
	})
}

// openaiGames links each row to the games mentioned in its text fields.
type openaiGames struct {
	base
	cfg config.OpenAIGamesJob
	ai  *openai.Client
}

func (j *openaiGames) Target() pipeline.Target { return j.target("", pipeline.UpdateExisting) }

func (j *openaiGames) Source(snap *reconcile.Snapshot) fetch.Source {
	return j.eachRow(snap, 0, func(ctx context.Context, row record.Destination) (record.Fields, error) {
		var parts []string
		empty := true
		for _, logical := range j.cfg.SourceFields {
			v := j.text(row, logical)
			if v != "" {
				empty = false
			}
			parts = append(parts, labelOf(logical)+": "+v)
		}
		if empty {
			return nil, nil
		}
		what := j.cfg.Source + " " + describeFields(j.cfg.SourceFields)
		user := "Based on the following " + what + ", list all video games mentioned. " +
			"Only include the proper noun names of the video games, and do not include any numbers, hyphens, or " +
			"extraneous characters. Each game should be listed on a new line. If no specific game is mentioned, " +
			"return the result \"None\".\n\n" + strings.Join(parts, "\n") + "\n\nVideo Games:"
		answer, err := j.ai.Complete(ctx, j.cfg.Model,
			"You are a helpful assistant that extracts video game names from the "+what+" it is given.",
			user, j.cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("games: %w", err)
		}
		return record.Fields{"games": record.NamedLinks(j.cfg.Games, parseGames(answer)...)}, nil
	})
}

var listMarker = regexp.MustCompile(`^[\d\-.\s]+`)

// parseGames reads one name per line with list numbering stripped. An
// empty answer yields the single name "None".
func parseGames(answer string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(answer), "\n") {
		if name := strings.TrimSpace(listMarker.ReplaceAllString(line, "")); name != "" {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		out = []string{"None"}
	}
	return out
}

// describeFields renders field names for a prompt: "title and description".
func describeFields(logical []string) string {
	names := make([]string, len(logical))
	for i, f := range logical {
		names[i] = strings.ToLower(labelOf(f))
	}
	if len(names) < 2 {
		return strings.Join(names, "")
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

func labelOf(logical string) string {
	if logical == "" {
		return logical
	}
	s := strings.ReplaceAll(logical, "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}

// openaiSummary summarizes the first text attachment of each row.
type openaiSummary struct {
	base
	cfg  config.OpenAISummaryJob
	ai   *openai.Client
	http *fetch.Client
}

func (j *openaiSummary) Target() pipeline.Target { return j.target("", pipeline.UpdateExisting) }

func (j *openaiSummary) Source(snap *reconcile.Snapshot) fetch.Source {
	return j.eachRow(snap, 0, func(ctx context.Context, row record.Destination) (record.Fields, error) {
		files, _ := j.get(row, "transcript").AsAttachments()
		if len(files) == 0 {
			j.log(row).Debugf("no text attachment")
			return nil, nil
		}
		text, err := readAttachment(ctx, j.http, files[0])
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", files[0].Filename, err)
		}
		summary, err := j.ai.Complete(ctx, j.cfg.Model, "", j.cfg.Prompt+"\n\n"+string(text), j.cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("summary: %w", err)
		}
		return record.Fields{"summary": record.StringOrNull(summary)}, nil
	})
}
