package jobs

import (
	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"
	"sheet-etl/internal/pipeline"
	"sheet-etl/internal/reconcile"
	"sheet-etl/internal/sources/rss"
)

func init() {
	register("rss-import", entry{
		section: "rss_import",
		common:  func(j *config.Jobs) config.Common { return j.RSSImport.Common },
		build: func(d Deps) pipeline.Job {
			cfg := d.Config.Jobs.RSSImport
			return &rssImport{base: base{name: "rss-import", common: cfg.Common}, cfg: cfg, http: d.HTTP}
		},
	})
}

// rssImport upserts feed items, keyed by link or guid.
type rssImport struct {
	base
	cfg  config.RSSImportJob
	http *fetch.Client
}

func (j *rssImport) Target() pipeline.Target { return j.target(j.cfg.KeyBy, pipeline.Upsert) }

func (j *rssImport) Source(*reconcile.Snapshot) fetch.Source {
	return j.renamed(rss.Source(j.http, j.cfg.URL, rss.Options{KeyBy: j.cfg.KeyBy, SnippetLength: j.cfg.SnippetLength}))
}
