package jobs

import (
	"context"
	"errors"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"
	"sheet-etl/internal/pipeline"
	"sheet-etl/internal/reconcile"
	"sheet-etl/internal/record"
	"sheet-etl/internal/sources/archive"
)

func init() {
	register("archive-search", entry{
		section: "archive_search",
		common:  func(j *config.Jobs) config.Common { return j.ArchiveSearch.Common },
		build: func(d Deps) pipeline.Job {
			cfg := d.Config.Jobs.ArchiveSearch
			return &archiveSearch{
				base:    base{name: "archive-search", common: cfg.Common},
				cfg:     cfg,
				archive: archive.New(d.HTTP, d.Config.Endpoints.Archive),
			}
		},
	})
	register("archive-expand", entry{
		section: "archive_expand",
		common:  func(j *config.Jobs) config.Common { return j.ArchiveExpand.Common },
		build: func(d Deps) pipeline.Job {
			cfg := d.Config.Jobs.ArchiveExpand
			return &archiveExpand{
				base:    base{name: "archive-expand", common: cfg.Common},
				cfg:     cfg,
				archive: archive.New(d.HTTP, d.Config.Endpoints.Archive),
			}
		},
	})
}

// archiveSearch imports advanced search results as new rows.
type archiveSearch struct {
	base
	cfg     config.ArchiveSearchJob
	archive *archive.Client
}

func (j *archiveSearch) Target() pipeline.Target {
	return j.target("identifier", pipeline.CreateNew)
}

func (j *archiveSearch) Source(snap *reconcile.Snapshot) fetch.Source {
	src := j.archive.Search(archive.SearchQuery{
		Query:     j.cfg.Query,
		Language:  j.cfg.Language,
		MediaType: j.cfg.MediaType,
		Max:       j.cfg.MaxRecords,
	})
	if !j.cfg.Expand {
		return j.renamed(src)
	}
	return j.renamed(fetch.Func(func(ctx context.Context, visit func(record.Source) error) error {
		return src.Each(ctx, func(rec record.Source) error {
			// Rows already present are left alone, so their metadata is not needed.
			if !snap.Has(rec.Key) {
				j.expand(ctx, rec)
			}
			return visit(rec)
		})
	}))
}

// expand adds collections, the PDF link and the OCR text of an item. Lookup
// failures are logged and leave the search fields as they are.
func (j *archiveSearch) expand(ctx context.Context, rec record.Source) {
	md, err := j.archive.Metadata(ctx, rec.Key)
	if err != nil {
		if ctx.Err() == nil {
			logWarn(j.name, rec.Key, "metadata: %v", err)
		}
		return
	}
	if names := md.Collections(); len(names) > 0 {
		rec.Fields["collections"] = record.NamedLinks(j.cfg.Collections, names...)
	}
	if pdf, ok := md.PDF(); ok {
		rec.Fields["pdf_url"] = record.String(j.archive.DownloadURL(rec.Key, pdf.Name))
	}
	if ocr, ok := md.OCRText(); ok {
		text, err := j.archive.Download(ctx, rec.Key, ocr)
		if err != nil {
			logWarn(j.name, rec.Key, "ocr text: %v", err)
			return
		}
		rec.Fields["ocr_text"] = record.StringOrNull(text)
	}
}

// archiveExpand fills metadata fields of rows that carry a metadata URL.
type archiveExpand struct {
	base
	cfg     config.ArchiveExpandJob
	archive *archive.Client
}

func (j *archiveExpand) Target() pipeline.Target {
	return j.target("metadata_url", pipeline.UpdateExisting)
}

var expandedFields = map[string]string{
	"sponsor": "sponsor",
	"volume":  "volume",
	"issue":   "issue",
	"ocr":     "ocr",
	"rights":  "rights",
}

func (j *archiveExpand) Source(snap *reconcile.Snapshot) fetch.Source {
	return j.eachRow(snap, j.cfg.MaxRecords, func(ctx context.Context, row record.Destination) (record.Fields, error) {
		metadataURL := j.text(row, "metadata_url")
		if metadataURL == "" {
			return nil, nil
		}
		md, err := j.archive.MetadataAt(ctx, metadataURL)
		if errors.Is(err, archive.ErrNoMetadata) {
			j.log(row).Infof("no metadata at %s", metadataURL)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		// Only fields the archive reports are written; absent ones keep the
		// current cell.
		out := record.Fields{"long_text": record.String(md.Pretty())}
		if v := record.NumberFromString(md.Get("downloads")); !v.IsNull() {
			out["downloads"] = v
		}
		if v := record.NumberFromString(md.Get("item_size")); !v.IsNull() {
			out["file_size"] = v
		}
		for logical, key := range expandedFields {
			if s := md.Get(key); s != "" {
				out[logical] = record.String(s)
			}
		}
		if pdf, ok := md.PDF(); ok {
			out["pdf_url"] = record.String(j.archive.DownloadURL(md.Identifier(), pdf.Name))
		}
		return out, nil
	})
}
