// Package pipeline runs a job through its lifecycle: snapshot the
// destination, fetch, reconcile and write.
package pipeline

import (
	"context"
	"fmt"

	"sheet-etl/internal/fetch"
	"sheet-etl/internal/reconcile"
	"sheet-etl/internal/record"
	"sheet-etl/internal/sink"
)

// Mode decides which reconciled records are written.
type Mode int

const (
	// CreateNew inserts unmatched records and leaves matched rows alone.
	CreateNew Mode = iota
	// Upsert inserts unmatched records and updates changed matched rows.
	Upsert
	// UpdateExisting updates changed matched rows; unmatched records are
	// logged and skipped.
	UpdateExisting
)

func (m Mode) String() string {
	switch m {
	case CreateNew:
		return "create-new"
	case Upsert:
		return "upsert"
	case UpdateExisting:
		return "update-existing"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Target describes the destination table of a job and how its rows are
// matched.
type Target struct {
	Table string
	// View limits the snapshot to the rows the job works on.
	View record.View
	// KeyField holds the natural key. Empty means rows are matched by ID.
	KeyField string
	// Fields projects the snapshot; empty loads every field.
	Fields []string
	Mode   Mode
}

// Job is one configured import or enrichment.
type Job interface {
	Name() string
	Target() Target
	// Source returns the records to reconcile. Enrichment jobs derive them
	// from the snapshot rows.
	Source(snap *reconcile.Snapshot) fetch.Source
}

// Preparer is implemented by jobs that need to read reference data (like
// existing entity names) before fetching.
type Preparer interface {
	Prepare(ctx context.Context, store sink.Store) error
}
