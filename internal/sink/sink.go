// Package sink writes reconciled records to a destination store in bounded
// batches.
package sink

import (
	"context"
	"errors"
	"fmt"

	"sheet-etl/internal/config"
	"sheet-etl/internal/record"
)

var (
	// ErrBatchTooLarge is returned by stores for batches above config.MaxBatch.
	ErrBatchTooLarge = errors.New("batch too large")
	ErrNotFound      = errors.New("record not found")
)

// Query selects the rows of a table. A zero View selects every row; a
// non-empty Fields list projects the returned fields.
type Query struct {
	Table  string
	View   record.View
	Fields []string
}

// Store is the destination of a run, modeled on a spreadsheet-style table
// API: records have opaque IDs, batch mutations are capped and each batch
// succeeds or fails as a whole.
//
// Update merges the given fields into the row; a Null value clears a field.
type Store interface {
	Select(ctx context.Context, q Query) ([]record.Destination, error)
	Create(ctx context.Context, table string, batch []record.Fields) ([]string, error)
	Update(ctx context.Context, table string, batch []record.Update) error
}

func checkBatch(n int) error {
	if n > config.MaxBatch {
		return fmt.Errorf("%w: %d records, max %d", ErrBatchTooLarge, n, config.MaxBatch)
	}
	return nil
}

// project applies q's view and projection to one row. ok is false when the
// row is filtered out.
func project(q Query, row record.Destination) (record.Destination, bool) {
	if !q.View.Match(row.Fields) {
		return record.Destination{}, false
	}
	if len(q.Fields) == 0 {
		return record.Destination{ID: row.ID, Fields: row.Fields.Clone()}, true
	}
	out := make(record.Fields, len(q.Fields))
	for _, name := range q.Fields {
		if v, ok := row.Fields[name]; ok {
			out[name] = v
		}
	}
	return record.Destination{ID: row.ID, Fields: out}, true
}

// merge applies an update to existing fields in place.
func merge(dst, src record.Fields) {
	for k, v := range src {
		if v.IsNull() {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

// compact drops Null values from a new record.
func compact(f record.Fields) record.Fields {
	out := make(record.Fields, len(f))
	for k, v := range f {
		if !v.IsNull() {
			out[k] = v
		}
	}
	return out
}
