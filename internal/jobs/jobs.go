// Package jobs builds the configured imports and enrichments as pipeline
// jobs. Every job reads logical field names and maps them to destination
// fields through its section's field map.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"
	"sheet-etl/internal/pipeline"
	"sheet-etl/internal/reconcile"
	"sheet-etl/internal/record"

	"github.com/sirupsen/logrus"
)

// Deps are the shared dependencies handed to every job.
type Deps struct {
	Config *config.Config
	HTTP   *fetch.Client
}

type entry struct {
	section string
	common  func(j *config.Jobs) config.Common
	keys    func(k config.Keys) error
	build   func(d Deps) pipeline.Job
}

var registry = map[string]entry{}

func register(name string, e entry) { registry[name] = e }

// Names lists the registered jobs in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Section returns the config section name of a job.
func Section(name string) (string, bool) {
	e, ok := registry[name]
	return e.section, ok
}

// Configured lists the jobs whose config section names a table.
func Configured(cfg *config.Config) []string {
	var names []string
	for _, name := range Names() {
		if registry[name].common(&cfg.Jobs).Enabled() {
			names = append(names, name)
		}
	}
	return names
}

// Build returns the named job. Unknown names, unconfigured sections and
// missing credentials are configuration errors.
func Build(name string, d Deps) (pipeline.Job, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown job %q", config.ErrInvalid, name)
	}
	if !e.common(&d.Config.Jobs).Enabled() {
		return nil, fmt.Errorf("%w: jobs.%s.table is required to run %s", config.ErrInvalid, e.section, name)
	}
	if e.keys != nil {
		if err := e.keys(d.Config.Keys); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", config.ErrInvalid, name, err)
		}
	}
	return e.build(d), nil
}

func needKey(value, env string) error {
	if value == "" {
		return fmt.Errorf("%s is not set", env)
	}
	return nil
}

// base carries what every job shares: its name and config section.
type base struct {
	name   string
	common config.Common
}

func (b base) Name() string { return b.name }

// field maps a logical field name to its destination field.
func (b base) field(logical string) string { return b.common.Fields.Field(logical) }

// target builds the destination description. An empty key means rows are
// matched by ID.
func (b base) target(key string, mode pipeline.Mode) pipeline.Target {
	t := pipeline.Target{Table: b.common.Table, View: b.common.View, Mode: mode}
	if key != "" {
		t.KeyField = b.field(key)
	}
	return t
}

func (b base) rename(f record.Fields) record.Fields {
	out := make(record.Fields, len(f))
	for k, v := range f {
		out[b.field(k)] = v
	}
	return out
}

// get reads a logical field of a destination row.
func (b base) get(row record.Destination, logical string) record.Value {
	return row.Fields.Get(b.field(logical))
}

func (b base) text(row record.Destination, logical string) string {
	return row.Fields.Text(b.field(logical))
}

func (b base) log(row record.Destination) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"job": b.name, "row": row.ID})
}

// renamed maps the logical fields of src records to destination fields.
func (b base) renamed(src fetch.Source) fetch.Source {
	return fetch.Func(func(ctx context.Context, visit func(record.Source) error) error {
		return src.Each(ctx, func(rec record.Source) error {
			rec.Fields = b.rename(rec.Fields)
			return visit(rec)
		})
	})
}

// rowFunc derives the new logical fields of one destination row. A nil
// result skips the row; an error is logged and skips the row.
type rowFunc func(ctx context.Context, row record.Destination) (record.Fields, error)

// eachRow runs fn over the snapshot rows, at most max of them when max is
// positive, and yields one record per row keyed like the snapshot.
func (b base) eachRow(snap *reconcile.Snapshot, max int, fn rowFunc) fetch.Source {
	return fetch.Func(func(ctx context.Context, visit func(record.Source) error) error {
		rows := snap.Rows()
		if max > 0 && len(rows) > max {
			rows = rows[:max]
		}
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			fields, err := fn(ctx, row)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				b.log(row).Warnf("skipping row: %v", err)
				continue
			}
			if fields == nil {
				continue
			}
			if err := visit(record.Source{Key: snap.KeyOf(row), Fields: b.rename(fields)}); err != nil {
				if errors.Is(err, fetch.ErrStop) {
					return nil
				}
				return err
			}
		}
		return nil
	})
}

// hasAttachments reports whether a row already holds files in a field.
func hasAttachments(v record.Value) bool {
	files, ok := v.AsAttachments()
	return ok && len(files) > 0
}

func logWarn(job, key, format string, args ...any) {
	logrus.WithFields(logrus.Fields{"job": job, "key": key}).Warnf(format, args...)
}
