package reconcile

import (
	"context"
	"fmt"
	"strings"

	"sheet-etl/internal/record"

	"github.com/sirupsen/logrus"
)

// EntityStore is the slice of the destination store the resolver needs.
type EntityStore interface {
	Entities(ctx context.Context, table string) ([]record.Destination, error)
	CreateEntity(ctx context.Context, table string, fields record.Fields) (string, error)
}

// entityCache indexes one table by one name field. Names are kept both as
// written and lower-cased so targets with and without Fold share it.
type entityCache struct {
	exact  map[string]string
	folded map[string]string
}

func (c *entityCache) lookup(target record.LinkTarget, name string) (string, bool) {
	if target.Fold {
		id, ok := c.folded[strings.ToLower(name)]
		return id, ok
	}
	id, ok := c.exact[name]
	return id, ok
}

// add keeps the first ID seen for a name.
func (c *entityCache) add(name, id string) {
	if _, ok := c.exact[name]; !ok {
		c.exact[name] = id
	}
	lower := strings.ToLower(name)
	if _, ok := c.folded[lower]; !ok {
		c.folded[lower] = id
	}
}

type cacheKey struct{ table, nameField string }

// Resolver turns entity names into row IDs of a secondary table, creating
// missing entities on first encounter. The cache lives for one run and is
// only used from the run's goroutine.
type Resolver struct {
	store  EntityStore
	caches map[cacheKey]*entityCache
	// Created counts entities created during the run.
	Created int
}

func NewResolver(store EntityStore) *Resolver {
	return &Resolver{store: store, caches: make(map[cacheKey]*entityCache)}
}

// load reads the existing entities of target's table once per run and name
// field.
func (r *Resolver) load(ctx context.Context, target record.LinkTarget) (*entityCache, error) {
	k := cacheKey{table: target.Table, nameField: target.NameField}
	if c, ok := r.caches[k]; ok {
		return c, nil
	}
	rows, err := r.store.Entities(ctx, target.Table)
	if err != nil {
		return nil, fmt.Errorf("load linked table %s: %w", target.Table, err)
	}
	c := &entityCache{exact: make(map[string]string, len(rows)), folded: make(map[string]string, len(rows))}
	for _, row := range rows {
		if name := strings.TrimSpace(row.Fields.Text(target.NameField)); name != "" {
			c.add(name, row.ID)
		}
	}
	r.caches[k] = c
	logrus.Debugf("loaded %d entities from %s by %s", len(c.exact), target.Table, target.NameField)
	return c, nil
}

// Resolve returns the ID of the entity called name, creating it if needed.
func (r *Resolver) Resolve(ctx context.Context, target record.LinkTarget, name string) (string, error) {
	c, err := r.load(ctx, target)
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("empty entity name for %s", target.Table)
	}
	if id, ok := c.lookup(target, name); ok {
		return id, nil
	}

	id, err := r.store.CreateEntity(ctx, target.Table, record.Fields{
		target.NameField: record.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("create %s entity %q: %w", target.Table, name, err)
	}
	c.add(name, id)
	r.Created++
	logrus.Infof("created %s entity %q (%s)", target.Table, name, id)
	return id, nil
}

// ResolveFields returns a copy of fields where every unresolved link value
// is replaced by the IDs of its entities. Fields are resolved in name order.
// A name that cannot be created is logged and left out.
func (r *Resolver) ResolveFields(ctx context.Context, fields record.Fields) (record.Fields, error) {
	out := fields.Clone()
	for _, name := range fields.Names() {
		names, target, ok := fields[name].AsLinkNames()
		if !ok {
			continue
		}
		ids := make([]string, 0, len(names))
		seen := make(map[string]struct{}, len(names))
		for _, n := range names {
			id, err := r.Resolve(ctx, target, n)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				logrus.Warnf("field %s: %v", name, err)
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		out[name] = record.Links(ids...)
	}
	return out, nil
}
