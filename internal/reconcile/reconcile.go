// Package reconcile classifies fetched records against the destination
// snapshot taken at the start of a run and resolves linked entities.
package reconcile

import (
	"strings"

	"sheet-etl/internal/record"

	"github.com/sirupsen/logrus"
)

// Snapshot is the one-time read of destination rows, indexed by natural key.
// It is never refreshed during a run.
type Snapshot struct {
	keyField string
	rows     []record.Destination
	byKey    map[string]record.Destination
}

// NewSnapshot indexes rows by the text of keyField. Rows with an empty key
// are kept but not indexed; on duplicate keys the first row wins.
func NewSnapshot(keyField string, rows []record.Destination) *Snapshot {
	s := &Snapshot{
		keyField: keyField,
		rows:     rows,
		byKey:    make(map[string]record.Destination, len(rows)),
	}
	for _, row := range rows {
		key := s.KeyOf(row)
		if key == "" {
			continue
		}
		if prev, dup := s.byKey[key]; dup {
			logrus.Warnf("duplicate key %q in destination: keeping %s, ignoring %s", key, prev.ID, row.ID)
			continue
		}
		s.byKey[key] = row
	}
	return s
}

// KeyOf returns the natural key of a destination row. An empty key field
// means rows are keyed by their own ID.
func (s *Snapshot) KeyOf(row record.Destination) string {
	if s.keyField == "" {
		return row.ID
	}
	return normalizeKey(row.Fields.Text(s.keyField))
}

func (s *Snapshot) KeyField() string { return s.keyField }

// Rows returns every row of the snapshot in store order.
func (s *Snapshot) Rows() []record.Destination { return s.rows }

func (s *Snapshot) Len() int { return len(s.rows) }

func (s *Snapshot) Lookup(key string) (record.Destination, bool) {
	row, ok := s.byKey[normalizeKey(key)]
	return row, ok
}

func (s *Snapshot) Has(key string) bool {
	_, ok := s.Lookup(key)
	return ok
}

func normalizeKey(k string) string { return strings.TrimSpace(k) }

// Match pairs a fetched record with the destination row it reconciles to.
type Match struct {
	Source      record.Source
	Destination record.Destination
}

// Plan is the outcome of partitioning one run's fetched records.
type Plan struct {
	New      []record.Source
	Existing []Match
	// Unchanged matched a row whose fields already hold the fetched values.
	Unchanged []Match
	// Skipped counts records without a natural key.
	Skipped int
	// Duplicates counts records replaced by a later one with the same key.
	Duplicates int
}

// Partition de-duplicates records by natural key (the last one seen wins and
// takes the position of the first) and classifies each against snap.
func Partition(records []record.Source, snap *Snapshot) Plan {
	var plan Plan

	order := make([]string, 0, len(records))
	latest := make(map[string]record.Source, len(records))
	for _, rec := range records {
		key := normalizeKey(rec.Key)
		if key == "" {
			plan.Skipped++
			continue
		}
		if _, seen := latest[key]; seen {
			plan.Duplicates++
		} else {
			order = append(order, key)
		}
		rec.Key = key
		latest[key] = rec
	}

	for _, key := range order {
		rec := latest[key]
		row, ok := snap.Lookup(key)
		if !ok {
			plan.New = append(plan.New, rec)
			continue
		}
		m := Match{Source: rec, Destination: row}
		if row.Fields.Contains(rec.Fields) {
			plan.Unchanged = append(plan.Unchanged, m)
			continue
		}
		plan.Existing = append(plan.Existing, m)
	}
	return plan
}
