// Package record holds the typed data model shared by every pipeline stage:
// cell values, field maps, fetched source records and destination rows.
package record

import (
	"sort"
	"strings"
)

// Fields maps a field identifier to its value. A missing key and a Null value
// mean the same thing.
type Fields map[string]Value

// Get returns the value for field, Null when absent.
func (f Fields) Get(field string) Value {
	if f == nil {
		return Null()
	}
	return f[field]
}

// Text returns the cell string for field, trimmed.
func (f Fields) Text(field string) string {
	return strings.TrimSpace(f.Get(field).Text())
}

func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Names returns the field identifiers in sorted order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether both maps hold the same non-null values.
func (f Fields) Equal(o Fields) bool {
	return f.Contains(o) && o.Contains(f)
}

// Contains reports whether every value in sub is already present in f.
func (f Fields) Contains(sub Fields) bool {
	for k, v := range sub {
		if !f.Get(k).Equal(v) {
			return false
		}
	}
	return true
}

// Source is one entity returned by an external API or feed.
type Source struct {
	// Key is the natural key used to match against existing rows.
	Key    string
	Fields Fields
}

// Destination is an existing row of the destination store.
type Destination struct {
	ID     string
	Fields Fields
}

// Update is a mutation of an existing destination row.
type Update struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields"`
}
