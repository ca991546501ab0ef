package sink

import (
	"context"
	"fmt"
	"sync"

	"sheet-etl/internal/record"
)

// Calls counts store round-trips by kind.
type Calls struct {
	Select int
	Create int
	Update int
}

// MemoryStore keeps tables in process. Rows are returned in insertion order.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string][]record.Destination
	seq    int
	calls  Calls

	// Fail, when set, is consulted before every mutation; a non-nil error
	// fails the batch.
	Fail func(op, table string, size int) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]record.Destination)}
}

// Seed inserts rows directly without counting a call and returns their IDs.
func (m *MemoryStore) Seed(table string, rows ...record.Fields) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(rows))
	for _, f := range rows {
		id := m.nextID()
		m.tables[table] = append(m.tables[table], record.Destination{ID: id, Fields: compact(f)})
		ids = append(ids, id)
	}
	return ids
}

func (m *MemoryStore) Calls() Calls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Rows returns a copy of every row in table.
func (m *MemoryStore) Rows(table string) []record.Destination {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.Destination, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		out = append(out, record.Destination{ID: row.ID, Fields: row.Fields.Clone()})
	}
	return out
}

func (m *MemoryStore) nextID() string {
	m.seq++
	return fmt.Sprintf("rec%06d", m.seq)
}

func (m *MemoryStore) Select(ctx context.Context, q Query) ([]record.Destination, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Select++

	var out []record.Destination
	for _, row := range m.tables[q.Table] {
		if p, ok := project(q, row); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) Create(ctx context.Context, table string, batch []record.Fields) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Create++

	if err := checkBatch(len(batch)); err != nil {
		return nil, err
	}
	if m.Fail != nil {
		if err := m.Fail("create", table, len(batch)); err != nil {
			return nil, err
		}
	}
	ids := make([]string, 0, len(batch))
	for _, f := range batch {
		id := m.nextID()
		m.tables[table] = append(m.tables[table], record.Destination{ID: id, Fields: compact(f)})
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemoryStore) Update(ctx context.Context, table string, batch []record.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Update++

	if err := checkBatch(len(batch)); err != nil {
		return err
	}
	if m.Fail != nil {
		if err := m.Fail("update", table, len(batch)); err != nil {
			return err
		}
	}

	rows := m.tables[table]
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		index[row.ID] = i
	}
	// validate first so a batch is applied all or nothing
	for _, u := range batch {
		if _, ok := index[u.ID]; !ok {
			return fmt.Errorf("%s/%s: %w", table, u.ID, ErrNotFound)
		}
	}
	for _, u := range batch {
		merge(rows[index[u.ID]].Fields, u.Fields)
	}
	return nil
}
