package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"sheet-etl/internal/record"

	"github.com/google/uuid"
)

// csvTable is the in-memory copy of one CSV file.
type csvTable struct {
	rows []record.Destination
}

// CSVStore persists each table as <dir>/<table>.csv. The first column is the
// row ID; the remaining columns are the sorted union of all field names and
// hold tagged JSON values. A file is read on first use and rewritten as a
// whole after every successful batch.
type CSVStore struct {
	dir    string
	mu     sync.Mutex
	tables map[string]*csvTable
}

// NewCSVStore creates the output directory tree if it doesn't exist.
func NewCSVStore(dir string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create csv store directory: %w", err)
	}
	return &CSVStore{dir: dir, tables: make(map[string]*csvTable)}, nil
}

func (s *CSVStore) path(table string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, table)
	return filepath.Join(s.dir, name+".csv")
}

// load returns the table, reading its file the first time it is seen.
func (s *CSVStore) load(table string) (*csvTable, error) {
	if t, ok := s.tables[table]; ok {
		return t, nil
	}
	t := &csvTable{}
	fp := s.path(table)

	f, err := os.Open(fp)
	if errors.Is(err, fs.ErrNotExist) {
		s.tables[table] = t
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file %s: %w", fp, err)
	}
	defer f.Close()

	lines, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv file %s: %w", fp, err)
	}
	if len(lines) == 0 {
		s.tables[table] = t
		return t, nil
	}
	headers := lines[0]
	for n, line := range lines[1:] {
		row := record.Destination{ID: line[0], Fields: record.Fields{}}
		for i := 1; i < len(headers) && i < len(line); i++ {
			if line[i] == "" {
				continue
			}
			var v record.Value
			if err := json.Unmarshal([]byte(line[i]), &v); err != nil {
				return nil, fmt.Errorf("%s line %d column %s: %w", fp, n+2, headers[i], err)
			}
			row.Fields[headers[i]] = v
		}
		t.rows = append(t.rows, row)
	}
	s.tables[table] = t
	return t, nil
}

// flush rewrites the table file through a temporary file and a rename.
func (s *CSVStore) flush(table string, rows []record.Destination) error {
	fp := s.path(table)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", fp, err)
	}
	defer os.Remove(tmp.Name())

	headers := extractHeaders(rows)
	w := csv.NewWriter(tmp)
	if err := w.Write(append([]string{"id"}, headers...)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write csv header for %s: %w", fp, err)
	}
	for _, row := range rows {
		line := make([]string, 1, len(headers)+1)
		line[0] = row.ID
		for _, h := range headers {
			v, ok := row.Fields[h]
			if !ok {
				line = append(line, "")
				continue
			}
			raw, err := json.Marshal(v)
			if err != nil {
				tmp.Close()
				return err
			}
			line = append(line, string(raw))
		}
		if err := w.Write(line); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush csv file %s: %w", fp, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fp)
}

// extractHeaders returns the sorted union of field names across rows.
func extractHeaders(rows []record.Destination) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for k := range row.Fields {
			seen[k] = struct{}{}
		}
	}
	headers := make([]string, 0, len(seen))
	for k := range seen {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	return headers
}

func (s *CSVStore) Select(ctx context.Context, q Query) ([]record.Destination, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.load(q.Table)
	if err != nil {
		return nil, err
	}
	var out []record.Destination
	for _, row := range t.rows {
		if p, ok := project(q, row); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *CSVStore) Create(ctx context.Context, table string, batch []record.Fields) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkBatch(len(batch)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.load(table)
	if err != nil {
		return nil, err
	}
	rows := cloneRows(t.rows)
	ids := make([]string, 0, len(batch))
	for _, f := range batch {
		id := "rec" + strings.ReplaceAll(uuid.NewString(), "-", "")
		rows = append(rows, record.Destination{ID: id, Fields: compact(f)})
		ids = append(ids, id)
	}
	if err := s.flush(table, rows); err != nil {
		return nil, err
	}
	t.rows = rows
	return ids, nil
}

func (s *CSVStore) Update(ctx context.Context, table string, batch []record.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkBatch(len(batch)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.load(table)
	if err != nil {
		return err
	}
	rows := cloneRows(t.rows)
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		index[row.ID] = i
	}
	for _, u := range batch {
		i, ok := index[u.ID]
		if !ok {
			return fmt.Errorf("%s/%s: %w", table, u.ID, ErrNotFound)
		}
		merge(rows[i].Fields, u.Fields)
	}
	if err := s.flush(table, rows); err != nil {
		return err
	}
	t.rows = rows
	return nil
}

func cloneRows(rows []record.Destination) []record.Destination {
	out := make([]record.Destination, len(rows))
	for i, row := range rows {
		out[i] = record.Destination{ID: row.ID, Fields: row.Fields.Clone()}
	}
	return out
}
